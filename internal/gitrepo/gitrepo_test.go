package gitrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lei/config-hub/pkg/logger"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Open(t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return repo
}

func writeAndCommit(t *testing.T, repo *Repo, name, content, message string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(repo.Path(), name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := repo.CommitFile(context.Background(), name, message, Identity{Name: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("CommitFile() error = %v", err)
	}
	return hash
}

func TestOpenInitializesRepository(t *testing.T) {
	repo := newTestRepo(t)

	if _, err := os.Stat(filepath.Join(repo.Path(), ".git")); err != nil {
		t.Errorf("expected .git directory: %v", err)
	}

	// HEAD must resolve right away
	if _, err := repo.Head(context.Background()); err != nil {
		t.Errorf("Head() error = %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r1, err := Open(dir, logger.Nop())
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	writeAndCommit(t, r1, "a.json", "{}", "add a")

	r2, err := Open(dir, logger.Nop())
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}

	commits, err := r2.Log(context.Background(), "a.json")
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(commits) != 1 {
		t.Errorf("Log() = %d commits, want 1", len(commits))
	}
}

func TestCommitFileReturnsDistinctHashes(t *testing.T) {
	repo := newTestRepo(t)

	h1 := writeAndCommit(t, repo, "cfg.json", `{"v":1}`, "first")
	h2 := writeAndCommit(t, repo, "cfg.json", `{"v":2}`, "second")

	if h1 == h2 {
		t.Errorf("expected distinct commit hashes, both %s", h1)
	}
}

func TestShowFileAtRef(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	h1 := writeAndCommit(t, repo, "cfg.json", `{"v":1}`, "first")
	writeAndCommit(t, repo, "cfg.json", `{"v":2}`, "second")

	data, err := repo.ShowFile(ctx, h1, "cfg.json")
	if err != nil {
		t.Fatalf("ShowFile() error = %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("ShowFile() = %s, want {\"v\":1}", data)
	}
}

func TestShowFileUnknownRef(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.ShowFile(context.Background(), "deadbeef", "cfg.json")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("ShowFile() error = %v, want ErrNotExist", err)
	}
}

func TestLogNewestFirst(t *testing.T) {
	repo := newTestRepo(t)

	h1 := writeAndCommit(t, repo, "cfg.json", `{"v":1}`, "first")
	h2 := writeAndCommit(t, repo, "cfg.json", `{"v":2}`, "second")

	commits, err := repo.Log(context.Background(), "cfg.json")
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("Log() = %d commits, want 2", len(commits))
	}
	if commits[0].Hash != h2 || commits[1].Hash != h1 {
		t.Errorf("Log() order = [%s %s], want [%s %s]", commits[0].Hash, commits[1].Hash, h2, h1)
	}
	if commits[0].Author != "alice" {
		t.Errorf("Log() author = %s, want alice", commits[0].Author)
	}
	if commits[0].Message != "second" {
		t.Errorf("Log() message = %s, want second", commits[0].Message)
	}
}

func TestDiffContainsBothContents(t *testing.T) {
	repo := newTestRepo(t)

	h1 := writeAndCommit(t, repo, "cfg.json", `{"text":"hi"}`, "first")
	h2 := writeAndCommit(t, repo, "cfg.json", `{"text":"bye"}`, "second")

	diff, err := repo.Diff(context.Background(), h1, h2, "cfg.json")
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	for _, want := range []string{"hi", "bye"} {
		if !strings.Contains(diff, want) {
			t.Errorf("Diff() missing %q:\n%s", want, diff)
		}
	}
}

func TestRemoveFileKeepsHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	h1 := writeAndCommit(t, repo, "cfg.json", `{"v":1}`, "first")
	if _, err := repo.RemoveFile(ctx, "cfg.json", "remove", Identity{Name: "alice"}); err != nil {
		t.Fatalf("RemoveFile() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(repo.Path(), "cfg.json")); !os.IsNotExist(err) {
		t.Error("file should be gone from working tree")
	}

	// Prior content remains queryable
	data, err := repo.ShowFile(ctx, h1, "cfg.json")
	if err != nil {
		t.Fatalf("ShowFile() after removal error = %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("ShowFile() = %s, want {\"v\":1}", data)
	}

	commits, err := repo.Log(ctx, "cfg.json")
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(commits) != 2 {
		t.Errorf("Log() = %d commits, want 2", len(commits))
	}
}
