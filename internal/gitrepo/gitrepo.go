// Package gitrepo wraps the git command line for a single working tree.
// Every call shells out to a blocking git subprocess; callers must treat
// these as slow operations and keep them off latency-sensitive paths.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lei/config-hub/pkg/logger"
)

// ErrNotExist indicates a ref or path that does not resolve in the repository.
var ErrNotExist = errors.New("ref or path does not resolve")

// Identity is the author identity recorded on commits.
type Identity struct {
	Name  string
	Email string
}

// Commit is one entry of a file's history.
type Commit struct {
	Hash    string
	Author  string
	Email   string
	Time    time.Time
	Message string
}

// Repo is a git working tree. The path is resolved to an absolute path once
// at open time so later subprocess calls never depend on the process working
// directory.
type Repo struct {
	path   string
	logger *logger.Logger
}

var initIdentity = Identity{Name: "config-hub", Email: "confhub@localhost"}

// Open opens the repository at path, initializing it with an empty root
// commit when no repository exists yet. The directory is created if needed.
func Open(path string, log *logger.Logger) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path %q: %w", path, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create repo directory: %w", err)
	}

	r := &Repo{path: abs, logger: log}

	if _, err := os.Stat(filepath.Join(abs, ".git")); os.IsNotExist(err) {
		log.Info("initializing git repository", "path", abs)
		if _, err := r.run(context.Background(), "init", "--initial-branch=main"); err != nil {
			// Older git lacks --initial-branch
			if _, err := r.run(context.Background(), "init"); err != nil {
				return nil, fmt.Errorf("git init: %w", err)
			}
		}
	}

	// A repo without HEAD breaks log/show; give it an empty root commit.
	if _, err := r.run(context.Background(), "rev-parse", "--verify", "HEAD"); err != nil {
		args := append(identityArgs(initIdentity), "commit", "--allow-empty", "-m", "Initialize configuration store")
		if _, err := r.run(context.Background(), args...); err != nil {
			return nil, fmt.Errorf("initial commit: %w", err)
		}
	}

	return r, nil
}

// Path returns the absolute working tree path.
func (r *Repo) Path() string {
	return r.path
}

// CommitFile stages relPath and records one commit with the given identity,
// returning the new commit hash. The commit is created even when the staged
// content is unchanged, so every logical mutation maps to exactly one commit.
func (r *Repo) CommitFile(ctx context.Context, relPath, message string, author Identity) (string, error) {
	if _, err := r.run(ctx, "add", "--", relPath); err != nil {
		return "", err
	}
	return r.commit(ctx, message, author)
}

// RemoveFile removes relPath from the index and working tree and commits.
func (r *Repo) RemoveFile(ctx context.Context, relPath, message string, author Identity) (string, error) {
	if _, err := r.run(ctx, "rm", "--", relPath); err != nil {
		return "", err
	}
	return r.commit(ctx, message, author)
}

func (r *Repo) commit(ctx context.Context, message string, author Identity) (string, error) {
	args := append(identityArgs(author), "commit", "--allow-empty", "-m", message)
	if _, err := r.run(ctx, args...); err != nil {
		return "", err
	}
	hash, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// ShowFile returns the content of relPath at the given ref.
// Returns ErrNotExist when the ref or path does not resolve.
func (r *Repo) ShowFile(ctx context.Context, ref, relPath string) ([]byte, error) {
	out, err := r.run(ctx, "show", ref+":"+relPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %s", ErrNotExist, relPath, ref)
	}
	return []byte(out), nil
}

const logFormat = "%H%x1f%an%x1f%ae%x1f%aI%x1f%s%x1e"

// Log returns the commits touching relPath, newest first.
func (r *Repo) Log(ctx context.Context, relPath string) ([]Commit, error) {
	out, err := r.run(ctx, "log", "--pretty=format:"+logFormat, "--", relPath)
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

// LastCommit returns the most recent commit touching relPath, or ErrNotExist
// when no commit touches it.
func (r *Repo) LastCommit(ctx context.Context, relPath string) (*Commit, error) {
	out, err := r.run(ctx, "log", "-1", "--pretty=format:"+logFormat, "--", relPath)
	if err != nil {
		return nil, err
	}
	commits := parseLog(out)
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: %s has no commits", ErrNotExist, relPath)
	}
	return &commits[0], nil
}

// Diff returns the textual diff of relPath between two refs.
func (r *Repo) Diff(ctx context.Context, from, to, relPath string) (string, error) {
	out, err := r.run(ctx, "diff", from, to, "--", relPath)
	if err != nil {
		return "", fmt.Errorf("%w: diff %s..%s", ErrNotExist, from, to)
	}
	return out, nil
}

// Head returns the current HEAD commit hash.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// run executes git with the repository selected via -C. stderr is folded into
// the returned error so callers can log a single message.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", r.path}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("git: running command", "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		r.logger.Debug("git: command failed", "args", strings.Join(args, " "), "stderr", msg)
		return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}

	return stdout.String(), nil
}

// identityArgs sets the commit identity per invocation so no repository or
// global git config is required.
func identityArgs(id Identity) []string {
	name, email := id.Name, id.Email
	if name == "" {
		name = initIdentity.Name
	}
	if email == "" {
		email = initIdentity.Email
	}
	return []string{"-c", "user.name=" + name, "-c", "user.email=" + email}
}

func parseLog(out string) []Commit {
	var commits []Commit
	for _, record := range strings.Split(out, "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.Split(record, "\x1f")
		if len(fields) != 5 {
			continue
		}
		when, err := time.Parse(time.RFC3339, fields[3])
		if err != nil {
			continue
		}
		commits = append(commits, Commit{
			Hash:    fields[0],
			Author:  fields[1],
			Email:   fields[2],
			Time:    when,
			Message: fields[4],
		})
	}
	return commits
}
