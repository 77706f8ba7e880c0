// Package store implements versioned, auditable storage for one configuration
// type, backed by a git working tree. Each document lives in one file
// <id>.json and every mutation produces exactly one commit, so the working
// tree always reflects the latest committed state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lei/config-hub/internal/gitrepo"
	"github.com/lei/config-hub/internal/models"
	"github.com/lei/config-hub/pkg/logger"
)

// Store is a git-backed store for a single configuration type. One Store
// instance serves all documents of that type; git subprocess calls are
// blocking, so callers keep Store operations off latency-sensitive paths.
type Store struct {
	configType string
	repo       *gitrepo.Repo
	logger     *logger.Logger
}

// Open opens or initializes the store for configType at path.
func Open(configType, path string, log *logger.Logger) (*Store, error) {
	repo, err := gitrepo.Open(path, log)
	if err != nil {
		return nil, &StorageError{Op: "open " + configType + " store", Err: err}
	}

	log.Info("config store opened", "config_type", configType, "path", repo.Path())

	return &Store{
		configType: configType,
		repo:       repo,
		logger:     log.With("config_type", configType),
	}, nil
}

// Type returns the configuration type this store holds.
func (s *Store) Type() string {
	return s.configType
}

// Create persists a new configuration and commits it. Fails with
// ErrAlreadyExists when the id is taken and TypeMismatchError when the
// document's type differs from the store's. Returns the commit hash.
func (s *Store) Create(ctx context.Context, cfg *models.Configuration) (string, error) {
	if err := s.check(cfg); err != nil {
		return "", err
	}
	if s.exists(cfg.ID) {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, cfg.ID)
	}

	now := time.Now().UTC()
	cfg.Metadata.CreatedAt = now
	cfg.Metadata.UpdatedAt = now

	message := fmt.Sprintf("Create %s %s", s.configType, cfg.ID)
	hash, err := s.write(ctx, cfg, message)
	if err != nil {
		return "", err
	}

	s.logger.Info("configuration created", "id", cfg.ID, "commit", hash)
	return hash, nil
}

// Get reads a configuration. An empty or "latest" version reads the current
// working tree file; an explicit ref reads the content at that commit and
// fails with ErrVersionNotFound when the ref or path does not resolve.
func (s *Store) Get(ctx context.Context, id, version string) (*models.Configuration, error) {
	if version == "" || version == models.VersionLatest {
		data, err := os.ReadFile(s.filePath(id))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return nil, &StorageError{Op: "read " + id, Err: err}
		}
		return s.decode(data)
	}

	data, err := s.repo.ShowFile(ctx, version, s.fileName(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %s", ErrVersionNotFound, id, version)
	}
	return s.decode(data)
}

// Update overwrites an existing configuration and commits. Fails with
// ErrNotFound when the document does not exist.
func (s *Store) Update(ctx context.Context, cfg *models.Configuration) (string, error) {
	message := fmt.Sprintf("Update %s %s", s.configType, cfg.ID)
	return s.update(ctx, cfg, message)
}

func (s *Store) update(ctx context.Context, cfg *models.Configuration, message string) (string, error) {
	if err := s.check(cfg); err != nil {
		return "", err
	}
	if !s.exists(cfg.ID) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, cfg.ID)
	}

	cfg.Metadata.UpdatedAt = time.Now().UTC()

	hash, err := s.write(ctx, cfg, message)
	if err != nil {
		return "", err
	}

	s.logger.Info("configuration updated", "id", cfg.ID, "commit", hash)
	return hash, nil
}

// Delete removes the configuration file and commits the removal. The prior
// history remains queryable through History and explicit-version Get.
func (s *Store) Delete(ctx context.Context, id string) (string, error) {
	if !s.exists(id) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	message := fmt.Sprintf("Delete %s %s", s.configType, id)
	hash, err := s.repo.RemoveFile(ctx, s.fileName(id), message, gitrepo.Identity{})
	if err != nil {
		return "", &StorageError{Op: "delete " + id, Err: err}
	}

	s.logger.Info("configuration deleted", "id", id, "commit", hash)
	return hash, nil
}

// List enumerates the current working tree. Entries that fail to parse or
// whose commit info cannot be read are skipped with a warning; the result is
// best-effort, never fatal.
func (s *Store) List(ctx context.Context) ([]*models.ConfigSummary, error) {
	entries, err := os.ReadDir(s.repo.Path())
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}

	summaries := make([]*models.ConfigSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.repo.Path(), entry.Name()))
		if err != nil {
			s.logger.Warn("list: skipping unreadable entry", "file", entry.Name(), "error", err)
			continue
		}
		cfg, err := s.decode(data)
		if err != nil {
			s.logger.Warn("list: skipping unparsable entry", "file", entry.Name(), "error", err)
			continue
		}

		summary := &models.ConfigSummary{Configuration: *cfg}
		if commit, err := s.repo.LastCommit(ctx, entry.Name()); err == nil {
			summary.CommitHash = commit.Hash
			summary.CommittedAt = commit.Time
		} else {
			s.logger.Warn("list: no commit info for entry", "file", entry.Name(), "error", err)
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// History returns the full commit log for a configuration, newest first, with
// the document materialized at each commit. Commits whose payload no longer
// parses are skipped. Fails with ErrNotFound when no commit touches the id.
func (s *Store) History(ctx context.Context, id string) ([]*models.ConfigVersion, error) {
	commits, err := s.repo.Log(ctx, s.fileName(id))
	if err != nil {
		return nil, &StorageError{Op: "history " + id, Err: err}
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	versions := make([]*models.ConfigVersion, 0, len(commits))
	for _, commit := range commits {
		data, err := s.repo.ShowFile(ctx, commit.Hash, s.fileName(id))
		if err != nil {
			// Deletion commits have no blob at this path.
			s.logger.Debug("history: no payload at commit", "id", id, "commit", commit.Hash)
			continue
		}
		cfg, err := s.decode(data)
		if err != nil {
			s.logger.Warn("history: skipping unparsable commit", "id", id, "commit", commit.Hash, "error", err)
			continue
		}

		versions = append(versions, &models.ConfigVersion{
			ConfigID:   id,
			Version:    cfg.Metadata.Version,
			CommitHash: commit.Hash,
			CreatedAt:  commit.Time,
			Author:     commit.Author,
			Message:    commit.Message,
			Config:     cfg,
		})
	}

	return versions, nil
}

// Diff returns the textual diff of a configuration between two refs. Fails
// with ErrVersionNotFound when either ref or path does not resolve.
func (s *Store) Diff(ctx context.Context, id, from, to string) (string, error) {
	for _, ref := range []string{from, to} {
		if _, err := s.repo.ShowFile(ctx, ref, s.fileName(id)); err != nil {
			return "", fmt.Errorf("%w: %s at %s", ErrVersionNotFound, id, ref)
		}
	}

	diff, err := s.repo.Diff(ctx, from, to, s.fileName(id))
	if err != nil {
		return "", &StorageError{Op: fmt.Sprintf("diff %s %s..%s", id, from, to), Err: err}
	}
	return diff, nil
}

// Archive flips the archived flag on through an ordinary update commit.
func (s *Store) Archive(ctx context.Context, id, author string) (string, error) {
	return s.setArchived(ctx, id, author, true)
}

// Unarchive flips the archived flag back off.
func (s *Store) Unarchive(ctx context.Context, id, author string) (string, error) {
	return s.setArchived(ctx, id, author, false)
}

func (s *Store) setArchived(ctx context.Context, id, author string, archived bool) (string, error) {
	cfg, err := s.Get(ctx, id, "")
	if err != nil {
		return "", err
	}

	cfg.Metadata.Archived = archived
	if author != "" {
		cfg.Metadata.Author = author
	}

	verb := "Archive"
	if !archived {
		verb = "Unarchive"
	}
	return s.update(ctx, cfg, fmt.Sprintf("%s %s %s", verb, s.configType, id))
}

// Clone copies the current version of id into a new independent record. The
// clone gets newID, parent_id set to the source, the source appended to its
// lineage, and fresh metadata with version "1.0.0". The source is untouched.
func (s *Store) Clone(ctx context.Context, id, newID, author string) (*models.Configuration, string, error) {
	src, err := s.Get(ctx, id, "")
	if err != nil {
		return nil, "", err
	}
	if s.exists(newID) {
		return nil, "", fmt.Errorf("%w: %s", ErrAlreadyExists, newID)
	}

	clone := &models.Configuration{
		ID:         newID,
		ConfigType: src.ConfigType,
		Content:    append(json.RawMessage(nil), src.Content...),
		ParentID:   id,
		Lineage:    append(append([]string(nil), src.Lineage...), id),
		Metadata: models.ConfigMetadata{
			Author:      author,
			Version:     "1.0.0",
			Description: fmt.Sprintf("Cloned from %s", id),
			Tags:        append([]string(nil), src.Metadata.Tags...),
		},
	}

	hash, err := s.Create(ctx, clone)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("configuration cloned", "source", id, "id", newID, "commit", hash)
	return clone, hash, nil
}

// LastCommitHash returns the hash of the most recent commit touching id,
// which pins the "latest" sentinel to a concrete version.
func (s *Store) LastCommitHash(ctx context.Context, id string) (string, error) {
	commit, err := s.repo.LastCommit(ctx, s.fileName(id))
	if err != nil {
		if errors.Is(err, gitrepo.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", &StorageError{Op: "resolve " + id, Err: err}
	}
	return commit.Hash, nil
}

// write marshals the document, writes the file, and commits it with the
// document author's identity. A commit failure after a successful write is
// surfaced without rolling the file back: the content already matches the
// desired state, so the next successful mutation commits it.
func (s *Store) write(ctx context.Context, cfg *models.Configuration, message string) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", &ValidationError{Reason: fmt.Sprintf("marshal %s: %v", cfg.ID, err)}
	}

	if err := os.WriteFile(s.filePath(cfg.ID), data, 0o644); err != nil {
		return "", &StorageError{Op: "write " + cfg.ID, Err: err}
	}

	identity := gitrepo.Identity{Name: cfg.Metadata.Author}
	hash, err := s.repo.CommitFile(ctx, s.fileName(cfg.ID), message, identity)
	if err != nil {
		s.logger.Error("commit failed after file write, working tree ahead of git",
			"id", cfg.ID, "error", err)
		return "", &StorageError{Op: "commit " + cfg.ID, Err: err}
	}
	return hash, nil
}

func (s *Store) check(cfg *models.Configuration) error {
	if cfg.ID == "" {
		return &ValidationError{Reason: "missing id"}
	}
	if cfg.ConfigType != s.configType {
		return &TypeMismatchError{Want: s.configType, Got: cfg.ConfigType}
	}
	return nil
}

func (s *Store) decode(data []byte) (*models.Configuration, error) {
	var cfg models.Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	return &cfg, nil
}

func (s *Store) fileName(id string) string {
	return id + ".json"
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.repo.Path(), s.fileName(id))
}

func (s *Store) exists(id string) bool {
	_, err := os.Stat(s.filePath(id))
	return err == nil
}
