// Package jobs tracks execution requests bundling immutable configuration
// references and reconciles their status against the external execution
// service.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lei/config-hub/internal/models"
	"github.com/lei/config-hub/pkg/logger"
)

var (
	// ErrJobNotFound indicates the requested job doesn't exist
	ErrJobNotFound = errors.New("job not found")

	// ErrNotCancellable indicates a cancel request against a terminal job
	ErrNotCancellable = errors.New("job is not cancellable")
)

// ValidationError indicates a malformed job request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job request: %s", e.Reason)
}

// Filter narrows List and Count results. Zero fields match everything.
// When both ConfigType and ConfigID are set, a job matches only if its
// reference for that type points at that id.
type Filter struct {
	ConfigType string
	ConfigID   string
	Status     models.JobStatus
	UserID     string
	Limit      int
	Offset     int
}

// Store persists jobs as one JSON file per job id in a flat directory.
// Read-modify-write is unsynchronized; concurrent writers to the same id
// are last-write-wins.
type Store struct {
	dir    string
	logger *logger.Logger
}

// OpenStore opens the job directory, creating it if needed.
func OpenStore(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}
	return &Store{dir: dir, logger: log}, nil
}

// Create persists a new job record.
func (s *Store) Create(job *models.Job) error {
	return s.write(job)
}

// Get reads a job by id.
func (s *Store) Get(id string) (*models.Job, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", id, err)
	}
	return &job, nil
}

// Update overwrites an existing job record.
func (s *Store) Update(job *models.Job) error {
	if _, err := os.Stat(s.path(job.ID)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return s.write(job)
}

// Delete removes a job record.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// List scans all records, filters, sorts by created_at descending and
// paginates. Unparsable records are skipped with a warning.
func (s *Store) List(f Filter) ([]*models.Job, error) {
	jobs, err := s.scan(f)
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(jobs) {
			return []*models.Job{}, nil
		}
		jobs = jobs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(jobs) {
		jobs = jobs[:f.Limit]
	}

	return jobs, nil
}

// Count returns the number of jobs matching the filter, ignoring pagination.
func (s *Store) Count(f Filter) (int, error) {
	jobs, err := s.scan(f)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func (s *Store) scan(f Filter) ([]*models.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan job directory: %w", err)
	}

	jobs := make([]*models.Job, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("job list: skipping unreadable record", "file", entry.Name(), "error", err)
			continue
		}
		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			s.logger.Warn("job list: skipping unparsable record", "file", entry.Name(), "error", err)
			continue
		}

		if matches(&job, f) {
			jobs = append(jobs, &job)
		}
	}

	return jobs, nil
}

func matches(job *models.Job, f Filter) bool {
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.UserID != "" && job.UserID != f.UserID {
		return false
	}
	if f.ConfigType != "" {
		ref, ok := job.Configurations[f.ConfigType]
		if !ok {
			return false
		}
		if f.ConfigID != "" && ref.ID != f.ConfigID {
			return false
		}
	}
	return true
}

func (s *Store) write(job *models.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := os.WriteFile(s.path(job.ID), data, 0o644); err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
