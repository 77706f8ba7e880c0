package models

import (
	"encoding/json"
	"time"
)

// ConfigMetadata describes a configuration document. Version is caller-supplied
// and free-form; it is not derived from the commit history.
type ConfigMetadata struct {
	Author      string    `json:"author"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Version     string    `json:"version"`
}

// Configuration is a typed JSON document tracked in a git-backed store.
// Lineage is the ordered chain of ancestor ids produced by successive clones.
type Configuration struct {
	ID         string          `json:"id"`
	ConfigType string          `json:"config_type"`
	Content    json.RawMessage `json:"content"`
	Metadata   ConfigMetadata  `json:"metadata"`
	ParentID   string          `json:"parent_id,omitempty"`
	Lineage    []string        `json:"lineage,omitempty"`
}

// ConfigVersion is an immutable snapshot of a configuration at one commit.
// CreatedAt and Author come from the commit, not the document metadata.
type ConfigVersion struct {
	ConfigID   string         `json:"config_id"`
	Version    string         `json:"version"`
	CommitHash string         `json:"commit_hash"`
	CreatedAt  time.Time      `json:"created_at"`
	Author     string         `json:"author"`
	Message    string         `json:"message"`
	Config     *Configuration `json:"config"`
}

// ConfigSummary is a list entry: the current document plus the most recent
// commit that touched it.
type ConfigSummary struct {
	Configuration
	CommitHash  string    `json:"commit_hash"`
	CommittedAt time.Time `json:"committed_at"`
}

// VersionLatest is the sentinel version that refers to the current working
// tree state of a configuration.
const VersionLatest = "latest"

// ConfigReference pins a configuration into a job at creation time.
// Version may be VersionLatest or an explicit commit ref.
type ConfigReference struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobCreated   JobStatus = "created"
	JobSubmitted JobStatus = "submitted"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Cancellation is reachable from every non-terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobCancelled {
		return true
	}
	switch s {
	case JobCreated:
		return next == JobSubmitted || next == JobFailed
	case JobSubmitted:
		return next == JobRunning || next == JobCompleted || next == JobFailed
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// Job is a request to execute a tuple of configuration references against an
// external execution service, with a local status mirror. Configurations is
// write-once: it is never modified after the job is created.
type Job struct {
	ID             string                     `json:"id"`
	Configurations map[string]ConfigReference `json:"configurations"`
	UserID         string                     `json:"user_id,omitempty"`
	RunOptions     json.RawMessage            `json:"configuration,omitempty"`
	Status         JobStatus                  `json:"status"`
	ServiceJobID   string                     `json:"service_job_id,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	SubmittedAt    *time.Time                 `json:"submitted_at,omitempty"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
	Result         *JobResult                 `json:"result,omitempty"`
}

// JobResult carries the outcome reported by the execution service.
type JobResult struct {
	Output    json.RawMessage    `json:"output,omitempty"`
	Artifacts []string           `json:"artifacts,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Transition moves the job to next if the state machine allows it, stamping
// UpdatedAt and the set-exactly-once timestamps: SubmittedAt on first entry to
// SUBMITTED, CompletedAt on first entry to COMPLETED or FAILED. Cancellation
// does not stamp CompletedAt. Returns false and leaves the job untouched if
// the transition is not allowed.
func (j *Job) Transition(next JobStatus, now time.Time) bool {
	if !j.Status.CanTransitionTo(next) {
		return false
	}
	j.Status = next
	j.UpdatedAt = now
	switch next {
	case JobSubmitted:
		if j.SubmittedAt == nil {
			t := now
			j.SubmittedAt = &t
		}
	case JobCompleted, JobFailed:
		if j.CompletedAt == nil {
			t := now
			j.CompletedAt = &t
		}
	}
	return true
}
