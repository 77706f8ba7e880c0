// Package executor abstracts the external execution service that jobs are
// submitted to.
package executor

import (
	"context"
	"encoding/json"
	"time"
)

// Executor is the contract consumed by the job lifecycle. Implementations own
// their transport and timeouts; the lifecycle treats every failure here as a
// soft failure.
type Executor interface {
	// Submit sends one payload per configuration type and returns the
	// service-assigned job id.
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error)

	// GetStatus queries the service for the current status of a job.
	GetStatus(ctx context.Context, serviceJobID string) (*StatusReport, error)

	// Cancel asks the service to cancel a job. The bool reports whether the
	// service accepted the cancellation.
	Cancel(ctx context.Context, serviceJobID string) (bool, error)
}

// SubmitRequest bundles the resolved configurations for one job.
type SubmitRequest struct {
	JobID          string                    `json:"job_id"`
	Configurations map[string]ResolvedConfig `json:"configurations"`
	RunOptions     json.RawMessage           `json:"run_options,omitempty"`
}

// ResolvedConfig is a configuration snapshot pinned at submission time.
// ResolvedVersion is always concrete: a "latest" reference is resolved to the
// store's current commit before submission.
type ResolvedConfig struct {
	ID               string          `json:"id"`
	ConfigType       string          `json:"config_type"`
	RequestedVersion string          `json:"requested_version"`
	ResolvedVersion  string          `json:"resolved_version"`
	Content          json.RawMessage `json:"content"`
}

// SubmitResult is the service's response to a submission.
type SubmitResult struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusReport is the service's view of a job. Status uses the service
// vocabulary: submitted, running, completed, failed, cancelled.
type StatusReport struct {
	Status    string
	Progress  float64
	Output    json.RawMessage
	Artifacts []string
	Metrics   map[string]float64
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
