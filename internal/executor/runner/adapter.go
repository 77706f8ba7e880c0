// Package runner implements the Executor interface against the HTTP API of
// the external execution service.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/lei/config-hub/internal/executor"
	"github.com/lei/config-hub/pkg/logger"
)

// Adapter implements the Executor interface for the runner service
type Adapter struct {
	client *Client
	logger *logger.Logger
}

// Config contains runner service connection settings
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// NewAdapter creates a new runner adapter
func NewAdapter(cfg *Config, log *logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("runner URL is required")
	}

	return &Adapter{
		client: NewClient(cfg.URL, cfg.Token, cfg.Timeout, log),
		logger: log,
	}, nil
}

// Submit implements Executor.Submit
func (a *Adapter) Submit(ctx context.Context, req *executor.SubmitRequest) (*executor.SubmitResult, error) {
	a.logger.Debug("runner: submitting job",
		"job_id", req.JobID,
		"config_count", len(req.Configurations))

	job, err := a.client.SubmitJob(ctx, req)
	if err != nil {
		a.logger.Error("runner: failed to submit job",
			"job_id", req.JobID,
			"error", err)
		return nil, fmt.Errorf("submit job: %w", err)
	}

	a.logger.Info("runner: job submitted",
		"job_id", req.JobID,
		"service_job_id", job.JobID,
		"status", job.Status)

	return &executor.SubmitResult{
		JobID:   job.JobID,
		Status:  job.Status,
		Message: job.Message,
	}, nil
}

// GetStatus implements Executor.GetStatus
func (a *Adapter) GetStatus(ctx context.Context, serviceJobID string) (*executor.StatusReport, error) {
	a.logger.Debug("runner: getting job status", "service_job_id", serviceJobID)

	job, err := a.client.GetJob(ctx, serviceJobID)
	if err != nil {
		a.logger.Error("runner: failed to get job status",
			"service_job_id", serviceJobID,
			"error", err)
		return nil, err
	}

	a.logger.Debug("runner: job status retrieved",
		"service_job_id", serviceJobID,
		"status", job.Status)

	return mapJobToReport(job), nil
}

// Cancel implements Executor.Cancel
func (a *Adapter) Cancel(ctx context.Context, serviceJobID string) (bool, error) {
	a.logger.Info("runner: cancelling job", "service_job_id", serviceJobID)

	ok, err := a.client.CancelJob(ctx, serviceJobID)
	if err != nil {
		a.logger.Error("runner: failed to cancel job",
			"service_job_id", serviceJobID,
			"error", err)
		return false, err
	}

	a.logger.Info("runner: job cancelled", "service_job_id", serviceJobID)
	return ok, nil
}
