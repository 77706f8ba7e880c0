package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lei/config-hub/internal/executor"
	"github.com/lei/config-hub/internal/models"
	"github.com/lei/config-hub/internal/registry"
	"github.com/lei/config-hub/internal/store"
	"github.com/lei/config-hub/pkg/logger"
)

type taskKind int

const (
	taskSubmit taskKind = iota
	taskReconcile
)

type task struct {
	kind  taskKind
	jobID string
}

// Options tunes the background worker pool.
type Options struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
}

// CreateRequest is the caller-facing job creation payload.
type CreateRequest struct {
	Configurations map[string]models.ConfigReference
	UserID         string
	RunOptions     json.RawMessage
}

// Manager orchestrates the job lifecycle: creation, resolution of
// configuration references, submission to the execution service, status
// reconciliation and cancellation. Submission and reconciliation run on an
// explicit worker pool fed by a bounded task queue; when the queue is full a
// task is dropped rather than blocking the caller.
type Manager struct {
	stores   map[string]*store.Store
	registry *registry.Registry
	store    *Store
	exec     executor.Executor
	logger   *logger.Logger
	tasks    chan task
	opts     Options
}

// NewManager creates a new job lifecycle manager.
func NewManager(stores map[string]*store.Store, reg *registry.Registry, jobStore *Store, exec executor.Executor, opts Options, log *logger.Logger) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	return &Manager{
		stores:   stores,
		registry: reg,
		store:    jobStore,
		exec:     exec,
		logger:   log,
		tasks:    make(chan task, opts.QueueSize),
		opts:     opts,
	}
}

// Run starts the worker pool and the periodic reconciliation sweep, blocking
// until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("jobs: starting workers",
		"workers", m.opts.Workers,
		"queue_size", m.opts.QueueSize)

	done := make(chan struct{})
	for i := 0; i < m.opts.Workers; i++ {
		go m.worker(ctx, done)
	}

	if m.opts.SweepInterval > 0 {
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.drain(done)
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}

	<-ctx.Done()
	m.drain(done)
}

func (m *Manager) drain(done chan struct{}) {
	for i := 0; i < m.opts.Workers; i++ {
		<-done
	}
	m.logger.Info("jobs: workers stopped")
}

func (m *Manager) worker(ctx context.Context, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-m.tasks:
			switch t.kind {
			case taskSubmit:
				m.Submit(ctx, t.jobID)
			case taskReconcile:
				m.Reconcile(ctx, t.jobID)
			}
		}
	}
}

// sweep re-derives dropped tasks from persisted job state: a submit for every
// job still in CREATED and a reconcile for every job awaiting an external
// status. A failed scan for one status is logged and skipped so it cannot
// starve the others.
func (m *Manager) sweep() {
	scans := []struct {
		status models.JobStatus
		kind   taskKind
	}{
		{models.JobCreated, taskSubmit},
		{models.JobSubmitted, taskReconcile},
		{models.JobRunning, taskReconcile},
	}
	for _, scan := range scans {
		jobs, err := m.store.List(Filter{Status: scan.status})
		if err != nil {
			m.logger.Warn("jobs: sweep scan failed", "status", scan.status, "error", err)
			continue
		}
		for _, job := range jobs {
			m.enqueue(task{kind: scan.kind, jobID: job.ID})
		}
	}
}

// enqueue adds a task without blocking; a full queue drops the task, which is
// safe because both task kinds are re-derivable from stored job state.
func (m *Manager) enqueue(t task) {
	select {
	case m.tasks <- t:
	default:
		m.logger.Debug("jobs: task queue full, dropping task", "job_id", t.jobID)
	}
}

// Create validates the references, allocates an id and persists the job in
// CREATED, then enqueues its submission. The Configurations map is never
// modified after this point.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Job, error) {
	if len(req.Configurations) == 0 {
		return nil, &ValidationError{Reason: "at least one configuration reference is required"}
	}

	refs := make(map[string]models.ConfigReference, len(req.Configurations))
	for typ, ref := range req.Configurations {
		if err := m.registry.Validate(typ); err != nil {
			return nil, &ValidationError{Reason: err.Error()}
		}
		if ref.ID == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("reference for %s missing id", typ)}
		}
		if ref.Version == "" {
			ref.Version = models.VersionLatest
		}
		refs[typ] = ref
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.NewString(),
		Configurations: refs,
		UserID:         req.UserID,
		RunOptions:     req.RunOptions,
		Status:         models.JobCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.Create(job); err != nil {
		return nil, err
	}

	m.logger.Info("jobs: job created", "job_id", job.ID, "config_count", len(refs))
	m.enqueue(task{kind: taskSubmit, jobID: job.ID})

	return job, nil
}

// Get reads a job. When the local status is SUBMITTED or RUNNING a reconcile
// task is enqueued; the caller receives the current local state either way.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	if job.Status == models.JobSubmitted || job.Status == models.JobRunning {
		m.enqueue(task{kind: taskReconcile, jobID: job.ID})
	}

	return job, nil
}

// List returns jobs matching the filter, newest first.
func (m *Manager) List(f Filter) ([]*models.Job, error) {
	return m.store.List(f)
}

// Count returns the number of jobs matching the filter.
func (m *Manager) Count(f Filter) (int, error) {
	return m.store.Count(f)
}

// Delete removes a job record.
func (m *Manager) Delete(id string) error {
	return m.store.Delete(id)
}

// Cancel cancels a job. Legal only from CREATED, SUBMITTED or RUNNING; a
// terminal job is rejected with ErrNotCancellable. When the job has already
// been handed to the execution service the external cancel is best-effort:
// its failure is logged, and the local status becomes CANCELLED regardless.
func (m *Manager) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, job.Status)
	}

	if job.ServiceJobID != "" && (job.Status == models.JobSubmitted || job.Status == models.JobRunning) {
		if _, err := m.exec.Cancel(ctx, job.ServiceJobID); err != nil {
			m.logger.Warn("jobs: external cancel failed",
				"job_id", job.ID,
				"service_job_id", job.ServiceJobID,
				"error", err)
		}
	}

	job.Transition(models.JobCancelled, time.Now().UTC())
	if err := m.store.Update(job); err != nil {
		return nil, err
	}

	m.logger.Info("jobs: job cancelled", "job_id", job.ID)
	return job, nil
}

// Submit resolves every configuration reference through its owning store,
// builds the submission payload and hands it to the execution service. Any
// failure on this path is encoded into the job status and result rather than
// returned: the job moves to FAILED with result.error set. A job that has
// already left CREATED is skipped, so observing a submission twice cannot
// restamp submitted_at.
func (m *Manager) Submit(ctx context.Context, id string) {
	job, err := m.store.Get(id)
	if err != nil {
		m.logger.Warn("jobs: submit: job load failed", "job_id", id, "error", err)
		return
	}
	if job.Status != models.JobCreated {
		m.logger.Debug("jobs: submit skipped, job already in flight",
			"job_id", id, "status", job.Status)
		return
	}

	req, err := m.resolve(ctx, job)
	if err != nil {
		m.logger.Error("jobs: reference resolution failed", "job_id", id, "error", err)
		m.fail(job, err)
		return
	}

	res, err := m.exec.Submit(ctx, req)
	if err != nil {
		m.logger.Error("jobs: submission failed", "job_id", id, "error", err)
		m.fail(job, err)
		return
	}

	job.ServiceJobID = res.JobID
	job.Transition(models.JobSubmitted, time.Now().UTC())
	if err := m.store.Update(job); err != nil {
		m.logger.Error("jobs: persist after submit failed", "job_id", id, "error", err)
		return
	}

	m.logger.Info("jobs: job submitted",
		"job_id", job.ID,
		"service_job_id", job.ServiceJobID)
}

// resolve materializes every reference at submission time. A "latest"
// reference is pinned to the store's current head commit for that file, so
// the service always receives a concrete resolved_version.
func (m *Manager) resolve(ctx context.Context, job *models.Job) (*executor.SubmitRequest, error) {
	configs := make(map[string]executor.ResolvedConfig, len(job.Configurations))
	for typ, ref := range job.Configurations {
		st, ok := m.stores[typ]
		if !ok {
			return nil, fmt.Errorf("no store for configuration type %q", typ)
		}

		version := ref.Version
		if version == models.VersionLatest {
			version = ""
		}
		cfg, err := st.Get(ctx, ref.ID, version)
		if err != nil {
			return nil, fmt.Errorf("resolve %s/%s@%s: %w", typ, ref.ID, ref.Version, err)
		}

		resolved := ref.Version
		if ref.Version == models.VersionLatest {
			resolved, err = st.LastCommitHash(ctx, ref.ID)
			if err != nil {
				return nil, fmt.Errorf("pin %s/%s: %w", typ, ref.ID, err)
			}
		}

		configs[typ] = executor.ResolvedConfig{
			ID:               ref.ID,
			ConfigType:       typ,
			RequestedVersion: ref.Version,
			ResolvedVersion:  resolved,
			Content:          cfg.Content,
		}
	}

	return &executor.SubmitRequest{
		JobID:          job.ID,
		Configurations: configs,
		RunOptions:     job.RunOptions,
	}, nil
}

// Reconcile queries the execution service and merges the reported status into
// the local record. Errors are logged and swallowed; callers observe stale
// local state rather than a failure.
func (m *Manager) Reconcile(ctx context.Context, id string) {
	job, err := m.store.Get(id)
	if err != nil {
		m.logger.Warn("jobs: reconcile: job load failed", "job_id", id, "error", err)
		return
	}
	if job.Status != models.JobSubmitted && job.Status != models.JobRunning {
		return
	}
	if job.ServiceJobID == "" {
		m.logger.Warn("jobs: reconcile: job has no service id", "job_id", id)
		return
	}

	report, err := m.exec.GetStatus(ctx, job.ServiceJobID)
	if err != nil {
		m.logger.Warn("jobs: reconcile: status check failed",
			"job_id", id,
			"service_job_id", job.ServiceJobID,
			"error", err)
		return
	}

	next := mapExternalStatus(report.Status)
	if next == "" {
		m.logger.Warn("jobs: reconcile: unknown external status",
			"job_id", id, "external_status", report.Status)
		return
	}
	if next == job.Status {
		return
	}
	if !job.Transition(next, time.Now().UTC()) {
		m.logger.Warn("jobs: reconcile: transition not allowed",
			"job_id", id, "from", job.Status, "to", next)
		return
	}

	if next == models.JobCompleted || next == models.JobFailed {
		job.Result = &models.JobResult{
			Output:    report.Output,
			Artifacts: report.Artifacts,
			Metrics:   report.Metrics,
			Error:     report.Error,
		}
	}

	if err := m.store.Update(job); err != nil {
		m.logger.Warn("jobs: reconcile: persist failed", "job_id", id, "error", err)
		return
	}

	m.logger.Info("jobs: job reconciled", "job_id", id, "status", job.Status)
}

// fail moves a job to FAILED capturing the error in the result.
func (m *Manager) fail(job *models.Job, cause error) {
	job.Transition(models.JobFailed, time.Now().UTC())
	job.Result = &models.JobResult{Error: cause.Error()}
	if err := m.store.Update(job); err != nil {
		m.logger.Error("jobs: persist after failure failed", "job_id", job.ID, "error", err)
	}
}

// mapExternalStatus converts the execution service's status vocabulary to
// the local state machine. Unknown statuses map to the empty string.
func mapExternalStatus(external string) models.JobStatus {
	switch external {
	case "submitted", "queued", "pending":
		return models.JobSubmitted
	case "running":
		return models.JobRunning
	case "completed":
		return models.JobCompleted
	case "failed":
		return models.JobFailed
	case "cancelled":
		return models.JobCancelled
	default:
		return ""
	}
}
