package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lei/config-hub/internal/executor"
	"github.com/lei/config-hub/internal/models"
	"github.com/lei/config-hub/internal/registry"
	"github.com/lei/config-hub/internal/store"
	"github.com/lei/config-hub/pkg/logger"
)

// fakeExecutor implements executor.Executor with pluggable behavior
type fakeExecutor struct {
	submitFn func(ctx context.Context, req *executor.SubmitRequest) (*executor.SubmitResult, error)
	statusFn func(ctx context.Context, id string) (*executor.StatusReport, error)
	cancelFn func(ctx context.Context, id string) (bool, error)

	submits int
	cancels int
}

func (f *fakeExecutor) Submit(ctx context.Context, req *executor.SubmitRequest) (*executor.SubmitResult, error) {
	f.submits++
	if f.submitFn != nil {
		return f.submitFn(ctx, req)
	}
	return &executor.SubmitResult{JobID: "ext-1", Status: "submitted"}, nil
}

func (f *fakeExecutor) GetStatus(ctx context.Context, id string) (*executor.StatusReport, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, id)
	}
	return &executor.StatusReport{Status: "running"}, nil
}

func (f *fakeExecutor) Cancel(ctx context.Context, id string) (bool, error) {
	f.cancels++
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return true, nil
}

type testEnv struct {
	manager *Manager
	exec    *fakeExecutor
	store   *store.Store
}

// newTestEnv builds a manager over one real workorder store and a fake
// executor. Workers are never started, so background tasks only run when a
// test invokes Submit or Reconcile directly.
func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvOpts(t, Options{})
}

func newTestEnvOpts(t *testing.T, opts Options) *testEnv {
	t.Helper()

	st, err := store.Open("workorder", t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}

	jobStore, err := OpenStore(t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}

	reg := registry.New(map[string]registry.TypeInfo{
		"workorder": {Name: "Work Order", Repository: registry.RepositoryInfo{Path: "workorders"}},
	})

	exec := &fakeExecutor{}
	manager := NewManager(map[string]*store.Store{"workorder": st}, reg, jobStore, exec, opts, logger.Nop())

	return &testEnv{manager: manager, exec: exec, store: st}
}

func (e *testEnv) createWorkorder(t *testing.T, id string) {
	t.Helper()
	_, err := e.store.Create(context.Background(), &models.Configuration{
		ID:         id,
		ConfigType: "workorder",
		Content:    json.RawMessage(`{"template":{"text":"hi {name}"}}`),
		Metadata:   models.ConfigMetadata{Author: "alice", Version: "1.0.0"},
	})
	if err != nil {
		t.Fatalf("create workorder: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"no references", CreateRequest{}},
		{"unknown type", CreateRequest{
			Configurations: map[string]models.ConfigReference{
				"mystery": {ID: "x"},
			},
		}},
		{"missing id", CreateRequest{
			Configurations: map[string]models.ConfigReference{
				"workorder": {Version: "latest"},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.Create(ctx, tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Create() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateDefaultsVersionToLatest(t *testing.T) {
	env := newTestEnv(t)

	job, err := env.manager.Create(context.Background(), CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
		UserID: "alice",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if job.Status != models.JobCreated {
		t.Errorf("fresh job status = %s, want created", job.Status)
	}
	if job.SubmittedAt != nil || job.CompletedAt != nil {
		t.Error("fresh job must have nil submitted_at and completed_at")
	}
	if job.Configurations["workorder"].Version != models.VersionLatest {
		t.Errorf("version = %s, want latest", job.Configurations["workorder"].Version)
	}
	if job.ID == "" {
		t.Error("job id not allocated")
	}
}

func TestSubmitSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	var captured *executor.SubmitRequest
	env.exec.submitFn = func(ctx context.Context, req *executor.SubmitRequest) (*executor.SubmitResult, error) {
		captured = req
		return &executor.SubmitResult{JobID: "ext-1", Status: "submitted"}, nil
	}

	job, err := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1", Version: models.VersionLatest},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Before background work runs the job is still CREATED
	got, _ := env.manager.Get(ctx, job.ID)
	if got.Status != models.JobCreated {
		t.Fatalf("status before submit = %s, want created", got.Status)
	}

	env.manager.Submit(ctx, job.ID)

	got, _ = env.manager.Get(ctx, job.ID)
	if got.Status != models.JobSubmitted {
		t.Fatalf("status after submit = %s, want submitted", got.Status)
	}
	if got.ServiceJobID != "ext-1" {
		t.Errorf("service_job_id = %s, want ext-1", got.ServiceJobID)
	}
	if got.SubmittedAt == nil {
		t.Fatal("submitted_at not set")
	}

	// The "latest" sentinel is pinned to a concrete commit in the payload
	rc := captured.Configurations["workorder"]
	if rc.RequestedVersion != models.VersionLatest {
		t.Errorf("requested_version = %s, want latest", rc.RequestedVersion)
	}
	if rc.ResolvedVersion == "" || rc.ResolvedVersion == models.VersionLatest {
		t.Errorf("resolved_version = %q, want a concrete commit", rc.ResolvedVersion)
	}
	if string(rc.Content) != `{"template":{"text":"hi {name}"}}` {
		t.Errorf("payload content = %s", rc.Content)
	}

	// The job's stored references are untouched by resolution
	if got.Configurations["workorder"].Version != models.VersionLatest {
		t.Errorf("stored reference version = %s, want latest", got.Configurations["workorder"].Version)
	}
}

func TestSubmitObservedTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	job, _ := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
	})

	env.manager.Submit(ctx, job.ID)
	first, _ := env.manager.Get(ctx, job.ID)

	env.manager.Submit(ctx, job.ID)
	second, _ := env.manager.Get(ctx, job.ID)

	if env.exec.submits != 1 {
		t.Errorf("executor submit called %d times, want 1", env.exec.submits)
	}
	if !second.SubmittedAt.Equal(*first.SubmittedAt) {
		t.Errorf("submitted_at restamped: %v -> %v", first.SubmittedAt, second.SubmittedAt)
	}
}

func TestSubmitFailureMarksJobFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	env.exec.submitFn = func(ctx context.Context, req *executor.SubmitRequest) (*executor.SubmitResult, error) {
		return nil, errors.New("connection refused")
	}

	job, _ := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
	})
	env.manager.Submit(ctx, job.ID)

	got, _ := env.manager.Get(ctx, job.ID)
	if got.Status != models.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Result == nil || got.Result.Error == "" {
		t.Error("result.error not captured")
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set on failure")
	}
}

func TestSubmitUnresolvableReferenceMarksJobFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Reference points at a configuration that was never created
	job, _ := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "ghost"},
		},
	})
	env.manager.Submit(ctx, job.ID)

	got, _ := env.manager.Get(ctx, job.ID)
	if got.Status != models.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if env.exec.submits != 0 {
		t.Errorf("executor called %d times for unresolvable job, want 0", env.exec.submits)
	}
}

func TestReconcileCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	env.exec.statusFn = func(ctx context.Context, id string) (*executor.StatusReport, error) {
		return &executor.StatusReport{
			Status:    "completed",
			Output:    json.RawMessage(`{"answer":42}`),
			Artifacts: []string{"s3://bucket/result.json"},
			Metrics:   map[string]float64{"latency_ms": 120},
		}, nil
	}

	job, _ := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
	})
	env.manager.Submit(ctx, job.ID)
	env.manager.Reconcile(ctx, job.ID)

	got, _ := env.manager.Get(ctx, job.ID)
	if got.Status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if got.Result == nil {
		t.Fatal("result not populated")
	}
	if string(got.Result.Output) != `{"answer":42}` {
		t.Errorf("result.output = %s", got.Result.Output)
	}
	if len(got.Result.Artifacts) != 1 || got.Result.Metrics["latency_ms"] != 120 {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestReconcileErrorIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	job, _ := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
	})
	env.manager.Submit(ctx, job.ID)

	env.exec.statusFn = func(ctx context.Context, id string) (*executor.StatusReport, error) {
		return nil, errors.New("service unavailable")
	}
	env.manager.Reconcile(ctx, job.ID)

	// Caller observes stale local status, not an error
	got, err := env.manager.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.JobSubmitted {
		t.Errorf("status = %s, want submitted (stale)", got.Status)
	}
}

func TestReconcileTerminalJobIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	env.exec.statusFn = func(ctx context.Context, id string) (*executor.StatusReport, error) {
		return &executor.StatusReport{Status: "completed"}, nil
	}

	job, _ := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
	})
	env.manager.Submit(ctx, job.ID)
	env.manager.Reconcile(ctx, job.ID)

	// A later external "running" must not resurrect a terminal job
	env.exec.statusFn = func(ctx context.Context, id string) (*executor.StatusReport, error) {
		return &executor.StatusReport{Status: "running"}, nil
	}
	env.manager.Reconcile(ctx, job.ID)

	got, _ := env.manager.Get(ctx, job.ID)
	if got.Status != models.JobCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	t.Run("from created", func(t *testing.T) {
		job, _ := env.manager.Create(ctx, CreateRequest{
			Configurations: map[string]models.ConfigReference{
				"workorder": {ID: "wo-1"},
			},
		})

		cancelled, err := env.manager.Cancel(ctx, job.ID)
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if cancelled.Status != models.JobCancelled {
			t.Errorf("status = %s, want cancelled", cancelled.Status)
		}
		if cancelled.CompletedAt != nil {
			t.Error("cancellation must not stamp completed_at")
		}
		// No service id yet: the external service must not be called
		if env.exec.cancels != 0 {
			t.Errorf("external cancel called %d times, want 0", env.exec.cancels)
		}
	})

	t.Run("from submitted with failing external cancel", func(t *testing.T) {
		env.exec.cancelFn = func(ctx context.Context, id string) (bool, error) {
			return false, errors.New("timeout")
		}

		job, _ := env.manager.Create(ctx, CreateRequest{
			Configurations: map[string]models.ConfigReference{
				"workorder": {ID: "wo-1"},
			},
		})
		env.manager.Submit(ctx, job.ID)

		cancelled, err := env.manager.Cancel(ctx, job.ID)
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if cancelled.Status != models.JobCancelled {
			t.Errorf("status = %s, want cancelled despite external failure", cancelled.Status)
		}
		if env.exec.cancels != 1 {
			t.Errorf("external cancel called %d times, want 1", env.exec.cancels)
		}
	})

	t.Run("terminal job rejected", func(t *testing.T) {
		job, _ := env.manager.Create(ctx, CreateRequest{
			Configurations: map[string]models.ConfigReference{
				"workorder": {ID: "wo-1"},
			},
		})
		if _, err := env.manager.Cancel(ctx, job.ID); err != nil {
			t.Fatal(err)
		}

		_, err := env.manager.Cancel(ctx, job.ID)
		if !errors.Is(err, ErrNotCancellable) {
			t.Errorf("Cancel() on terminal job error = %v, want ErrNotCancellable", err)
		}
	})
}

func TestMapExternalStatus(t *testing.T) {
	tests := []struct {
		external string
		want     models.JobStatus
	}{
		{"submitted", models.JobSubmitted},
		{"queued", models.JobSubmitted},
		{"pending", models.JobSubmitted},
		{"running", models.JobRunning},
		{"completed", models.JobCompleted},
		{"failed", models.JobFailed},
		{"cancelled", models.JobCancelled},
		{"nonsense", ""},
	}

	for _, tt := range tests {
		t.Run(tt.external, func(t *testing.T) {
			if got := mapExternalStatus(tt.external); got != tt.want {
				t.Errorf("mapExternalStatus(%s) = %s, want %s", tt.external, got, tt.want)
			}
		})
	}
}

func TestSweepRederivesDroppedSubmitTask(t *testing.T) {
	env := newTestEnvOpts(t, Options{QueueSize: 1})
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	// Occupy the only queue slot so Create's submit task is dropped.
	env.manager.tasks <- task{kind: taskReconcile, jobID: "occupant"}

	job, err := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	<-env.manager.tasks
	if len(env.manager.tasks) != 0 {
		t.Fatal("queue should be empty after draining the occupant")
	}

	env.manager.sweep()

	select {
	case tk := <-env.manager.tasks:
		if tk.kind != taskSubmit || tk.jobID != job.ID {
			t.Fatalf("sweep enqueued kind=%d job=%s, want submit for %s", tk.kind, tk.jobID, job.ID)
		}
	default:
		t.Fatal("sweep did not re-derive a submit task for the created job")
	}

	// The re-derived task carries the job to SUBMITTED
	env.manager.Submit(ctx, job.ID)
	got, err := env.manager.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.JobSubmitted {
		t.Errorf("status after recovered submit = %s, want submitted", got.Status)
	}
}

func TestSweepSurvivesScanFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createWorkorder(t, "wo-1")

	job, err := env.manager.Create(ctx, CreateRequest{
		Configurations: map[string]models.ConfigReference{
			"workorder": {ID: "wo-1"},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	env.manager.Submit(ctx, job.ID)
	for len(env.manager.tasks) > 0 {
		<-env.manager.tasks
	}

	// Break the scan: the job directory disappears out from under the store.
	dir := env.manager.store.dir
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	env.manager.sweep()
	if len(env.manager.tasks) != 0 {
		t.Errorf("sweep over a broken store enqueued %d tasks, want 0", len(env.manager.tasks))
	}

	// Once the store is back the next tick picks the job up again.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	record, _ := json.MarshalIndent(struct {
		ID     string           `json:"id"`
		Status models.JobStatus `json:"status"`
	}{job.ID, models.JobSubmitted}, "", "  ")
	if err := os.WriteFile(filepath.Join(dir, job.ID+".json"), record, 0o644); err != nil {
		t.Fatal(err)
	}

	env.manager.sweep()

	select {
	case tk := <-env.manager.tasks:
		if tk.kind != taskReconcile || tk.jobID != job.ID {
			t.Fatalf("sweep enqueued kind=%d job=%s, want reconcile for %s", tk.kind, tk.jobID, job.ID)
		}
	default:
		t.Fatal("sweep did not enqueue a reconcile after the store recovered")
	}
}
