// Package confhub provides an embeddable configuration hub library that can be used from other Go applications.
//
// # Overview
//
// The hub persists typed configuration documents as git-committed JSON files
// with full history, diff, clone and archive semantics, and tracks jobs that
// bundle version-pinned configuration references submitted to an external
// execution service.
//
// # Basic Usage
//
// Create a hub programmatically:
//
//	cfg := &confhub.Config{
//		Storage: confhub.StorageConfig{
//			Root: "/var/lib/confhub",
//		},
//		Types: map[string]registry.TypeInfo{
//			"workorder": {Name: "Work Order", Repository: registry.RepositoryInfo{Path: "workorders"}},
//		},
//		Runner: confhub.RunnerConfig{
//			URL:   "http://localhost:9090",
//			Token: "secret-token-here",
//		},
//		Logging: confhub.LoggingConfig{
//			Level:  "info",
//			Format: "json",
//		},
//	}
//
//	app, err := confhub.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	// Runs the submission/reconciliation workers until shutdown
//	if err := app.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Direct Store Access
//
// Work with a configuration store directly:
//
//	st, _ := app.Store("workorder")
//
//	commit, err := st.Create(ctx, &models.Configuration{
//		ID:         "wo-1",
//		ConfigType: "workorder",
//		Content:    json.RawMessage(`{"template":{"text":"hi {name}"}}`),
//		Metadata:   models.ConfigMetadata{Author: "alice", Version: "1.0.0"},
//	})
//
// # Job Lifecycle
//
// Create a job referencing stored configurations; submission runs on the
// background workers and the status converges through reconciliation:
//
//	job, err := app.Jobs().Create(ctx, jobs.CreateRequest{
//		Configurations: map[string]models.ConfigReference{
//			"workorder": {ID: "wo-1", Version: "latest"},
//		},
//	})
//
//	// later
//	job, err = app.Jobs().Get(ctx, job.ID)
//	fmt.Println(job.Status)
package confhub
