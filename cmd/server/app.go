package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/opqueue/internal/config"
	"github.com/phrazzld/opqueue/internal/executor"
	"github.com/phrazzld/opqueue/internal/platform/postgres"
	"github.com/phrazzld/opqueue/internal/pressure"
	"github.com/phrazzld/opqueue/internal/queue"
)

// application holds the composed services. Everything is explicitly
// constructed and injected here; there are no package-level singletons,
// so tests can build independent instances.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	queue   *queue.Queue
	memory  *pressure.MemorySampler
	probe   *pressure.ProbeSampler
	cleanup []func()
}

// newApplication wires the queue with its durable store, pressure
// signals, and executor registry.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{config: cfg, logger: logger}

	app.memory = pressure.NewMemorySampler(cfg.Pressure.Memory, logger)
	app.memory.Start()
	app.cleanup = append(app.cleanup, app.memory.Stop)

	var quality pressure.QualitySource = pressure.StaticQuality(pressure.QualityFast)
	if cfg.Pressure.Probe.URL != "" {
		app.probe = pressure.NewProbeSampler(cfg.Pressure.Probe, logger)
		app.probe.Start()
		app.cleanup = append(app.cleanup, app.probe.Stop)
		quality = app.probe
	}

	registry := executor.NewRegistry(logger)
	registry.Register("database", executor.NewSQL(db, logger))

	app.queue = queue.New(cfg.Queue, registry, logger,
		queue.WithBlobStore(postgres.NewBlobStore(db)),
		queue.WithMemorySource(app.memory),
		queue.WithQualitySource(quality),
	)

	return app, nil
}

// Run starts the queue and serves HTTP until shutdown.
func (app *application) Run(ctx context.Context) error {
	app.queue.Start(ctx)
	defer app.queue.Stop()

	return app.startHTTPServer(ctx, app.setupRouter())
}

func (app *application) shutdownCleanup() {
	for _, fn := range app.cleanup {
		fn()
	}
}
