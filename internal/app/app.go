// Package app orchestrates the main components of the triage service: the
// HTTP server, the worker executor pool, and the retention sweeper.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/yushao2/sre-agent/internal/config"
	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/server"
	"github.com/yushao2/sre-agent/internal/worker"
)

// App holds the main application components.
type App struct {
	cfg      *config.Config
	server   *server.Server
	executor *worker.Executor
	broker   core.Broker
	store    core.ResultStore
	logger   *slog.Logger

	sweepCancel context.CancelFunc
}

// NewApp assembles the application from its wired components.
func NewApp(
	cfg *config.Config,
	srv *server.Server,
	executor *worker.Executor,
	broker core.Broker,
	store core.ResultStore,
	logger *slog.Logger,
) *App {
	return &App{
		cfg:      cfg,
		server:   srv,
		executor: executor,
		broker:   broker,
		store:    store,
		logger:   logger,
	}
}

// Start launches the worker pool and the retention sweeper, then runs the
// HTTP server. It blocks until the server stops.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting sre-agent",
		"server_port", a.cfg.Server.Port,
		"worker_slots", a.cfg.Worker.Slots,
		"max_attempts", a.cfg.Worker.MaxAttempts,
	)

	a.executor.Start(ctx)

	sweepCtx, cancel := context.WithCancel(ctx)
	a.sweepCancel = cancel
	go a.runRetentionSweeper(sweepCtx)

	return a.server.Start()
}

// Stop shuts the application down cleanly: the HTTP server first to stop new
// submissions, then the worker pool so in-flight tasks settle, then the
// broker connection.
func (a *App) Stop() error {
	a.logger.Info("shutting down sre-agent services")

	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
	}

	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	a.executor.Stop()

	if err := a.broker.Close(); err != nil {
		a.logger.Error("error closing broker connection", "error", err)
	}

	if serverErr != nil {
		return serverErr
	}
	a.logger.Info("sre-agent stopped successfully")
	return nil
}

// runRetentionSweeper periodically deletes terminal task records older than
// the retention TTL. Pending and running records are never expired here;
// they always finish or get redelivered.
func (a *App) runRetentionSweeper(ctx context.Context) {
	if a.cfg.Retention.TTL <= 0 || a.cfg.Retention.SweepInterval <= 0 {
		a.logger.Info("retention sweeper disabled")
		return
	}

	ticker := time.NewTicker(a.cfg.Retention.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-a.cfg.Retention.TTL)
			removed, err := a.store.DeleteExpired(ctx, cutoff)
			if err != nil {
				a.logger.Error("retention sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				a.logger.Info("retention sweep removed expired task records", "removed", removed)
			}
		}
	}
}
