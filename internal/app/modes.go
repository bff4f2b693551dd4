package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/crosstrade/internal/blob/s3"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
	"github.com/alanyoungcy/crosstrade/internal/server"
	"github.com/alanyoungcy/crosstrade/internal/server/handler"
	"github.com/alanyoungcy/crosstrade/internal/server/ws"
)

// APIMode serves the HTTP API, the relay webhook and the WebSocket hub. Jobs
// are enqueued for a worker; only jobs that fall back to the in-process
// timer run here.
func (a *App) APIMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, rt)
	a.startHTTPServer(ctx, g, deps, rt, true)
	return g.Wait()
}

// WorkerMode drains the durable job queue and runs archival. It serves only
// health and metrics over HTTP.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	if deps.Queue == nil {
		return errors.New("app: worker mode requires scheduler.backend = \"redis\"")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, rt)
	a.startWorker(ctx, g, deps, rt)
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, rt, false)
	return g.Wait()
}

// FullMode runs the API and the worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, rt)
	if deps.Queue != nil {
		a.startWorker(ctx, g, deps, rt)
	}
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, rt, true)
	return g.Wait()
}

// DevMode is FullMode over in-memory stores with the in-process scheduler.
func (a *App) DevMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting dev mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, rt)
	a.startHTTPServer(ctx, g, deps, rt, true)
	return g.Wait()
}

// startBackground starts the goroutines every mode needs: notification
// delivery, timing trace eviction, the in-process timer and queue depth
// sampling.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	g.Go(func() error {
		rt.events.Run(ctx)
		return nil
	})
	g.Go(func() error {
		rt.tracer.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return rt.timer.Run(ctx)
	})
	if deps.QueueDepth != nil {
		g.Go(func() error {
			rt.metrics.SampleQueueDepth(ctx, deps.QueueDepth, 15*time.Second, a.logger)
			return nil
		})
	}
}

func (a *App) startWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	w := scheduler.NewWorker(deps.Queue, rt.jobs, scheduler.WorkerConfig{
		PollInterval: a.cfg.Scheduler.PollInterval.Duration,
		BatchSize:    a.cfg.Scheduler.BatchSize,
		Concurrency:  a.cfg.Scheduler.Concurrency,
	}, a.logger)
	g.Go(func() error {
		return w.Run(ctx)
	})
}

// startArchiver schedules daily export of terminal intents when archival is
// enabled and object storage is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.BlobWriter == nil {
		return
	}
	archiveCfg := s3blob.DefaultArchiverConfig()
	archiveCfg.MaxCatchUp = a.cfg.Archive.MaxCatchUp
	archiver := s3blob.NewArchiver(
		deps.IntentStore, deps.BlobWriter, deps.BlobReader, deps.AuditStore,
		archiveCfg, a.logger,
	)
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	g.Go(func() error {
		archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
		return nil
	})
}

// startHTTPServer adds the HTTP server and its shutdown watcher to g. With
// public false only health and metrics are registered.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime, public bool) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Pingers, a.logger),
		Metrics: rt.metrics.Handler(),
	}

	var hub *ws.Hub
	if public {
		handlers.Intents = handler.NewIntentHandler(rt.intents, a.logger)
		handlers.Webhooks = handler.NewWebhookHandler(rt.reconciler, a.logger)

		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      time.Now().UTC(),
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Error("HTTP server shutdown", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
