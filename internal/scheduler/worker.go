package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// WorkerConfig tunes queue draining.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
}

// Worker drains a durable Queue and dispatches jobs.
type Worker struct {
	queue      Queue
	dispatcher *Dispatcher
	cfg        WorkerConfig
	logger     *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(q Queue, d *Dispatcher, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Worker{queue: q, dispatcher: d, cfg: cfg, logger: logger}
}

// Run polls the queue until ctx is cancelled. Jobs in flight at shutdown are
// allowed to finish; unacked jobs become claimable again after their lease.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "scheduler: worker started",
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Duration("poll_interval", w.cfg.PollInterval),
	)

	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Concurrency)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			w.logger.Info("scheduler: worker stopped")
			return nil
		case <-ticker.C:
		}

		jobs, err := w.queue.Claim(ctx, time.Now(), w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.WarnContext(ctx, "scheduler: claim failed", slog.String("error", err.Error()))
			}
			continue
		}
		for _, job := range jobs {
			g.Go(func() error {
				w.process(ctx, job)
				return nil
			})
		}
	}
}

// RunOnce claims and processes one batch synchronously.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (int, error) {
	jobs, err := w.queue.Claim(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	if err := w.dispatcher.Dispatch(ctx, job); err != nil {
		if dlErr := w.queue.DeadLetter(ctx, job, err.Error()); dlErr != nil {
			w.logger.ErrorContext(ctx, "scheduler: dead-letter failed",
				slog.String("job_id", job.ID),
				slog.String("error", dlErr.Error()),
			)
		}
		return
	}
	if err := w.queue.Ack(ctx, job); err != nil {
		w.logger.WarnContext(ctx, "scheduler: ack failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
