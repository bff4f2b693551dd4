package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Fallback schedules on primary and, when that fails, on secondary.
type Fallback struct {
	primary   Scheduler
	secondary Scheduler
	logger    *slog.Logger
}

// NewFallback composes two schedulers.
func NewFallback(primary, secondary Scheduler, logger *slog.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Schedule implements Scheduler.
func (f *Fallback) Schedule(ctx context.Context, job Job, delay time.Duration) error {
	err := f.primary.Schedule(ctx, job, delay)
	if err == nil {
		return nil
	}
	f.logger.WarnContext(ctx, "scheduler: durable queue unavailable, using in-process timer",
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
	)
	return f.secondary.Schedule(ctx, job, delay)
}
