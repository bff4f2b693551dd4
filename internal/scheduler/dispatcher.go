package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler executes one job. Returning an error marks the job failed; the
// handler schedules its own follow-ups.
type Handler func(ctx context.Context, job Job) error

// Dispatcher routes jobs to handlers by kind. Handlers are registered after
// the services that own them are built.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	observe  Observer
	logger   *slog.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Kind]Handler),
		logger:   logger,
	}
}

// Register binds h to kind, replacing any previous handler.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// SetObserver installs a job outcome callback.
func (d *Dispatcher) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observe = o
}

// Dispatch runs the handler for job.Kind. A panicking handler is reported as
// a failed job.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (err error) {
	d.mu.RLock()
	h, ok := d.handlers[job.Kind]
	observe := d.observe
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scheduler: no handler for job kind %q", job.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", job.ID, r)
		}
		if observe != nil {
			outcome := "ok"
			if err != nil {
				outcome = "failed"
			}
			observe(job.Kind, outcome)
		}
		if err != nil {
			d.logger.WarnContext(ctx, "scheduler: job failed",
				slog.String("job_id", job.ID),
				slog.String("intent_id", job.IntentID),
				slog.Int("attempt", job.Attempt),
				slog.String("error", err.Error()),
			)
		}
	}()
	return h(ctx, job)
}
