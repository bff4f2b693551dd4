package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TimerScheduler runs jobs in-process with time.AfterFunc. Pending jobs are
// lost on restart; it is the fallback when the durable queue is unreachable
// and the backend used in dev mode.
type TimerScheduler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	base    context.Context
	timers  map[string]*time.Timer
	running map[string]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewTimerScheduler creates a TimerScheduler dispatching through d.
func NewTimerScheduler(d *Dispatcher, logger *slog.Logger) *TimerScheduler {
	return &TimerScheduler{
		dispatcher: d,
		logger:     logger,
		base:       context.Background(),
		timers:     make(map[string]*time.Timer),
		running:    make(map[string]struct{}),
	}
}

// Schedule arms a timer for job unless the same id is pending or running.
// An id that already finished may be scheduled again, as with the durable
// queue once a job is acked.
func (t *TimerScheduler) Schedule(_ context.Context, job Job, delay time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return context.Canceled
	}
	if _, pending := t.timers[job.ID]; pending {
		return nil
	}
	if _, busy := t.running[job.ID]; busy {
		return nil
	}
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().Add(delay)
	}
	t.wg.Add(1)
	t.timers[job.ID] = time.AfterFunc(delay, func() { t.fire(job) })
	return nil
}

func (t *TimerScheduler) fire(job Job) {
	defer t.wg.Done()
	t.mu.Lock()
	delete(t.timers, job.ID)
	t.running[job.ID] = struct{}{}
	ctx := t.base
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.running, job.ID)
		t.mu.Unlock()
	}()

	if ctx.Err() != nil {
		return
	}
	if err := t.dispatcher.Dispatch(ctx, job); err != nil {
		t.logger.ErrorContext(ctx, "scheduler: in-process job dead-lettered",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Pending returns the number of armed timers.
func (t *TimerScheduler) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Run binds job execution to ctx and blocks until it is cancelled, then stops
// pending timers and waits for running jobs.
func (t *TimerScheduler) Run(ctx context.Context) error {
	t.mu.Lock()
	t.base = ctx
	t.mu.Unlock()

	<-ctx.Done()
	t.Stop()
	return nil
}

// Stop cancels pending timers and waits for in-flight jobs.
func (t *TimerScheduler) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	for id, tm := range t.timers {
		if tm.Stop() {
			t.wg.Done()
		}
		delete(t.timers, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
