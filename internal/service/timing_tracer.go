package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type stageMark struct {
	stage string
	at    time.Time
}

type trace struct {
	mu    sync.Mutex
	start time.Time
	marks []stageMark
}

// TimingTracer keeps per-intent stage timestamps in memory and logs the
// stage durations once the intent reaches a terminal state. Traces that
// never complete are evicted after the TTL.
type TimingTracer struct {
	traces *ttlcache.Cache[string, *trace]
	now    func() time.Time
	logger *slog.Logger
}

// NewTimingTracer creates a tracer whose unfinished traces live for ttl.
func NewTimingTracer(ttl time.Duration, logger *slog.Logger) *TimingTracer {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TimingTracer{
		traces: ttlcache.New[string, *trace](
			ttlcache.WithTTL[string, *trace](ttl),
			ttlcache.WithDisableTouchOnHit[string, *trace](),
		),
		now:    time.Now,
		logger: logger.With(slog.String("component", "timing")),
	}
}

// Run evicts expired traces until ctx is done.
func (t *TimingTracer) Run(ctx context.Context) {
	go t.traces.Start()
	<-ctx.Done()
	t.traces.Stop()
}

// Mark records that intentID reached stage.
func (t *TimingTracer) Mark(intentID, stage string) {
	now := t.now()
	item, _ := t.traces.GetOrSet(intentID, &trace{start: now})
	tr := item.Value()
	tr.mu.Lock()
	tr.marks = append(tr.marks, stageMark{stage: stage, at: now})
	tr.mu.Unlock()
}

// Complete logs and drops the trace for intentID.
func (t *TimingTracer) Complete(ctx context.Context, intentID, final string) {
	item, ok := t.traces.GetAndDelete(intentID)
	if !ok {
		return
	}
	tr := item.Value()
	tr.mu.Lock()
	defer tr.mu.Unlock()

	attrs := []any{
		slog.String("intent_id", intentID),
		slog.String("final_state", final),
		slog.Duration("total", t.now().Sub(tr.start)),
	}
	prev := tr.start
	for _, m := range tr.marks {
		attrs = append(attrs, slog.Duration(m.stage, m.at.Sub(prev)))
		prev = m.at
	}
	t.logger.InfoContext(ctx, "intent timing", attrs...)
}

// Len returns the number of open traces.
func (t *TimingTracer) Len() int { return t.traces.Len() }
