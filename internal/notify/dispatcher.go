// Package notify fans intent notifications out to subscribers after the
// state change that produced them has committed. Delivery is best effort:
// a slow or failing subscriber never blocks or fails the intent lifecycle.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// Subscriber consumes notifications.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, n domain.Notification) error
}

// DispatcherConfig tunes the delivery queue.
type DispatcherConfig struct {
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
}

// Dispatcher is a non-blocking domain.EventSink. Emit enqueues; workers
// started by Run deliver to every subscriber in registration order.
type Dispatcher struct {
	queue   chan domain.Notification
	cfg     DispatcherConfig
	dropped atomic.Int64
	onDrop  func()
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.RWMutex
	subs []Subscriber
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:  make(chan domain.Notification, cfg.Buffer),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Subscribe adds s to the delivery list.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, s)
}

// OnDrop installs a callback run for every notification dropped on a full
// queue.
func (d *Dispatcher) OnDrop(fn func()) { d.onDrop = fn }

// Emit implements domain.EventSink. It never blocks.
func (d *Dispatcher) Emit(_ context.Context, intentID, kind string, payload map[string]any) {
	n := domain.Notification{
		IntentID:  intentID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: d.now(),
	}
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
		if d.onDrop != nil {
			d.onDrop()
		}
		d.logger.Warn("notification dropped",
			slog.String("intent_id", intentID),
			slog.String("kind", kind),
		)
	}
}

// Dropped returns the number of notifications lost to a full queue.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers notifications until ctx is done, then drains what is queued.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-d.queue:
					d.deliver(ctx, n)
				}
			}
		}()
	}
	wg.Wait()

	// Use a fresh context so subscribers can finish the backlog.
	drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.HandlerTimeout)
	defer cancel()
	for {
		select {
		case n := <-d.queue:
			d.deliver(drainCtx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	for _, s := range subs {
		hctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		err := safeHandle(hctx, s, n)
		cancel()
		if err != nil {
			d.logger.WarnContext(ctx, "subscriber failed",
				slog.String("subscriber", s.Name()),
				slog.String("intent_id", n.IntentID),
				slog.String("kind", n.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
}

func safeHandle(ctx context.Context, s Subscriber, n domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Handle(ctx, n)
}

var _ domain.EventSink = (*Dispatcher)(nil)
