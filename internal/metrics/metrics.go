// Package metrics holds the Prometheus collectors of the intent engine and
// the adapters that feed them from service, resilience and scheduler hooks.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/resilience"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

const namespace = "crosstrade"

// Metrics owns a registry and every collector registered on it.
type Metrics struct {
	reg *prometheus.Registry

	transitions   *prometheus.CounterVec
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
	jobs          *prometheus.CounterVec
	notifyDropped prometheus.Counter
	queueDepth    *prometheus.GaugeVec
}

// New registers all collectors plus the Go runtime and process collectors
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_transitions_total",
			Help:      "Committed intent state transitions.",
		}, []string{"from", "to"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Protected calls to bridge and exchange by outcome.",
		}, []string{"policy", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of protected calls including retries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"policy"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Executed scheduler jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications discarded because the dispatcher buffer was full.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_depth",
			Help:      "Jobs in the durable queue by state.",
		}, []string{"state"}),
	}
	m.reg.MustRegister(
		m.transitions,
		m.calls,
		m.callDuration,
		m.breakerState,
		m.jobs,
		m.notifyDropped,
		m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveTransition counts a committed state change.
func (m *Metrics) ObserveTransition(from, to domain.IntentState) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveCall records a protected external call.
func (m *Metrics) ObserveCall(policy, outcome string, took time.Duration) {
	m.calls.WithLabelValues(policy, outcome).Inc()
	m.callDuration.WithLabelValues(policy).Observe(took.Seconds())
}

// BreakerOption reports breaker state changes to the gauge.
func (m *Metrics) BreakerOption() resilience.BreakerOption {
	return resilience.OnStateChange(func(name string, _, to resilience.State) {
		m.breakerState.WithLabelValues(name).Set(float64(to))
	})
}

// ObserveJob counts a job outcome.
func (m *Metrics) ObserveJob(kind scheduler.Kind, outcome string) {
	m.jobs.WithLabelValues(string(kind), outcome).Inc()
}

// NotificationDropped counts one discarded notification.
func (m *Metrics) NotificationDropped() { m.notifyDropped.Inc() }

// DepthFunc reports queued and in-flight job counts.
type DepthFunc func(ctx context.Context) (due, inflight int64, err error)

// SampleQueueDepth polls depth every interval until ctx is done.
func (m *Metrics) SampleQueueDepth(ctx context.Context, depth DepthFunc, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.sampleOnce(ctx, depth, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Metrics) sampleOnce(ctx context.Context, depth DepthFunc, logger *slog.Logger) {
	due, inflight, err := depth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnContext(ctx, "queue depth sample failed", slog.String("error", err.Error()))
		}
		return
	}
	m.queueDepth.WithLabelValues("due").Set(float64(due))
	m.queueDepth.WithLabelValues("inflight").Set(float64(inflight))
}
