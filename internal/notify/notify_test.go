package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type collector struct {
	mu   sync.Mutex
	got  []domain.Notification
	fail bool
}

func (c *collector) Name() string { return "collector" }

func (c *collector) Handle(_ context.Context, n domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	if c.fail {
		return errors.New("boom")
	}
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type panicker struct{}

func (panicker) Name() string { return "panicker" }
func (panicker) Handle(context.Context, domain.Notification) error { panic("nope") }

func TestDispatcherDeliversToAllSubscribers(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Buffer: 8, Workers: 1}, testLogger())
	failing := &collector{fail: true}
	ok := &collector{}
	d.Subscribe(failing)
	d.Subscribe(panicker{})
	d.Subscribe(ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Emit(ctx, "i1", domain.EventStateChanged, map[string]any{"to": "FILLED"})
	d.Emit(ctx, "i2", domain.EventIntentCreated, nil)

	require.Eventually(t, func() bool { return ok.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, failing.len())
	cancel()
	<-done
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Buffer: 1}, testLogger())
	drops := 0
	d.OnDrop(func() { drops++ })

	d.Emit(context.Background(), "i1", "x", nil)
	d.Emit(context.Background(), "i2", "x", nil)
	d.Emit(context.Background(), "i3", "x", nil)

	assert.Equal(t, int64(2), d.Dropped())
	assert.Equal(t, 2, drops)
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, ch string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[ch] = append(b.published[ch], p)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, s string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[s] = append(b.streams[s], p)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusPublisher(t *testing.T) {
	bus := newMemBus()
	p := NewBusPublisher(bus)

	require.NoError(t, p.Handle(context.Background(), domain.Notification{IntentID: "i1", Kind: domain.EventStateChanged}))
	msgs := bus.published[domain.IntentChannel("i1")]
	require.Len(t, msgs, 1)

	var n domain.Notification
	require.NoError(t, json.Unmarshal(msgs[0], &n))
	assert.Equal(t, domain.EventStateChanged, n.Kind)
}

type recordingSender struct {
	alerts []Alert
}

func (s *recordingSender) Send(_ context.Context, a Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func TestAlerter(t *testing.T) {
	bus := newMemBus()
	sender := &recordingSender{}
	a := NewAlerter([]Sender{sender}, bus, []string{AlertFailed, AlertPollExhausted}, testLogger())
	ctx := context.Background()

	failed := domain.Notification{IntentID: "i1", Kind: domain.EventStateChanged,
		Payload: map[string]any{"from": "RELAY_EXECUTING", "to": "FAILED", "errorCode": "RELAY_FAILED"}}
	retry := domain.Notification{IntentID: "i2", Kind: domain.EventStateChanged,
		Payload: map[string]any{"to": "NEEDS_RETRY"}}
	filled := domain.Notification{IntentID: "i3", Kind: domain.EventStateChanged,
		Payload: map[string]any{"to": "FILLED"}}
	exhausted := domain.Notification{IntentID: "i4", Kind: domain.EventOrderPollExhausted,
		Payload: map[string]any{"attempts": 30, "state": "ORDER_PLACED"}}

	for _, n := range []domain.Notification{failed, retry, filled, exhausted} {
		require.NoError(t, a.Handle(ctx, n))
	}

	require.Len(t, sender.alerts, 2)
	assert.Equal(t, SeverityCritical, sender.alerts[0].Severity)
	assert.Contains(t, sender.alerts[0].Body, "RELAY_FAILED")
	assert.Contains(t, sender.alerts[1].Body, "30 attempts")
	assert.Len(t, bus.streams[domain.AlertStream], 2)
}

func TestSenders(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		bodies = append(bodies, m)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	alert := Alert{Title: "Intent failed", Body: "details", Severity: SeverityCritical}

	tg := NewTelegramSender("tok", "chat")
	tg.apiBase = srv.URL
	require.NoError(t, tg.Send(context.Background(), alert))
	assert.Equal(t, "chat", bodies[0]["chat_id"])
	assert.Contains(t, bodies[0]["text"], "[CRITICAL] Intent failed")

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(context.Background(), alert))
	embeds := bodies[1]["embeds"].([]any)
	assert.Equal(t, float64(0xE74C3C), embeds[0].(map[string]any)["color"])

	bad := NewDiscordSender(srv.URL + "/fail")
	err := bad.Send(context.Background(), alert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
