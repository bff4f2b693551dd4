package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

const (
	subscriberBuffer = 128
	streamMaxLen     = 10000
)

// SignalBus is the in-process domain.SignalBus used in dev mode. Channel
// patterns follow path.Match globbing, which covers the "intents:*" form the
// hub subscribes with. Streams are capped slices with sequence IDs.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	streams map[string]*stream
}

type subscription struct {
	pattern string
	ch      chan []byte
}

type stream struct {
	seq     uint64
	entries []domain.StreamMessage
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[*subscription]struct{}),
		streams: make(map[string]*stream),
	}
}

// Publish delivers payload to every matching subscriber. A subscriber whose
// buffer is full misses the message rather than blocking the publisher.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns payloads published on channels matching pattern. The
// returned channel closes when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, domain.ValidationError("BAD_PATTERN", "invalid channel pattern "+strconv.Quote(pattern))
	}
	s := &subscription{pattern: pattern, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend adds payload to stream, dropping the oldest entries past
// streamMaxLen.
func (b *SignalBus) StreamAppend(_ context.Context, name string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[name]
	if !ok {
		st = &stream{}
		b.streams[name] = st
	}
	st.seq++
	st.entries = append(st.entries, domain.StreamMessage{
		ID:      strconv.FormatUint(st.seq, 10),
		Payload: append([]byte(nil), payload...),
	})
	if over := len(st.entries) - streamMaxLen; over > 0 {
		st.entries = append(st.entries[:0:0], st.entries[over:]...)
	}
	return nil
}

// StreamRead returns up to count entries after lastID. "0" or "" reads from
// the beginning.
func (b *SignalBus) StreamRead(_ context.Context, name string, lastID string, count int) ([]domain.StreamMessage, error) {
	var after uint64
	if lastID != "" && lastID != "0" {
		n, err := strconv.ParseUint(lastID, 10, 64)
		if err != nil {
			return nil, domain.ValidationError("BAD_STREAM_ID", "invalid stream id "+strconv.Quote(lastID))
		}
		after = n
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.streams[name]
	if !ok {
		return nil, nil
	}
	var out []domain.StreamMessage
	for _, m := range st.entries {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
