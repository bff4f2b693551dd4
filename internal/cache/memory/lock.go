package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// LockManager is a single-process domain.LockManager. Locks expire after
// their ttl like the Redis implementation.
type LockManager struct {
	mu   sync.Mutex
	held map[string]lockEntry
	now  func() time.Time
	seq  uint64
}

type lockEntry struct {
	token   uint64
	expires time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lockEntry), now: time.Now}
}

func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}
	m.seq++
	token := m.seq
	m.held[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.held[key]; ok && e.token == token {
				delete(m.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
