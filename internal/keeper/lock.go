package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// LocalLocks is an in-process domain.LockManager used when no redis is
// configured. Locks expire after their TTL like the redis implementation.
type LocalLocks struct {
	mu   sync.Mutex
	seq  uint64
	held map[string]localLock
	now  func() time.Time
}

type localLock struct {
	token   uint64
	expires time.Time
}

// NewLocalLocks creates an empty lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]localLock), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (l *LocalLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	token := l.seq
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LocalLocks)(nil)
