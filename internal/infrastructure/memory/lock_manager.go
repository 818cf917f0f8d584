package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/lock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
)

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// LockManager はプロセス内の排他ロック
// TTL を過ぎたロックは次の取得時に奪える
type LockManager struct {
	clock clock.Clock

	mu    sync.Mutex
	locks map[string]lockEntry
}

var _ lock.Manager = (*LockManager)(nil)

func NewLockManager(clk clock.Clock) *LockManager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &LockManager{clock: clk, locks: make(map[string]lockEntry)}
}

func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if e, ok := m.locks[key]; ok && now.Before(e.expiresAt) {
		return nil, lock.ErrNotAcquired
	}
	token := uuid.NewString()
	m.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{manager: m, key: key, token: token}, nil
}

type memoryLock struct {
	manager *LockManager
	key     string
	token   string
}

func (l *memoryLock) Key() string {
	return l.key
}

func (l *memoryLock) Release(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()

	e, ok := l.manager.locks[l.key]
	if !ok || e.token != l.token {
		return lock.ErrNotOwned
	}
	delete(l.manager.locks, l.key)
	return nil
}
