package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
)

type idempotencyEntry struct {
	value     string
	expiresAt time.Time
}

// IdempotencyStore は冪等性キーの記録をTTL付きで保持する
// 期限切れエントリは Get 時と janitor で削除する
type IdempotencyStore struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func NewIdempotencyStore(clk clock.Clock) *IdempotencyStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &IdempotencyStore{clock: clk, entries: make(map[string]idempotencyEntry)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set は期限内のエントリがあれば上書きしない
func (s *IdempotencyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return nil
	}
	s.entries[key] = idempotencyEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Len は保持しているエントリ数を返す
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evict は期限切れのエントリを削除し、削除件数を返す
func (s *IdempotencyStore) Evict() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}
