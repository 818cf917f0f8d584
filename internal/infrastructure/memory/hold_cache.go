package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
)

type cachedHold struct {
	hold      *hold.Hold
	expiresAt time.Time
}

// HoldCache はTTL付きのインメモリ仮押さえキャッシュ
type HoldCache struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]cachedHold
}

var _ hold.Cache = (*HoldCache)(nil)

func NewHoldCache(clk clock.Clock) *HoldCache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HoldCache{clock: clk, entries: make(map[string]cachedHold)}
}

func (c *HoldCache) Get(ctx context.Context, id string) (*hold.Hold, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return nil, hold.ErrCacheMiss
	}
	return e.hold.Clone(), nil
}

func (c *HoldCache) Set(ctx context.Context, h *hold.Hold, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.entries, h.ID)
		return nil
	}
	c.entries[h.ID] = cachedHold{hold: h.Clone(), expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

func (c *HoldCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	return nil
}

// Evict は期限切れのエントリを削除し、削除件数を返す
func (c *HoldCache) Evict() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}
