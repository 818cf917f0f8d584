package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/metrics"
)

// DefaultCacheCooldown は一時ストア障害後にキャッシュを使わない期間
const DefaultCacheCooldown = 5 * time.Second

// TieredHoldStore は永続ストアと一時ストアを合成した hold.Repository
//
// 書き込みは永続ストアが先で、一時ストアへはコミット後に反映する。
// 読み取りは一時ストアを先に参照するが、ロック下の判定に使う
// GetByIDForUpdate / ListActiveBySeatIDs / ListExpirable は常に永続ストアを参照する。
// 一時ストアの障害は警告ログとメトリクスのみで、呼び出し元には返さない。
type TieredHoldStore struct {
	durable  hold.Repository
	cache    hold.Cache
	clock    clock.Clock
	metrics  *metrics.Metrics
	cooldown time.Duration

	mu             sync.Mutex
	suspendedUntil time.Time
}

var _ hold.Repository = (*TieredHoldStore)(nil)

// NewTieredHoldStore は cache が nil なら永続ストアのみで動作する
func NewTieredHoldStore(durable hold.Repository, cache hold.Cache, clk clock.Clock, m *metrics.Metrics) *TieredHoldStore {
	if clk == nil {
		clk = clock.Real{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &TieredHoldStore{
		durable:  durable,
		cache:    cache,
		clock:    clk,
		metrics:  m,
		cooldown: DefaultCacheCooldown,
	}
}

// SetCooldown は障害後にキャッシュを使わない期間を変更する
func (s *TieredHoldStore) SetCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldown = d
}

func (s *TieredHoldStore) Create(ctx context.Context, h *hold.Hold) error {
	if err := s.durable.Create(ctx, h); err != nil {
		return err
	}
	s.mirrorAfterCommit(ctx, h)
	return nil
}

func (s *TieredHoldStore) GetByID(ctx context.Context, id string) (*hold.Hold, error) {
	if s.cacheUsable() {
		h, err := s.cache.Get(ctx, id)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, hold.ErrCacheMiss) {
			s.degrade(ctx, "get", err)
		}
	}

	// 一時ストアへの反映は書き込み時のみ
	return s.durable.GetByID(ctx, id)
}

// GetDurable は一時ストアを経由せず永続ストアから取得する
func (s *TieredHoldStore) GetDurable(ctx context.Context, id string) (*hold.Hold, error) {
	return s.durable.GetByID(ctx, id)
}

func (s *TieredHoldStore) GetByIDForUpdate(ctx context.Context, id string) (*hold.Hold, error) {
	return s.durable.GetByIDForUpdate(ctx, id)
}

func (s *TieredHoldStore) GetByIdempotencyKey(ctx context.Context, key string) (*hold.Hold, error) {
	return s.durable.GetByIdempotencyKey(ctx, key)
}

func (s *TieredHoldStore) ListActiveBySeatIDs(ctx context.Context, seatIDs []string) ([]*hold.Hold, error) {
	return s.durable.ListActiveBySeatIDs(ctx, seatIDs)
}

func (s *TieredHoldStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*hold.Hold, error) {
	return s.durable.ListExpirable(ctx, now, limit)
}

func (s *TieredHoldStore) Update(ctx context.Context, h *hold.Hold, from hold.Status) error {
	if err := s.durable.Update(ctx, h, from); err != nil {
		return err
	}
	s.mirrorAfterCommit(ctx, h)
	return nil
}

// mirrorAfterCommit はコミット後に一時ストアへ反映する
// 有効な仮押さえは実効期限までのTTLで保存し、それ以外は削除する
// 古い値を残さないよう、クールダウン中も書き込みは試みる
func (s *TieredHoldStore) mirrorAfterCommit(ctx context.Context, h *hold.Hold) {
	if s.cache == nil {
		return
	}
	snapshot := h.Clone()
	transaction.AfterCommit(ctx, func(ctx context.Context) {
		ttl := snapshot.EffectiveDeadline().Sub(s.clock.Now())
		if snapshot.IsActive() && ttl > 0 {
			if err := s.cache.Set(ctx, snapshot, ttl); err != nil {
				s.degrade(ctx, "set", err)
			}
			return
		}
		if err := s.cache.Delete(ctx, snapshot.ID); err != nil {
			s.degrade(ctx, "delete", err)
		}
	})
}

func (s *TieredHoldStore) cacheUsable() bool {
	if s.cache == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.clock.Now().Before(s.suspendedUntil)
}

func (s *TieredHoldStore) degrade(ctx context.Context, op string, err error) {
	s.metrics.HoldStoreFallbackTotal.WithLabelValues(op).Inc()

	s.mu.Lock()
	s.suspendedUntil = s.clock.Now().Add(s.cooldown)
	s.mu.Unlock()

	logger.FromContext(ctx).Warn("一時ストアが利用できません、永続ストアのみで継続します",
		zap.String("operation", op), zap.Error(err))
}
