package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/lock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/metrics"
)

// SeatLockKey は座席ロックのキーを返す
func SeatLockKey(seatID string) string {
	return "lock:seat:" + seatID
}

// DefaultLockCeiling はロック上限TTLが指定されない場合の値
const DefaultLockCeiling = 30 * time.Second

// LockCoordinator は座席集合の排他ロックを正規順序で取得する
type LockCoordinator struct {
	locks   lock.Manager
	ceiling time.Duration
	metrics *metrics.Metrics
}

// NewLockCoordinator は ceiling が 0 以下なら DefaultLockCeiling を使う
func NewLockCoordinator(locks lock.Manager, ceiling time.Duration, m *metrics.Metrics) *LockCoordinator {
	if ceiling <= 0 {
		ceiling = DefaultLockCeiling
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &LockCoordinator{locks: locks, ceiling: ceiling, metrics: m}
}

// WithLock は seatIDs 全てのロックを取得してから fn を実行する
// 座席IDはソート済みの順序で取得し、使用中の座席があれば待たずに *seat.BusyError を返す
// 取得したロックは fn の成否に関わらず逆順に解放する
func (c *LockCoordinator) WithLock(ctx context.Context, seatIDs []string, fn func(ctx context.Context) error) (err error) {
	ids := seat.CanonicalIDs(seatIDs)

	ctx, span := tracer.Start(ctx, "LockCoordinator.WithLock",
		trace.WithAttributes(attribute.Int("seat.count", len(ids))))
	defer func() { endSpan(span, err) }()

	acquired := make([]lock.Lock, 0, len(ids))
	defer func() { c.releaseAll(ctx, acquired) }()

	for _, id := range ids {
		start := time.Now()
		l, acqErr := c.locks.Acquire(ctx, SeatLockKey(id), c.ceiling)
		elapsed := time.Since(start).Seconds()
		if acqErr != nil {
			if errors.Is(acqErr, lock.ErrNotAcquired) {
				c.metrics.SeatLockDuration.WithLabelValues("acquire", "busy").Observe(elapsed)
				return &seat.BusyError{SeatIDs: []string{id}}
			}
			c.metrics.SeatLockDuration.WithLabelValues("acquire", "failed").Observe(elapsed)
			return fmt.Errorf("座席ロックの取得に失敗: %w", acqErr)
		}
		c.metrics.SeatLockDuration.WithLabelValues("acquire", "success").Observe(elapsed)
		acquired = append(acquired, l)
	}

	return fn(ctx)
}

func (c *LockCoordinator) releaseAll(ctx context.Context, acquired []lock.Lock) {
	releaseCtx := context.WithoutCancel(ctx)
	for i := len(acquired) - 1; i >= 0; i-- {
		l := acquired[i]
		start := time.Now()
		err := l.Release(releaseCtx)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			c.metrics.SeatLockDuration.WithLabelValues("release", "failed").Observe(elapsed)
			// 上限TTLで失効していた場合も ErrNotOwned になる
			logger.FromContext(ctx).Warn("座席ロックの解放に失敗",
				zap.String("key", l.Key()), zap.Error(err))
			continue
		}
		c.metrics.SeatLockDuration.WithLabelValues("release", "success").Observe(elapsed)
	}
}
