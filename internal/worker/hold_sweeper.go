package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

// HoldExpirer は期限切れの仮押さえを失効させるインターフェース
type HoldExpirer interface {
	ExpireHolds(ctx context.Context) (int, error)
}

// HoldSweeper は期限切れの仮押さえから座席を回収するワーカー
type HoldSweeper struct {
	holds    HoldExpirer
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// DefaultSweepInterval は実行間隔が指定されない場合の値
const DefaultSweepInterval = time.Minute

// NewHoldSweeper は新しいスイーパーを作成
// interval が 0 以下なら DefaultSweepInterval を使う
func NewHoldSweeper(holds HoldExpirer, interval time.Duration) *HoldSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &HoldSweeper{
		holds:    holds,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start はスイーパーを開始
func (s *HoldSweeper) Start(ctx context.Context) {
	logger.Info("仮押さえスイーパー開始", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("仮押さえスイーパー停止（コンテキストキャンセル）")
			return
		case <-s.stopCh:
			logger.Info("仮押さえスイーパー停止（シグナル受信）")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop はスイーパーを停止
func (s *HoldSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// sweep は1回分の失効処理。監査ログは同じ相関IDでまとまる
func (s *HoldSweeper) sweep(ctx context.Context) {
	ctx = logger.ContextWithCorrelationID(ctx, "sweep-"+uuid.NewString())
	log := logger.FromContext(ctx)
	log.Debug("期限切れ仮押さえの回収開始")

	count, err := s.holds.ExpireHolds(ctx)
	if err != nil {
		log.Error("期限切れ仮押さえの回収失敗", zap.Error(err))
		return
	}

	if count > 0 {
		log.Info("期限切れ仮押さえを失効", zap.Int("count", count))
	} else {
		log.Debug("期限切れ仮押さえなし")
	}
}
