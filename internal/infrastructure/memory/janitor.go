package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

// Evicter は期限切れエントリを削除できるストア
type Evicter interface {
	Evict() int
}

// Janitor は interval ごとに期限切れエントリを削除する
type Janitor struct {
	interval time.Duration
	targets  []Evicter

	once    sync.Once
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewJanitor(interval time.Duration, targets ...Evicter) *Janitor {
	return &Janitor{
		interval: interval,
		targets:  targets,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.started = true
	go func() {
		defer close(j.doneCh)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n := 0
				for _, t := range j.targets {
					n += t.Evict()
				}
				if n > 0 {
					logger.Debug("期限切れエントリを削除しました", zap.Int("count", n))
				}
			case <-j.stopCh:
				return
			}
		}
	}()
}

// Stop は janitor を停止し、終了を待つ
func (j *Janitor) Stop() {
	j.once.Do(func() {
		close(j.stopCh)
		if j.started {
			<-j.doneCh
		}
	})
}
