// Package clock は時刻取得を差し替え可能にする
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返す
type Clock interface {
	Now() time.Time
}

// Real はシステム時刻を返す Clock
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake はテスト用の手動で進める Clock
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake は t を現在時刻とする Fake を作成する
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance は時刻を d だけ進める
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set は時刻を t に設定する
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
