// Package lock は座席ロックの抽象を定義する
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAcquired = errors.New("ロックを取得できませんでした")
	ErrNotOwned    = errors.New("ロックの所有者ではありません")
)

// Manager は排他ロックを提供する
// Acquire は待たずに失敗する。取得済みなら ErrNotAcquired
type Manager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock は取得済みのロック
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}
