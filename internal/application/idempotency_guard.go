package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

// IdempotencyStore は冪等性キーと結果IDの対応をTTL付きで保持する
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// IdempotencyScope はキーの名前空間
type IdempotencyScope string

const (
	ScopeHold    IdempotencyScope = "hold"
	ScopePayment IdempotencyScope = "payment"
)

// IdempotencyGuard は再送リクエストの結果を記憶する
// 記録はあくまで高速化であり、正は永続ストアの一意制約
type IdempotencyGuard struct {
	store IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyGuard は store が nil なら何も記憶しないガードを返す
func NewIdempotencyGuard(store IdempotencyStore, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{store: store, ttl: ttl}
}

func idempotencyKey(scope IdempotencyScope, key string) string {
	return "idem:" + string(scope) + ":" + key
}

// Recall は記憶した結果IDを返す。ストア障害時は記憶なしとして扱う
func (g *IdempotencyGuard) Recall(ctx context.Context, scope IdempotencyScope, key string) (string, bool) {
	if g == nil || g.store == nil || key == "" {
		return "", false
	}
	id, ok, err := g.store.Get(ctx, idempotencyKey(scope, key))
	if err != nil {
		logger.FromContext(ctx).Warn("冪等性ストアの参照に失敗、永続ストアで判定します",
			zap.String("scope", string(scope)), zap.Error(err))
		return "", false
	}
	return id, ok
}

// Remember は結果IDを記憶する。失敗はログのみ
func (g *IdempotencyGuard) Remember(ctx context.Context, scope IdempotencyScope, key, id string) {
	if g == nil || g.store == nil || key == "" {
		return
	}
	if err := g.store.Set(ctx, idempotencyKey(scope, key), id, g.ttl); err != nil {
		logger.FromContext(ctx).Warn("冪等性ストアへの保存に失敗",
			zap.String("scope", string(scope)), zap.Error(err))
	}
}
