package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore は冪等性キーと結果IDの対応を保持する
// 期限は Redis の TTL に任せる
type IdempotencyStore struct {
	client *redis.Client
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("冪等性キー取得に失敗: %w", err)
	}
	return val, true, nil
}

// Set は最初の書き込みのみ保存する。既にキーがあれば何もしない
func (s *IdempotencyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.SetNX(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("冪等性キー保存に失敗: %w", err)
	}
	return nil
}
