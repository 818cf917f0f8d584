package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeatCache は公演ごとの空席数のキャッシュを管理する
type SeatCache struct {
	client *redis.Client
}

// NewSeatCache は新しいSeatCacheインスタンスを作成する
func NewSeatCache(client *redis.Client) *SeatCache {
	return &SeatCache{client: client}
}

// GetAvailableCount は空席数をキャッシュから取得する。未登録なら ok=false
func (c *SeatCache) GetAvailableCount(ctx context.Context, performanceID string) (int, bool, error) {
	val, err := c.client.Get(ctx, availableCountKey(performanceID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	return val, true, nil
}

// SetAvailableCount は空席数をキャッシュに保存する
func (c *SeatCache) SetAvailableCount(ctx context.Context, performanceID string, count int, ttl time.Duration) error {
	if err := c.client.Set(ctx, availableCountKey(performanceID), count, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate は公演のキャッシュを無効化する
func (c *SeatCache) Invalidate(ctx context.Context, performanceID string) error {
	if err := c.client.Del(ctx, availableCountKey(performanceID)).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

func availableCountKey(performanceID string) string {
	return fmt.Sprintf("seats:available:%s", performanceID)
}
