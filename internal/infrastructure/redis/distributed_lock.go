package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/lock"
)

// 所有者確認と削除をアトミックに実行
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock は Redis を使用した分散ロック
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string
}

// LockManager は SETNX による排他ロックを提供する
// 複数インスタンス間で座席ロックを共有する
type LockManager struct {
	client *redis.Client
}

var _ lock.Manager = (*LockManager)(nil)

func NewLockManager(client *redis.Client) *LockManager {
	return &LockManager{client: client}
}

// Acquire はロックを取得する。待たずに失敗する
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	value := uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	if !ok {
		return nil, lock.ErrNotAcquired
	}

	return &DistributedLock{client: m.client, key: key, value: value}, nil
}

func (l *DistributedLock) Key() string { return l.key }

// Release はロックを解放する。TTL で失効して他者が取得していれば ErrNotOwned
func (l *DistributedLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return fmt.Errorf("ロック解放に失敗: %w", err)
	}
	if result == 0 {
		return lock.ErrNotOwned
	}
	return nil
}
