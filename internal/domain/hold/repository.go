package hold

import (
	"context"
	"time"
)

// Repository は仮押さえの永続ストア（正とするストア）
type Repository interface {
	// Create は仮押さえを作成する。冪等性キー重複時は ErrIdempotencyKeyAlreadyExists
	Create(ctx context.Context, h *Hold) error

	// GetByID はIDから仮押さえを取得する
	GetByID(ctx context.Context, id string) (*Hold, error)

	// GetByIDForUpdate はトランザクション内で行ロック付きで取得する
	GetByIDForUpdate(ctx context.Context, id string) (*Hold, error)

	// GetByIdempotencyKey は冪等性キーから仮押さえを取得する
	GetByIdempotencyKey(ctx context.Context, key string) (*Hold, error)

	// ListActiveBySeatIDs は指定座席を含む active な仮押さえを取得する
	ListActiveBySeatIDs(ctx context.Context, seatIDs []string) ([]*Hold, error)

	// ListExpirable は実効期限が now 以前の active な仮押さえを取得する
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*Hold, error)

	// Update は状態が from の場合のみ更新する。異なれば ErrHoldStateConflict
	Update(ctx context.Context, h *Hold, from Status) error
}

// Cache は仮押さえの一時ストア（TTL付き）
type Cache interface {
	// Get はキャッシュから取得する。存在しなければ ErrCacheMiss
	Get(ctx context.Context, id string) (*Hold, error)

	// Set は ttl 付きで保存する
	Set(ctx context.Context, h *Hold, ttl time.Duration) error

	// Delete はキャッシュから削除する
	Delete(ctx context.Context, id string) error
}
