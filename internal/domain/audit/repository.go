package audit

import "context"

// Repository は監査ログの追記専用ストア
type Repository interface {
	// Append はレコードを追記する（呼び出し元のトランザクション内）
	Append(ctx context.Context, r *Record) error

	// ListByEntity は対象の履歴を古い順に取得する
	ListByEntity(ctx context.Context, entity Entity, entityID string) ([]*Record, error)
}
