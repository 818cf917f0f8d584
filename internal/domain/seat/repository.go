package seat

import "context"

// Repository は座席在庫のインターフェース
// トランザクションは ctx 経由で引き継がれる（transaction.Manager 参照）
type Repository interface {
	// CreateBulk は公演の座席を一括作成する
	CreateBulk(ctx context.Context, seats []*Seat) error

	// GetByID はIDから座席を取得する
	GetByID(ctx context.Context, id string) (*Seat, error)

	// GetSeats は公演の指定座席を取得する。1件でも存在しなければ ErrSeatNotFound
	GetSeats(ctx context.Context, performanceID string, seatIDs []string) ([]*Seat, error)

	// ListByPerformance は公演の座席一覧を取得する
	ListByPerformance(ctx context.Context, performanceID string) ([]*Seat, error)

	// SetStatus は全座席が from の場合のみ to に更新する（全件成功か全件失敗）
	// 状態が異なる座席があれば *ConflictError を返し、何も更新しない
	SetStatus(ctx context.Context, seatIDs []string, from, to Status) error

	// CountAvailableByPerformance は公演の空席数を取得する
	CountAvailableByPerformance(ctx context.Context, performanceID string) (int, error)
}
