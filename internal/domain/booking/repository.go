package booking

import "context"

// Repository は予約リポジトリのインターフェース
type Repository interface {
	// Create は予約を作成する
	// 決済参照の重複は ErrDuplicatePaymentRef、確認コードの重複は ErrDuplicateValidationCode
	Create(ctx context.Context, b *Booking) error

	// GetByID はIDから予約を取得する
	GetByID(ctx context.Context, id string) (*Booking, error)

	// GetByPaymentRef は決済参照から予約を取得する
	GetByPaymentRef(ctx context.Context, paymentRef string) (*Booking, error)

	// GetByValidationCode は入場確認コードから予約を取得する
	GetByValidationCode(ctx context.Context, code string) (*Booking, error)
}
