package hold

import "errors"

// Hold ドメインのエラー定義
var (
	ErrHoldNotFound                = errors.New("仮押さえが見つかりません")
	ErrHoldNotActive               = errors.New("仮押さえは有効ではありません")
	ErrHoldExpired                 = errors.New("仮押さえの有効期限が切れています")
	ErrHoldNotExpired              = errors.New("仮押さえはまだ有効期限内です")
	ErrHoldStateConflict           = errors.New("仮押さえの状態が更新中に変化しました")
	ErrNotHoldOwner                = errors.New("仮押さえの所有者ではありません")
	ErrPerformanceIDRequired       = errors.New("公演IDは必須です")
	ErrSessionRefRequired          = errors.New("セッション参照は必須です")
	ErrSeatIDsRequired             = errors.New("座席IDは必須です")
	ErrDuplicateSeatIDs            = errors.New("座席IDが重複しています")
	ErrTooManySeats                = errors.New("一度に仮押さえできる座席数を超えています")
	ErrInvalidTTL                  = errors.New("仮押さえの有効期間が不正です")
	ErrInvalidExtension            = errors.New("延長時間が不正です")
	ErrIdempotencyKeyRequired      = errors.New("冪等性キーは必須です")
	ErrIdempotencyKeyAlreadyExists = errors.New("同じ冪等性キーの仮押さえが既に存在します")
	ErrIdempotencyConflict         = errors.New("冪等性キーが異なる内容で再利用されました")
	ErrIdempotencyKeyConsumed      = errors.New("冪等性キーの仮押さえは既に終了しています")
	ErrPaymentRefRequired          = errors.New("決済参照は必須です")
	ErrPaymentRefMismatch          = errors.New("決済参照が一致しません")
	ErrPaymentAlreadyStarted       = errors.New("別の決済が進行中です")
	ErrInvalidAmount               = errors.New("金額は1以上である必要があります")
	ErrCacheMiss                   = errors.New("キャッシュが見つかりません")
)
