package booking

import "errors"

// Booking ドメインのエラー定義
var (
	ErrBookingNotFound         = errors.New("予約が見つかりません")
	ErrPriceMismatch           = errors.New("支払額が現在の座席価格の合計と一致しません")
	ErrPriceCountMismatch      = errors.New("座席数と価格数が一致しません")
	ErrTotalMismatch           = errors.New("座席価格の合計と総額が一致しません")
	ErrSeatIDsRequired         = errors.New("座席IDは必須です")
	ErrPaymentRefRequired      = errors.New("決済参照は必須です")
	ErrDuplicatePaymentRef     = errors.New("同じ決済参照の予約が既に存在します")
	ErrDuplicateValidationCode = errors.New("入場確認コードが重複しました")
	ErrValidationCodeRequired  = errors.New("入場確認コードは必須です")
	ErrCustomerContactRequired = errors.New("連絡先は必須です")
	ErrHoldAlreadyBooked       = errors.New("この仮押さえは既に予約済みです")
)
