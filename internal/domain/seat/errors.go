package seat

import (
	"errors"
	"strings"
)

// Seat ドメインのエラー定義
var (
	ErrSeatNotFound          = errors.New("座席が見つかりません")
	ErrSeatConflict          = errors.New("座席は予約できません")
	ErrSeatBusy              = errors.New("座席は他のリクエストで処理中です")
	ErrInvalidTransition     = errors.New("許可されていない座席状態の遷移です")
	ErrPerformanceIDRequired = errors.New("公演IDは必須です")
	ErrSeatLocationRequired  = errors.New("セクション・列・番号は必須です")
	ErrInvalidPrice          = errors.New("価格は0以上である必要があります")
	ErrDuplicateSeat         = errors.New("同じ位置の座席が既に存在します")
)

// ConflictError は状態が期待と異なった座席を保持する
type ConflictError struct {
	SeatIDs []string
}

func (e *ConflictError) Error() string {
	return ErrSeatConflict.Error() + ": " + strings.Join(e.SeatIDs, ",")
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSeatConflict
}

// BusyError はロックを取得できなかった座席を保持する
type BusyError struct {
	SeatIDs []string
}

func (e *BusyError) Error() string {
	return ErrSeatBusy.Error() + ": " + strings.Join(e.SeatIDs, ",")
}

func (e *BusyError) Is(target error) bool {
	return target == ErrSeatBusy
}

// ConflictingSeatIDs は err に含まれる座席IDを返す
func ConflictingSeatIDs(err error) []string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.SeatIDs
	}
	var be *BusyError
	if errors.As(err, &be) {
		return be.SeatIDs
	}
	return nil
}
