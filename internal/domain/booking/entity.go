package booking

import (
	"crypto/rand"
	"time"
)

// ValidationCodeLength は入場確認コードの文字数
const ValidationCodeLength = 8

// 0/O, 1/I を除いた読み間違えにくい文字
const validationAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Booking は決済済みの確定予約。作成後は不変
type Booking struct {
	ID              string
	HoldID          string
	PerformanceID   string
	ValidationCode  string
	SeatIDs         []string
	Prices          []int64 // SeatIDs と同じ順序の座席ごとの支払額
	TotalAmount     int64
	PaymentRef      string
	CustomerContact string
	CreatedAt       time.Time
}

// NewBooking は新しい予約を作成する
func NewBooking(holdID, performanceID string, seatIDs []string, prices []int64, paymentRef, customerContact string, now time.Time) (*Booking, error) {
	if len(seatIDs) == 0 {
		return nil, ErrSeatIDsRequired
	}
	if len(seatIDs) != len(prices) {
		return nil, ErrPriceCountMismatch
	}
	if paymentRef == "" {
		return nil, ErrPaymentRefRequired
	}
	var total int64
	for _, p := range prices {
		total += p
	}
	return &Booking{
		HoldID:          holdID,
		PerformanceID:   performanceID,
		SeatIDs:         append([]string(nil), seatIDs...),
		Prices:          append([]int64(nil), prices...),
		TotalAmount:     total,
		PaymentRef:      paymentRef,
		CustomerContact: customerContact,
		CreatedAt:       now,
	}, nil
}

// Validate は予約の金額整合性を検証する
func (b *Booking) Validate() error {
	if len(b.SeatIDs) == 0 {
		return ErrSeatIDsRequired
	}
	if len(b.SeatIDs) != len(b.Prices) {
		return ErrPriceCountMismatch
	}
	var sum int64
	for _, p := range b.Prices {
		sum += p
	}
	if sum != b.TotalAmount {
		return ErrTotalMismatch
	}
	if b.ValidationCode == "" {
		return ErrValidationCodeRequired
	}
	return nil
}

// GenerateValidationCode は入場確認コードを生成する
func GenerateValidationCode() (string, error) {
	b := make([]byte, ValidationCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = validationAlphabet[int(b[i])%len(validationAlphabet)]
	}
	return string(b), nil
}

// Clone はディープコピーを返す
func (b *Booking) Clone() *Booking {
	c := *b
	c.SeatIDs = append([]string(nil), b.SeatIDs...)
	c.Prices = append([]int64(nil), b.Prices...)
	return &c
}

// Snapshot は監査ログ用の状態
type Snapshot struct {
	ID             string   `json:"id"`
	ValidationCode string   `json:"validation_code"`
	SeatIDs        []string `json:"seat_ids"`
	Prices         []int64  `json:"prices"`
	TotalAmount    int64    `json:"total_amount"`
	PaymentRef     string   `json:"payment_ref"`
}

func (b *Booking) Snapshot() Snapshot {
	c := b.Clone()
	return Snapshot{
		ID:             c.ID,
		ValidationCode: c.ValidationCode,
		SeatIDs:        c.SeatIDs,
		Prices:         c.Prices,
		TotalAmount:    c.TotalAmount,
		PaymentRef:     c.PaymentRef,
	}
}
