package application

import (
	"context"
	"time"
)

// BookingConfirmedEvent は予約確定時に送信する
type BookingConfirmedEvent struct {
	BookingID      string    `json:"booking_id"`
	HoldID         string    `json:"hold_id"`
	PerformanceID  string    `json:"performance_id"`
	ValidationCode string    `json:"validation_code"`
	SeatIDs        []string  `json:"seat_ids"`
	TotalAmount    int64     `json:"total_amount"`
	PaymentRef     string    `json:"payment_ref"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
}

// HoldExpiredEvent は仮押さえの失効時に送信する
type HoldExpiredEvent struct {
	HoldID        string    `json:"hold_id"`
	PerformanceID string    `json:"performance_id"`
	SeatIDs       []string  `json:"seat_ids"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// EventPublisher はドメインイベントの送信先
// 送信はコミット後のベストエフォートで、失敗しても状態は戻さない
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, e BookingConfirmedEvent) error
	PublishHoldExpired(ctx context.Context, e HoldExpiredEvent) error
}

// NopPublisher は何も送信しない
type NopPublisher struct{}

func (NopPublisher) PublishBookingConfirmed(context.Context, BookingConfirmedEvent) error { return nil }
func (NopPublisher) PublishHoldExpired(context.Context, HoldExpiredEvent) error { return nil }
