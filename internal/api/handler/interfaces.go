package handler

import (
	"context"
	"time"

	"github.com/sanosuguru/go-theater-seat-booking/internal/application"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

// HoldServiceInterface は仮押さえサービスのインターフェース
type HoldServiceInterface interface {
	CreateHold(ctx context.Context, input application.CreateHoldInput) (*hold.Hold, error)
	GetHold(ctx context.Context, id string) (*hold.Hold, error)
	ReleaseHold(ctx context.Context, holdID, requesterRef string) (*hold.Hold, error)
	ReleaseForPaymentFailure(ctx context.Context, holdID, paymentRef string) (*hold.Hold, error)
	ExtendHold(ctx context.Context, holdID, requesterRef string, additional time.Duration) (*hold.Hold, error)
}

// BookingServiceInterface は予約確定サービスのインターフェース
type BookingServiceInterface interface {
	BeginPayment(ctx context.Context, input application.BeginPaymentInput) (*hold.Hold, error)
	ConfirmBooking(ctx context.Context, input application.ConfirmBookingInput) (*booking.Booking, bool, error)
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*booking.Booking, error)
}

// SeatServiceInterface は座席サービスのインターフェース
type SeatServiceInterface interface {
	ProvisionSeats(ctx context.Context, input application.ProvisionSeatsInput) ([]*seat.Seat, error)
	GetSeat(ctx context.Context, id string) (*seat.Seat, error)
	ListSeats(ctx context.Context, performanceID string) ([]*seat.Seat, error)
	CountAvailableSeats(ctx context.Context, performanceID string) (int, error)
	BlockSeats(ctx context.Context, input application.BlockSeatsInput) ([]*seat.Seat, error)
	UnblockSeats(ctx context.Context, input application.BlockSeatsInput) ([]*seat.Seat, error)
}

// AuditHistoryInterface は監査履歴の参照
type AuditHistoryInterface interface {
	History(ctx context.Context, entity audit.Entity, entityID string) ([]*audit.Record, error)
}
