package handler

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-theater-seat-booking/internal/application"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

// MockHoldService はHoldServiceInterfaceのモック
type MockHoldService struct {
	mock.Mock
}

func (m *MockHoldService) holdResult(args mock.Arguments) (*hold.Hold, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hold.Hold), args.Error(1)
}

func (m *MockHoldService) CreateHold(ctx context.Context, input application.CreateHoldInput) (*hold.Hold, error) {
	return m.holdResult(m.Called(ctx, input))
}

func (m *MockHoldService) GetHold(ctx context.Context, id string) (*hold.Hold, error) {
	return m.holdResult(m.Called(ctx, id))
}

func (m *MockHoldService) ReleaseHold(ctx context.Context, holdID, requesterRef string) (*hold.Hold, error) {
	return m.holdResult(m.Called(ctx, holdID, requesterRef))
}

func (m *MockHoldService) ReleaseForPaymentFailure(ctx context.Context, holdID, paymentRef string) (*hold.Hold, error) {
	return m.holdResult(m.Called(ctx, holdID, paymentRef))
}

func (m *MockHoldService) ExtendHold(ctx context.Context, holdID, requesterRef string, additional time.Duration) (*hold.Hold, error) {
	return m.holdResult(m.Called(ctx, holdID, requesterRef, additional))
}

// MockBookingService はBookingServiceInterfaceのモック
type MockBookingService struct {
	mock.Mock
}

func (m *MockBookingService) BeginPayment(ctx context.Context, input application.BeginPaymentInput) (*hold.Hold, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hold.Hold), args.Error(1)
}

func (m *MockBookingService) ConfirmBooking(ctx context.Context, input application.ConfirmBookingInput) (*booking.Booking, bool, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*booking.Booking), args.Bool(1), args.Error(2)
}

func (m *MockBookingService) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

func (m *MockBookingService) GetBookingByCode(ctx context.Context, code string) (*booking.Booking, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

// MockSeatService はSeatServiceInterfaceのモック
type MockSeatService struct {
	mock.Mock
}

func (m *MockSeatService) seatsResult(args mock.Arguments) ([]*seat.Seat, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*seat.Seat), args.Error(1)
}

func (m *MockSeatService) ProvisionSeats(ctx context.Context, input application.ProvisionSeatsInput) ([]*seat.Seat, error) {
	return m.seatsResult(m.Called(ctx, input))
}

func (m *MockSeatService) GetSeat(ctx context.Context, id string) (*seat.Seat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*seat.Seat), args.Error(1)
}

func (m *MockSeatService) ListSeats(ctx context.Context, performanceID string) ([]*seat.Seat, error) {
	return m.seatsResult(m.Called(ctx, performanceID))
}

func (m *MockSeatService) CountAvailableSeats(ctx context.Context, performanceID string) (int, error) {
	args := m.Called(ctx, performanceID)
	return args.Int(0), args.Error(1)
}

func (m *MockSeatService) BlockSeats(ctx context.Context, input application.BlockSeatsInput) ([]*seat.Seat, error) {
	return m.seatsResult(m.Called(ctx, input))
}

func (m *MockSeatService) UnblockSeats(ctx context.Context, input application.BlockSeatsInput) ([]*seat.Seat, error) {
	return m.seatsResult(m.Called(ctx, input))
}

// MockAuditHistory はAuditHistoryInterfaceのモック
type MockAuditHistory struct {
	mock.Mock
}

func (m *MockAuditHistory) History(ctx context.Context, entity audit.Entity, entityID string) ([]*audit.Record, error) {
	args := m.Called(ctx, entity, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Record), args.Error(1)
}

// invoke はハンドラーを実行し、エラーはエラーハンドラーでレスポンスに変換する
func invoke(e *echo.Echo, c echo.Context, h echo.HandlerFunc) {
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
}
