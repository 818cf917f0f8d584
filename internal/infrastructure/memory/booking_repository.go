package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
)

// BookingRepository はインメモリの予約ストア
type BookingRepository struct {
	db *DB
}

var _ booking.Repository = (*BookingRepository)(nil)

func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, b *booking.Booking) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.bookingsByHold[b.HoldID]; ok {
		return booking.ErrHoldAlreadyBooked
	}
	if _, ok := r.db.bookingsByPayment[b.PaymentRef]; ok {
		return booking.ErrDuplicatePaymentRef
	}
	if _, ok := r.db.bookingsByCode[b.ValidationCode]; ok {
		return booking.ErrDuplicateValidationCode
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	r.db.bookings[b.ID] = b.Clone()
	r.db.bookingsByHold[b.HoldID] = b.ID
	r.db.bookingsByPayment[b.PaymentRef] = b.ID
	r.db.bookingsByCode[b.ValidationCode] = b.ID

	id, holdID, ref, code := b.ID, b.HoldID, b.PaymentRef, b.ValidationCode
	onRollback(ctx, func() {
		delete(r.db.bookings, id)
		delete(r.db.bookingsByHold, holdID)
		delete(r.db.bookingsByPayment, ref)
		delete(r.db.bookingsByCode, code)
	})
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*booking.Booking, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	b, ok := r.db.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (r *BookingRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*booking.Booking, error) {
	return r.getBy(r.db.bookingsByPayment, paymentRef)
}

func (r *BookingRepository) GetByValidationCode(ctx context.Context, code string) (*booking.Booking, error) {
	return r.getBy(r.db.bookingsByCode, code)
}

func (r *BookingRepository) getBy(index map[string]string, key string) (*booking.Booking, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return r.db.bookings[id].Clone(), nil
}
