package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
)

const bookingColumns = `id, hold_id, performance_id, validation_code, seat_ids, prices, total_amount,
	payment_ref, customer_contact, created_at`

type bookingRow struct {
	ID              string         `db:"id"`
	HoldID          string         `db:"hold_id"`
	PerformanceID   string         `db:"performance_id"`
	ValidationCode  string         `db:"validation_code"`
	SeatIDs         pq.StringArray `db:"seat_ids"`
	Prices          pq.Int64Array  `db:"prices"`
	TotalAmount     int64          `db:"total_amount"`
	PaymentRef      string         `db:"payment_ref"`
	CustomerContact string         `db:"customer_contact"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r *bookingRow) toEntity() *booking.Booking {
	return &booking.Booking{
		ID: r.ID, HoldID: r.HoldID, PerformanceID: r.PerformanceID,
		ValidationCode: r.ValidationCode,
		SeatIDs:        []string(r.SeatIDs), Prices: []int64(r.Prices),
		TotalAmount: r.TotalAmount, PaymentRef: r.PaymentRef,
		CustomerContact: r.CustomerContact, CreatedAt: r.CreatedAt,
	}
}

type BookingRepository struct{ db *sqlx.DB }

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, b *booking.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		b.ID, b.HoldID, b.PerformanceID, b.ValidationCode, pq.Array(b.SeatIDs), pq.Array(b.Prices),
		b.TotalAmount, b.PaymentRef, b.CustomerContact, b.CreatedAt)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case "bookings_payment_ref_key":
				return booking.ErrDuplicatePaymentRef
			case "bookings_validation_code_key":
				return booking.ErrDuplicateValidationCode
			default:
				return booking.ErrHoldAlreadyBooked
			}
		}
		return fmt.Errorf("予約作成に失敗: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*booking.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (r *BookingRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*booking.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_ref = $1`, paymentRef)
}

func (r *BookingRepository) GetByValidationCode(ctx context.Context, code string) (*booking.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE validation_code = $1`, code)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*booking.Booking, error) {
	var row bookingRow
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

var _ booking.Repository = (*BookingRepository)(nil)
