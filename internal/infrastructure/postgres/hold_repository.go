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

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
)

const holdColumns = `id, performance_id, idempotency_key, session_ref, seat_ids, status, quoted_total,
	created_at, expires_at, payment_ref, payment_amount, payment_started_at, payment_deadline,
	converted_booking_id, updated_at`

type holdRow struct {
	ID                 string         `db:"id"`
	PerformanceID      string         `db:"performance_id"`
	IdempotencyKey     string         `db:"idempotency_key"`
	SessionRef         string         `db:"session_ref"`
	SeatIDs            pq.StringArray `db:"seat_ids"`
	Status             string         `db:"status"`
	QuotedTotal        int64          `db:"quoted_total"`
	CreatedAt          time.Time      `db:"created_at"`
	ExpiresAt          time.Time      `db:"expires_at"`
	PaymentRef         *string        `db:"payment_ref"`
	PaymentAmount      *int64         `db:"payment_amount"`
	PaymentStartedAt   *time.Time     `db:"payment_started_at"`
	PaymentDeadline    *time.Time     `db:"payment_deadline"`
	ConvertedBookingID *string        `db:"converted_booking_id"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *holdRow) toEntity() *hold.Hold {
	return &hold.Hold{
		ID:                 r.ID,
		PerformanceID:      r.PerformanceID,
		IdempotencyKey:     r.IdempotencyKey,
		SessionRef:         r.SessionRef,
		SeatIDs:            []string(r.SeatIDs),
		Status:             hold.Status(r.Status),
		QuotedTotal:        r.QuotedTotal,
		CreatedAt:          r.CreatedAt,
		ExpiresAt:          r.ExpiresAt,
		PaymentRef:         r.PaymentRef,
		PaymentAmount:      r.PaymentAmount,
		PaymentStartedAt:   r.PaymentStartedAt,
		PaymentDeadline:    r.PaymentDeadline,
		ConvertedBookingID: r.ConvertedBookingID,
		UpdatedAt:          r.UpdatedAt,
	}
}

// HoldRepository は仮押さえの永続ストア
type HoldRepository struct{ db *sqlx.DB }

func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

func (r *HoldRepository) Create(ctx context.Context, h *hold.Hold) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	query := `INSERT INTO holds (` + holdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		h.ID, h.PerformanceID, h.IdempotencyKey, h.SessionRef, pq.Array(h.SeatIDs), string(h.Status), h.QuotedTotal,
		h.CreatedAt, h.ExpiresAt, h.PaymentRef, h.PaymentAmount, h.PaymentStartedAt, h.PaymentDeadline,
		h.ConvertedBookingID, h.UpdatedAt)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return hold.ErrIdempotencyKeyAlreadyExists
		}
		return fmt.Errorf("仮押さえ作成に失敗: %w", err)
	}
	return nil
}

func (r *HoldRepository) GetByID(ctx context.Context, id string) (*hold.Hold, error) {
	return r.getOne(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id)
}

// GetByIDForUpdate はトランザクション外では通常の取得と同じ
func (r *HoldRepository) GetByIDForUpdate(ctx context.Context, id string) (*hold.Hold, error) {
	return r.getOne(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, id)
}

func (r *HoldRepository) GetByIdempotencyKey(ctx context.Context, key string) (*hold.Hold, error) {
	return r.getOne(ctx, `SELECT `+holdColumns+` FROM holds WHERE idempotency_key = $1`, key)
}

func (r *HoldRepository) getOne(ctx context.Context, query string, arg interface{}) (*hold.Hold, error) {
	var row holdRow
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hold.ErrHoldNotFound
		}
		return nil, fmt.Errorf("仮押さえ取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *HoldRepository) ListActiveBySeatIDs(ctx context.Context, seatIDs []string) ([]*hold.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds
		WHERE status = 'active' AND seat_ids && $1
		ORDER BY created_at`
	return r.list(ctx, query, pq.Array(seatIDs))
}

// ListExpirable は実効期限 (決済中は猶予期限) が now 以前のものを期限順に返す
func (r *HoldRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*hold.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds
		WHERE status = 'active' AND COALESCE(payment_deadline, expires_at) <= $1
		ORDER BY COALESCE(payment_deadline, expires_at)
		LIMIT NULLIF($2::int, 0)`
	return r.list(ctx, query, now, limit)
}

func (r *HoldRepository) list(ctx context.Context, query string, args ...interface{}) ([]*hold.Hold, error) {
	var rows []holdRow
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("仮押さえ一覧取得に失敗: %w", err)
	}
	holds := make([]*hold.Hold, len(rows))
	for i := range rows {
		holds[i] = rows[i].toEntity()
	}
	return holds, nil
}

// Update は状態が from の場合のみ可変項目を更新する
func (r *HoldRepository) Update(ctx context.Context, h *hold.Hold, from hold.Status) error {
	query := `UPDATE holds SET
			status = $1, expires_at = $2, payment_ref = $3, payment_amount = $4,
			payment_started_at = $5, payment_deadline = $6, converted_booking_id = $7, updated_at = $8
		WHERE id = $9 AND status = $10`
	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		string(h.Status), h.ExpiresAt, h.PaymentRef, h.PaymentAmount,
		h.PaymentStartedAt, h.PaymentDeadline, h.ConvertedBookingID, h.UpdatedAt,
		h.ID, string(from))
	if err != nil {
		return fmt.Errorf("仮押さえ更新に失敗: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, h.ID); err != nil {
		return err
	}
	return hold.ErrHoldStateConflict
}

var _ hold.Repository = (*HoldRepository)(nil)
