package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

const seatColumns = `id, performance_id, section_id, row_label, number, price, status, accessible, created_at, updated_at`

type seatRow struct {
	ID            string    `db:"id"`
	PerformanceID string    `db:"performance_id"`
	SectionID     string    `db:"section_id"`
	RowLabel      string    `db:"row_label"`
	Number        int       `db:"number"`
	Price         int64     `db:"price"`
	Status        string    `db:"status"`
	Accessible    bool      `db:"accessible"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r *seatRow) toEntity() *seat.Seat {
	return &seat.Seat{
		ID: r.ID, PerformanceID: r.PerformanceID, SectionID: r.SectionID,
		Row: r.RowLabel, Number: r.Number, Price: r.Price,
		Status: seat.Status(r.Status), Accessible: r.Accessible,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type SeatRepository struct{ db *sqlx.DB }

func NewSeatRepository(db *sqlx.DB) *SeatRepository { return &SeatRepository{db: db} }

func (r *SeatRepository) CreateBulk(ctx context.Context, seats []*seat.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	for _, s := range seats {
		if err := s.Validate(); err != nil {
			return err
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
	}

	// バッチサイズごとに分割してマルチバリューINSERTを実行
	const batchSize = 1000
	return runInTx(ctx, r.db, func(q sqlx.ExtContext) error {
		for i := 0; i < len(seats); i += batchSize {
			end := i + batchSize
			if end > len(seats) {
				end = len(seats)
			}
			if err := r.createBulkBatch(ctx, q, seats[i:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

// createBulkBatch はバッチ単位でマルチバリューINSERTを実行
func (r *SeatRepository) createBulkBatch(ctx context.Context, q sqlx.ExtContext, seats []*seat.Seat) error {
	const cols = 10
	query := `INSERT INTO seats (` + seatColumns + `) VALUES `
	args := make([]interface{}, 0, len(seats)*cols)
	placeholders := make([]string, 0, len(seats))

	for i, s := range seats {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
		args = append(args, s.ID, s.PerformanceID, s.SectionID, s.Row, s.Number, s.Price,
			string(s.Status), s.Accessible, s.CreatedAt, s.UpdatedAt)
	}

	query += strings.Join(placeholders, ", ")
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return seat.ErrDuplicateSeat
		}
		return fmt.Errorf("座席一括作成に失敗: %w", err)
	}
	return nil
}

func (r *SeatRepository) GetByID(ctx context.Context, id string) (*seat.Seat, error) {
	var row seatRow
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, `SELECT `+seatColumns+` FROM seats WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, seat.ErrSeatNotFound
		}
		return nil, fmt.Errorf("座席取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

// GetSeats は seatIDs の順序で座席を返す
func (r *SeatRepository) GetSeats(ctx context.Context, performanceID string, seatIDs []string) ([]*seat.Seat, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	var rows []seatRow
	query := `SELECT ` + seatColumns + ` FROM seats WHERE performance_id = $1 AND id = ANY($2)`
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, performanceID, pq.Array(seatIDs)); err != nil {
		return nil, fmt.Errorf("座席取得に失敗: %w", err)
	}
	byID := make(map[string]*seat.Seat, len(rows))
	for i := range rows {
		byID[rows[i].ID] = rows[i].toEntity()
	}
	out := make([]*seat.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", seat.ErrSeatNotFound, id)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *SeatRepository) ListByPerformance(ctx context.Context, performanceID string) ([]*seat.Seat, error) {
	var rows []seatRow
	query := `SELECT ` + seatColumns + ` FROM seats WHERE performance_id = $1 ORDER BY section_id, row_label, number`
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, performanceID); err != nil {
		return nil, fmt.Errorf("座席一覧取得に失敗: %w", err)
	}
	seats := make([]*seat.Seat, len(rows))
	for i := range rows {
		seats[i] = rows[i].toEntity()
	}
	return seats, nil
}

// SetStatus は対象行を FOR UPDATE で確保してから条件付きで更新する
// 分散ロックが天井時間で失われても二重販売にはならない
func (r *SeatRepository) SetStatus(ctx context.Context, seatIDs []string, from, to seat.Status) error {
	if !seat.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", seat.ErrInvalidTransition, from, to)
	}
	ids := seat.CanonicalIDs(seatIDs)
	if len(ids) == 0 {
		return nil
	}

	return runInTx(ctx, r.db, func(q sqlx.ExtContext) error {
		var current []struct {
			ID     string `db:"id"`
			Status string `db:"status"`
		}
		lockQuery := `SELECT id, status FROM seats WHERE id = ANY($1) ORDER BY id FOR UPDATE`
		if err := sqlx.SelectContext(ctx, q, &current, lockQuery, pq.Array(ids)); err != nil {
			return fmt.Errorf("座席ロックに失敗: %w", err)
		}
		status := make(map[string]seat.Status, len(current))
		for _, c := range current {
			status[c.ID] = seat.Status(c.Status)
		}

		var drifted []string
		for _, id := range ids {
			st, ok := status[id]
			if !ok {
				return fmt.Errorf("%w: %s", seat.ErrSeatNotFound, id)
			}
			if st != from {
				drifted = append(drifted, id)
			}
		}
		if len(drifted) > 0 {
			return &seat.ConflictError{SeatIDs: drifted}
		}

		result, err := q.ExecContext(ctx,
			`UPDATE seats SET status = $1, updated_at = NOW() WHERE id = ANY($2) AND status = $3`,
			string(to), pq.Array(ids), string(from))
		if err != nil {
			return fmt.Errorf("座席状態の更新に失敗: %w", err)
		}
		if n, _ := result.RowsAffected(); int(n) != len(ids) {
			return &seat.ConflictError{SeatIDs: ids}
		}
		return nil
	})
}

func (r *SeatRepository) CountAvailableByPerformance(ctx context.Context, performanceID string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &count,
		`SELECT COUNT(*) FROM seats WHERE performance_id = $1 AND status = 'available'`, performanceID)
	return count, err
}

var _ seat.Repository = (*SeatRepository)(nil)
