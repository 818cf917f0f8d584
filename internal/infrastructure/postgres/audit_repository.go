package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
)

type auditRow struct {
	ID            string    `db:"id"`
	Entity        string    `db:"entity"`
	EntityID      string    `db:"entity_id"`
	Action        string    `db:"action"`
	Actor         string    `db:"actor"`
	Before        []byte    `db:"before"`
	After         []byte    `db:"after"`
	CorrelationID string    `db:"correlation_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// AuditRepository は追記専用の監査ログ
// UPDATE/DELETE はトリガーで拒否される
type AuditRepository struct{ db *sqlx.DB }

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO audit_log (id, entity, entity_id, action, actor, before, after, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		rec.ID, string(rec.Entity), rec.EntityID, string(rec.Action), rec.Actor,
		jsonParam(rec.Before), jsonParam(rec.After), rec.CorrelationID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("監査ログ追記に失敗: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entity audit.Entity, entityID string) ([]*audit.Record, error) {
	var rows []auditRow
	query := `SELECT id, entity, entity_id, action, actor, before, after, correlation_id, created_at
		FROM audit_log WHERE entity = $1 AND entity_id = $2 ORDER BY seq`
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, string(entity), entityID); err != nil {
		return nil, fmt.Errorf("監査ログ取得に失敗: %w", err)
	}
	out := make([]*audit.Record, len(rows))
	for i, row := range rows {
		out[i] = &audit.Record{
			ID:            row.ID,
			Entity:        audit.Entity(row.Entity),
			EntityID:      row.EntityID,
			Action:        audit.Action(row.Action),
			Actor:         row.Actor,
			Before:        json.RawMessage(row.Before),
			After:         json.RawMessage(row.After),
			CorrelationID: row.CorrelationID,
			CreatedAt:     row.CreatedAt,
		}
	}
	return out, nil
}

// jsonParam は jsonb 列へ文字列として渡す。[]byte のままだと bytea として送られる
func jsonParam(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ audit.Repository = (*AuditRepository)(nil)
