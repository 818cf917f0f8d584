package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
)

// AuditRepository はインメモリの追記専用監査ログ
type AuditRepository struct {
	db *DB
}

var _ audit.Repository = (*AuditRepository)(nil)

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.db.clock.Now()
	}
	c := *rec
	n := len(r.db.audit)
	r.db.audit = append(r.db.audit, &c)
	onRollback(ctx, func() { r.db.audit = r.db.audit[:n] })
	return nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entity audit.Entity, entityID string) ([]*audit.Record, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []*audit.Record
	for _, rec := range r.db.audit {
		if rec.Entity == entity && rec.EntityID == entityID {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}
