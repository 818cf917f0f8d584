package application

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/metrics"
)

// AuditEntry は記録する状態遷移
// Before / After は JSON に変換できるスナップショット
type AuditEntry struct {
	Entity   audit.Entity
	EntityID string
	Action   audit.Action
	Actor    string
	Before   any
	After    any
}

// auditState は監査ログに記録する状態
type auditState struct {
	Hold    *hold.Snapshot    `json:"hold,omitempty"`
	Seats   []seat.Snapshot   `json:"seats,omitempty"`
	Booking *booking.Snapshot `json:"booking,omitempty"`
}

func holdSnapshot(h *hold.Hold) *hold.Snapshot {
	s := h.Snapshot()
	return &s
}

func bookingSnapshot(b *booking.Booking) *booking.Snapshot {
	s := b.Snapshot()
	return &s
}

// AuditLogger は状態遷移を呼び出し元のトランザクション内で追記する
// 書き込みに失敗した場合は audit.ErrAuditWriteFailed を返し、呼び出し元の処理全体を失敗させる
type AuditLogger struct {
	repo    audit.Repository
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewAuditLogger(repo audit.Repository, clk clock.Clock, m *metrics.Metrics) *AuditLogger {
	if clk == nil {
		clk = clock.Real{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &AuditLogger{repo: repo, clock: clk, metrics: m}
}

func (l *AuditLogger) Record(ctx context.Context, e AuditEntry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return l.fail(ctx, e, err)
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return l.fail(ctx, e, err)
	}

	rec := &audit.Record{
		Entity:        e.Entity,
		EntityID:      e.EntityID,
		Action:        e.Action,
		Actor:         e.Actor,
		Before:        before,
		After:         after,
		CorrelationID: logger.CorrelationID(ctx),
		CreatedAt:     l.clock.Now(),
	}
	if err := l.repo.Append(ctx, rec); err != nil {
		return l.fail(ctx, e, err)
	}
	return nil
}

// History は対象の監査履歴を古い順に返す
func (l *AuditLogger) History(ctx context.Context, entity audit.Entity, entityID string) ([]*audit.Record, error) {
	return l.repo.ListByEntity(ctx, entity, entityID)
}

func (l *AuditLogger) fail(ctx context.Context, e AuditEntry, cause error) error {
	l.metrics.AuditWriteFailuresTotal.Inc()
	logger.FromContext(ctx).Error("監査ログの書き込みに失敗",
		zap.String("entity", string(e.Entity)),
		zap.String("entity_id", e.EntityID),
		zap.String("action", string(e.Action)),
		zap.String("actor", e.Actor),
		zap.Error(cause),
	)
	return fmt.Errorf("%w: %v", audit.ErrAuditWriteFailed, cause)
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
