package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

const (
	seatCacheTTL = 30 * time.Second
)

// SeatService は座席在庫の登録・参照と、運営による販売停止を扱う
type SeatService struct {
	tx    transaction.Manager
	seats seat.Repository
	locks *LockCoordinator
	audit *AuditLogger
	options
}

func NewSeatService(tx transaction.Manager, seats seat.Repository, locks *LockCoordinator, auditLogger *AuditLogger, opts ...Option) *SeatService {
	return &SeatService{
		tx:      tx,
		seats:   seats,
		locks:   locks,
		audit:   auditLogger,
		options: newOptions(opts),
	}
}

type SeatSpec struct {
	SectionID  string
	Row        string
	Number     int
	Price      int64
	Accessible bool
}

type ProvisionSeatsInput struct {
	PerformanceID string
	Seats         []SeatSpec
	Actor         string
}

// ProvisionSeats は公演の座席を一括登録する。全件成功か全件失敗
func (s *SeatService) ProvisionSeats(ctx context.Context, in ProvisionSeatsInput) (created []*seat.Seat, err error) {
	ctx, span := tracer.Start(ctx, "SeatService.ProvisionSeats", trace.WithAttributes(
		attribute.String("performance.id", in.PerformanceID),
		attribute.Int("seat.count", len(in.Seats)),
	))
	defer func() { endSpan(span, err) }()

	if len(in.Seats) == 0 {
		return nil, seat.ErrSeatLocationRequired
	}
	actor := in.Actor
	if actor == "" {
		actor = audit.ActorOperator
	}

	now := s.clock.Now()
	seats := make([]*seat.Seat, 0, len(in.Seats))
	for _, spec := range in.Seats {
		st := seat.NewSeat(in.PerformanceID, spec.SectionID, spec.Row, spec.Number, spec.Price, now)
		st.ID = uuid.NewString()
		st.Accessible = spec.Accessible
		if err := st.Validate(); err != nil {
			return nil, err
		}
		seats = append(seats, st)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.seats.CreateBulk(ctx, seats); err != nil {
			return err
		}
		for _, st := range seats {
			if err := s.audit.Record(ctx, AuditEntry{
				Entity:   audit.EntitySeat,
				EntityID: st.ID,
				Action:   audit.ActionProvision,
				Actor:    actor,
				After:    auditState{Seats: seat.Snapshots([]*seat.Seat{st})},
			}); err != nil {
				return err
			}
		}
		transaction.AfterCommit(ctx, func(ctx context.Context) {
			s.invalidateAvailability(ctx, in.PerformanceID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("座席を登録しました",
		zap.String("performance_id", in.PerformanceID),
		zap.Int("count", len(seats)),
		zap.String("actor", actor),
	)
	return seats, nil
}

func (s *SeatService) GetSeat(ctx context.Context, id string) (*seat.Seat, error) {
	return s.seats.GetByID(ctx, id)
}

func (s *SeatService) ListSeats(ctx context.Context, performanceID string) ([]*seat.Seat, error) {
	return s.seats.ListByPerformance(ctx, performanceID)
}

func (s *SeatService) CountAvailableSeats(ctx context.Context, performanceID string) (int, error) {
	// キャッシュから取得を試みる
	if s.availability != nil {
		count, ok, err := s.availability.GetAvailableCount(ctx, performanceID)
		if err != nil {
			logger.Warn("キャッシュ取得エラー", zap.Error(err))
		} else if ok {
			logger.Debug("キャッシュヒット", zap.String("performance_id", performanceID), zap.Int("count", count))
			return count, nil
		}
	}

	count, err := s.seats.CountAvailableByPerformance(ctx, performanceID)
	if err != nil {
		return 0, err
	}

	if s.availability != nil {
		if cacheErr := s.availability.SetAvailableCount(ctx, performanceID, count, seatCacheTTL); cacheErr != nil {
			logger.Warn("キャッシュ保存エラー", zap.Error(cacheErr))
		}
	}
	return count, nil
}

type BlockSeatsInput struct {
	PerformanceID string
	SeatIDs       []string
	Actor         string
}

// BlockSeats は空席を販売停止にする。仮押さえ中・予約済みの座席があれば *seat.ConflictError
func (s *SeatService) BlockSeats(ctx context.Context, in BlockSeatsInput) ([]*seat.Seat, error) {
	return s.transition(ctx, in, seat.StatusAvailable, seat.StatusBlocked, audit.ActionBlock)
}

// UnblockSeats は販売停止中の座席を空席に戻す
func (s *SeatService) UnblockSeats(ctx context.Context, in BlockSeatsInput) ([]*seat.Seat, error) {
	return s.transition(ctx, in, seat.StatusBlocked, seat.StatusAvailable, audit.ActionUnblock)
}

func (s *SeatService) transition(ctx context.Context, in BlockSeatsInput, from, to seat.Status, action audit.Action) (result []*seat.Seat, err error) {
	ctx, span := tracer.Start(ctx, "SeatService."+string(action), trace.WithAttributes(
		attribute.String("performance.id", in.PerformanceID),
		attribute.Int("seat.count", len(in.SeatIDs)),
	))
	defer func() { endSpan(span, err) }()

	if in.PerformanceID == "" {
		return nil, seat.ErrPerformanceIDRequired
	}
	ids := seat.CanonicalIDs(in.SeatIDs)
	if len(ids) == 0 {
		return nil, seat.ErrSeatNotFound
	}
	actor := in.Actor
	if actor == "" {
		actor = audit.ActorOperator
	}

	err = s.locks.WithLock(ctx, ids, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			seats, err := s.seats.GetSeats(ctx, in.PerformanceID, ids)
			if err != nil {
				return err
			}
			if err := s.seats.SetStatus(ctx, ids, from, to); err != nil {
				return err
			}
			for _, st := range seats {
				before := seat.Snapshots([]*seat.Seat{st})
				if err := s.audit.Record(ctx, AuditEntry{
					Entity:   audit.EntitySeat,
					EntityID: st.ID,
					Action:   action,
					Actor:    actor,
					Before:   auditState{Seats: before},
					After:    auditState{Seats: seat.SnapshotsWithStatus([]*seat.Seat{st}, to)},
				}); err != nil {
					return err
				}
			}
			transaction.AfterCommit(ctx, func(ctx context.Context) {
				s.invalidateAvailability(ctx, in.PerformanceID)
			})
			result, err = s.seats.GetSeats(ctx, in.PerformanceID, ids)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("座席状態の変更に失敗: %w", err)
	}

	logger.FromContext(ctx).Info("座席の状態を変更しました",
		zap.Strings("seat_ids", ids),
		zap.String("actor", actor),
		zap.String("action", string(action)),
	)
	return result, nil
}
