package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

// HoldConfig は仮押さえの動作パラメータ
type HoldConfig struct {
	DefaultTTL      time.Duration
	MaxLifetime     time.Duration // 作成から延長後までの総寿命の上限
	MaxSeatsPerHold int           // 0 なら無制限
	SweepBatchSize  int
}

// HoldService は仮押さえの作成・延長・解放・失効を扱う
type HoldService struct {
	tx    transaction.Manager
	seats seat.Repository
	holds hold.Repository
	locks *LockCoordinator
	guard *IdempotencyGuard
	audit *AuditLogger
	cfg   HoldConfig
	options
}

func NewHoldService(
	tx transaction.Manager,
	seats seat.Repository,
	holds hold.Repository,
	locks *LockCoordinator,
	guard *IdempotencyGuard,
	auditLogger *AuditLogger,
	cfg HoldConfig,
	opts ...Option,
) *HoldService {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 2 * cfg.DefaultTTL
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &HoldService{
		tx:      tx,
		seats:   seats,
		holds:   holds,
		locks:   locks,
		guard:   guard,
		audit:   auditLogger,
		cfg:     cfg,
		options: newOptions(opts),
	}
}

type CreateHoldInput struct {
	PerformanceID  string
	SeatIDs        []string
	SessionRef     string
	IdempotencyKey string
	TTL            time.Duration // 0 なら既定値
}

// CreateHold は座席集合を仮押さえする
// 同じ冪等性キーの有効な仮押さえがあればそれを返す
// 座席が取れない場合は *seat.ConflictError を返し、何も変更しない
func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (h *hold.Hold, err error) {
	ctx, span := tracer.Start(ctx, "HoldService.CreateHold", trace.WithAttributes(
		attribute.String("performance.id", in.PerformanceID),
		attribute.Int("seat.count", len(in.SeatIDs)),
	))
	var replayed bool
	defer func() {
		s.metrics.HoldsTotal.WithLabelValues(holdResult(err, replayed)).Inc()
		endSpan(span, err)
	}()

	seatIDs, ttl, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}

	existing, err := s.replay(ctx, in, seatIDs)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		replayed = true
		return existing, nil
	}

	err = s.locks.WithLock(ctx, seatIDs, func(ctx context.Context) error {
		// ロック待ちの間に同じキーで作成されていないか再確認する
		existing, err := s.replay(ctx, in, seatIDs)
		if err != nil {
			return err
		}
		if existing != nil {
			h, replayed = existing, true
			return nil
		}
		if err := s.reclaimStale(ctx, seatIDs); err != nil {
			return err
		}
		h, err = s.createLocked(ctx, in, seatIDs, ttl)
		return err
	})
	if errors.Is(err, seat.ErrSeatBusy) || errors.Is(err, hold.ErrIdempotencyKeyAlreadyExists) {
		// 同じキーの並行リクエストが先に作成していれば、その結果を返す
		if existing, rerr := s.replay(ctx, in, seatIDs); rerr != nil {
			err = rerr
		} else if existing != nil {
			h, replayed, err = existing, true, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if !replayed {
		logger.FromContext(ctx).Info("仮押さえを作成しました",
			zap.String("hold_id", h.ID),
			zap.Strings("seat_ids", h.SeatIDs),
			zap.String("actor", in.SessionRef),
			zap.Time("expires_at", h.ExpiresAt),
		)
	}
	return h, nil
}

func holdResult(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replay"
	case err == nil:
		return "success"
	case errors.Is(err, seat.ErrSeatConflict):
		return "conflict"
	case errors.Is(err, seat.ErrSeatBusy):
		return "busy"
	default:
		return "error"
	}
}

func (s *HoldService) validateCreate(in CreateHoldInput) ([]string, time.Duration, error) {
	if in.PerformanceID == "" {
		return nil, 0, hold.ErrPerformanceIDRequired
	}
	if in.SessionRef == "" {
		return nil, 0, hold.ErrSessionRefRequired
	}
	if in.IdempotencyKey == "" {
		return nil, 0, hold.ErrIdempotencyKeyRequired
	}
	if len(in.SeatIDs) == 0 {
		return nil, 0, hold.ErrSeatIDsRequired
	}
	for _, id := range in.SeatIDs {
		if id == "" {
			return nil, 0, hold.ErrSeatIDsRequired
		}
	}
	seatIDs := seat.CanonicalIDs(in.SeatIDs)
	if len(seatIDs) != len(in.SeatIDs) {
		return nil, 0, hold.ErrDuplicateSeatIDs
	}
	if s.cfg.MaxSeatsPerHold > 0 && len(seatIDs) > s.cfg.MaxSeatsPerHold {
		return nil, 0, hold.ErrTooManySeats
	}

	ttl := in.TTL
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl < 0 || ttl > s.cfg.MaxLifetime {
		return nil, 0, hold.ErrInvalidTTL
	}
	return seatIDs, ttl, nil
}

// replay は冪等性キーに対応する有効な仮押さえを返す。無ければ nil
func (s *HoldService) replay(ctx context.Context, in CreateHoldInput, seatIDs []string) (*hold.Hold, error) {
	var existing *hold.Hold
	if id, ok := s.guard.Recall(ctx, ScopeHold, in.IdempotencyKey); ok {
		h, err := s.getDurable(ctx, id)
		switch {
		case err == nil:
			existing = h
		case errors.Is(err, hold.ErrHoldNotFound):
		default:
			return nil, fmt.Errorf("仮押さえの取得に失敗: %w", err)
		}
	}
	if existing == nil {
		h, err := s.holds.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if errors.Is(err, hold.ErrHoldNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("冪等性チェックに失敗: %w", err)
		}
		existing = h
		s.guard.Remember(ctx, ScopeHold, in.IdempotencyKey, h.ID)
	}

	if !existing.SameRequest(in.PerformanceID, in.SessionRef, seatIDs) {
		return nil, hold.ErrIdempotencyConflict
	}
	if !existing.IsLiveAt(s.clock.Now()) {
		return nil, hold.ErrIdempotencyKeyConsumed
	}
	return existing, nil
}

// durableGetter は一時ストアを経由しない読み取りを持つストア
type durableGetter interface {
	GetDurable(ctx context.Context, id string) (*hold.Hold, error)
}

// getDurable は状態判定に使う読み取り。一時ストアの古い写しは使わない
func (s *HoldService) getDurable(ctx context.Context, id string) (*hold.Hold, error) {
	if d, ok := s.holds.(durableGetter); ok {
		return d.GetDurable(ctx, id)
	}
	return s.holds.GetByID(ctx, id)
}

// reclaimStale は座席に残る期限切れの仮押さえをその場で失効させる
// 有効な仮押さえと重なる座席があれば *seat.ConflictError を返す
func (s *HoldService) reclaimStale(ctx context.Context, seatIDs []string) error {
	active, err := s.holds.ListActiveBySeatIDs(ctx, seatIDs)
	if err != nil {
		return fmt.Errorf("有効な仮押さえの取得に失敗: %w", err)
	}

	requested := make(map[string]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		requested[id] = struct{}{}
	}

	now := s.clock.Now()
	var conflicting []string
	for _, other := range active {
		if other.IsLiveAt(now) {
			for _, id := range other.SeatIDs {
				if _, ok := requested[id]; ok {
					conflicting = append(conflicting, id)
				}
			}
			continue
		}

		// 期限切れの仮押さえの座席のうち、まだロックしていないものを追加でロックする
		var extra []string
		for _, id := range other.SeatIDs {
			if _, ok := requested[id]; !ok {
				extra = append(extra, id)
			}
		}
		stale := other
		err := s.locks.WithLock(ctx, extra, func(ctx context.Context) error {
			_, err := s.expireLocked(ctx, stale.ID, audit.ActorHoldManager)
			return err
		})
		if err != nil && !errors.Is(err, hold.ErrHoldNotActive) && !errors.Is(err, hold.ErrHoldNotExpired) {
			return err
		}
	}

	if len(conflicting) > 0 {
		return &seat.ConflictError{SeatIDs: seat.CanonicalIDs(conflicting)}
	}
	return nil
}

func (s *HoldService) createLocked(ctx context.Context, in CreateHoldInput, seatIDs []string, ttl time.Duration) (*hold.Hold, error) {
	var created *hold.Hold
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		seats, err := s.seats.GetSeats(ctx, in.PerformanceID, seatIDs)
		if err != nil {
			return err
		}
		var unavailable []string
		for _, st := range seats {
			if !st.IsAvailable() {
				unavailable = append(unavailable, st.ID)
			}
		}
		if len(unavailable) > 0 {
			return &seat.ConflictError{SeatIDs: unavailable}
		}

		_, total, err := quoteSeats(ctx, s.pricer, seats)
		if err != nil {
			return fmt.Errorf("価格の取得に失敗: %w", err)
		}

		h := hold.NewHold(in.PerformanceID, in.SessionRef, in.IdempotencyKey, seatIDs, total, ttl, s.clock.Now())
		h.ID = uuid.NewString()
		if err := h.Validate(); err != nil {
			return err
		}

		if err := s.seats.SetStatus(ctx, seatIDs, seat.StatusAvailable, seat.StatusHeld); err != nil {
			return err
		}
		if err := s.holds.Create(ctx, h); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, AuditEntry{
			Entity:   audit.EntityHold,
			EntityID: h.ID,
			Action:   audit.ActionHold,
			Actor:    in.SessionRef,
			Before:   auditState{Seats: seat.Snapshots(seats)},
			After:    auditState{Hold: holdSnapshot(h), Seats: seat.SnapshotsWithStatus(seats, seat.StatusHeld)},
		}); err != nil {
			return err
		}

		transaction.AfterCommit(ctx, func(ctx context.Context) {
			s.guard.Remember(ctx, ScopeHold, h.IdempotencyKey, h.ID)
			s.invalidateAvailability(ctx, h.PerformanceID)
		})
		created = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetHold は仮押さえを取得する（一時ストア優先）
func (s *HoldService) GetHold(ctx context.Context, id string) (*hold.Hold, error) {
	return s.holds.GetByID(ctx, id)
}

// ReleaseHold は所有者の要求で仮押さえを取り消し、座席を空席に戻す
// 取消済みの仮押さえに対しては何もせず成功を返す
func (s *HoldService) ReleaseHold(ctx context.Context, holdID, requesterRef string) (h *hold.Hold, err error) {
	ctx, span := tracer.Start(ctx, "HoldService.ReleaseHold", trace.WithAttributes(attribute.String("hold.id", holdID)))
	defer func() { endSpan(span, err) }()

	return s.release(ctx, releaseRequest{
		holdID: holdID,
		actor:  requesterRef,
		action: audit.ActionRelease,
		authorize: func(h *hold.Hold) error {
			if !h.OwnedBy(requesterRef) {
				return hold.ErrNotHoldOwner
			}
			return nil
		},
	})
}

// ReleaseForPaymentFailure は決済失敗・タイムアウトの通知で仮押さえを取り消す
// 仮押さえに記録された決済参照と一致する場合のみ受け付ける
func (s *HoldService) ReleaseForPaymentFailure(ctx context.Context, holdID, paymentRef string) (h *hold.Hold, err error) {
	ctx, span := tracer.Start(ctx, "HoldService.ReleaseForPaymentFailure", trace.WithAttributes(attribute.String("hold.id", holdID)))
	defer func() { endSpan(span, err) }()

	if paymentRef == "" {
		return nil, hold.ErrPaymentRefRequired
	}
	return s.release(ctx, releaseRequest{
		holdID: holdID,
		actor:  audit.ActorPaymentAuthority,
		action: audit.ActionCancel,
		authorize: func(h *hold.Hold) error {
			if h.PaymentRef == nil || *h.PaymentRef != paymentRef {
				return hold.ErrPaymentRefMismatch
			}
			return nil
		},
	})
}

type releaseRequest struct {
	holdID    string
	actor     string
	action    audit.Action
	authorize func(h *hold.Hold) error
}

func (s *HoldService) release(ctx context.Context, req releaseRequest) (*hold.Hold, error) {
	h, err := s.holds.GetByID(ctx, req.holdID)
	if err != nil {
		return nil, err
	}
	if err := req.authorize(h); err != nil {
		return nil, err
	}
	if h.Status == hold.StatusCancelled {
		return h, nil
	}
	if !h.IsActive() {
		return nil, hold.ErrHoldNotActive
	}

	var released *hold.Hold
	var changed bool
	err = s.locks.WithLock(ctx, h.SeatIDs, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := s.holds.GetByIDForUpdate(ctx, req.holdID)
			if err != nil {
				return err
			}
			if err := req.authorize(cur); err != nil {
				return err
			}
			if cur.Status == hold.StatusCancelled {
				released = cur
				return nil
			}

			before := holdSnapshot(cur)
			if err := cur.Cancel(s.clock.Now()); err != nil {
				return err
			}
			seats, err := s.seats.GetSeats(ctx, cur.PerformanceID, cur.SeatIDs)
			if err != nil {
				return err
			}
			if err := s.seats.SetStatus(ctx, cur.SeatIDs, seat.StatusHeld, seat.StatusAvailable); err != nil {
				return fmt.Errorf("座席の解放に失敗: %w", err)
			}
			if err := s.holds.Update(ctx, cur, hold.StatusActive); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, AuditEntry{
				Entity:   audit.EntityHold,
				EntityID: cur.ID,
				Action:   req.action,
				Actor:    req.actor,
				Before:   auditState{Hold: before, Seats: seat.Snapshots(seats)},
				After:    auditState{Hold: holdSnapshot(cur), Seats: seat.SnapshotsWithStatus(seats, seat.StatusAvailable)},
			}); err != nil {
				return err
			}

			transaction.AfterCommit(ctx, func(ctx context.Context) {
				s.invalidateAvailability(ctx, cur.PerformanceID)
			})
			released, changed = cur, true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logger.FromContext(ctx).Info("仮押さえを取り消しました",
			zap.String("hold_id", released.ID),
			zap.Strings("seat_ids", released.SeatIDs),
			zap.String("actor", req.actor),
			zap.String("action", string(req.action)),
		)
	}
	return released, nil
}

// ExtendHold は所有者の要求で有効期限を延長する
// 決済開始後と期限切れ後は延長できない
func (s *HoldService) ExtendHold(ctx context.Context, holdID, requesterRef string, additional time.Duration) (h *hold.Hold, err error) {
	ctx, span := tracer.Start(ctx, "HoldService.ExtendHold", trace.WithAttributes(attribute.String("hold.id", holdID)))
	defer func() { endSpan(span, err) }()

	cached, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if !cached.OwnedBy(requesterRef) {
		return nil, hold.ErrNotHoldOwner
	}

	var extended *hold.Hold
	err = s.locks.WithLock(ctx, cached.SeatIDs, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := s.holds.GetByIDForUpdate(ctx, holdID)
			if err != nil {
				return err
			}
			if !cur.OwnedBy(requesterRef) {
				return hold.ErrNotHoldOwner
			}
			before := holdSnapshot(cur)
			if err := cur.Extend(additional, s.cfg.MaxLifetime, s.clock.Now()); err != nil {
				return err
			}
			if err := s.holds.Update(ctx, cur, hold.StatusActive); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, AuditEntry{
				Entity:   audit.EntityHold,
				EntityID: cur.ID,
				Action:   audit.ActionExtend,
				Actor:    requesterRef,
				Before:   auditState{Hold: before},
				After:    auditState{Hold: holdSnapshot(cur)},
			}); err != nil {
				return err
			}
			extended = cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("仮押さえを延長しました",
		zap.String("hold_id", extended.ID),
		zap.Strings("seat_ids", extended.SeatIDs),
		zap.String("actor", requesterRef),
		zap.Time("expires_at", extended.ExpiresAt),
	)
	return extended, nil
}

// ExpireHolds は実効期限を過ぎた仮押さえを失効させ、失効件数を返す
// ロック中の座席を含む仮押さえはスキップし、次回に持ち越す
// 個別の失敗はログに記録して処理を続ける
func (s *HoldService) ExpireHolds(ctx context.Context) (n int, err error) {
	ctx, span := tracer.Start(ctx, "HoldService.ExpireHolds")
	defer func() {
		span.SetAttributes(attribute.Int("hold.expired", n))
		endSpan(span, err)
	}()

	candidates, err := s.holds.ListExpirable(ctx, s.clock.Now(), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("期限切れ仮押さえの取得に失敗: %w", err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		err := s.locks.WithLock(ctx, c.SeatIDs, func(ctx context.Context) error {
			_, err := s.expireLocked(ctx, c.ID, audit.ActorSweeper)
			return err
		})
		switch {
		case err == nil:
			n++
		case errors.Is(err, seat.ErrSeatBusy):
			logger.Debug("座席がロック中のため失効をスキップ", zap.String("hold_id", c.ID))
		case errors.Is(err, hold.ErrHoldNotActive), errors.Is(err, hold.ErrHoldNotExpired):
			logger.Debug("再確認の結果、失効対象外", zap.String("hold_id", c.ID), zap.Error(err))
		default:
			logger.FromContext(ctx).Error("仮押さえの失効に失敗",
				zap.String("hold_id", c.ID),
				zap.Strings("seat_ids", c.SeatIDs),
				zap.Error(err),
			)
		}
	}
	return n, nil
}

// expireLocked は座席ロック取得済みの状態で呼ぶ
// 永続ストアの最新状態で期限切れを再確認してから失効させる
func (s *HoldService) expireLocked(ctx context.Context, holdID, actor string) (*hold.Hold, error) {
	var expired *hold.Hold
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		h, err := s.holds.GetByIDForUpdate(ctx, holdID)
		if err != nil {
			return err
		}
		before := holdSnapshot(h)
		if err := h.Expire(s.clock.Now()); err != nil {
			return err
		}
		seats, err := s.seats.GetSeats(ctx, h.PerformanceID, h.SeatIDs)
		if err != nil {
			return err
		}
		if err := s.seats.SetStatus(ctx, h.SeatIDs, seat.StatusHeld, seat.StatusAvailable); err != nil {
			return fmt.Errorf("座席の解放に失敗: %w", err)
		}
		if err := s.holds.Update(ctx, h, hold.StatusActive); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, AuditEntry{
			Entity:   audit.EntityHold,
			EntityID: h.ID,
			Action:   audit.ActionExpire,
			Actor:    actor,
			Before:   auditState{Hold: before, Seats: seat.Snapshots(seats)},
			After:    auditState{Hold: holdSnapshot(h), Seats: seat.SnapshotsWithStatus(seats, seat.StatusAvailable)},
		}); err != nil {
			return err
		}

		event := HoldExpiredEvent{
			HoldID:        h.ID,
			PerformanceID: h.PerformanceID,
			SeatIDs:       h.SeatIDs,
			ExpiredAt:     h.UpdatedAt,
		}
		transaction.AfterCommit(ctx, func(ctx context.Context) {
			s.metrics.HoldsExpiredTotal.Inc()
			s.invalidateAvailability(ctx, event.PerformanceID)
			if err := s.events.PublishHoldExpired(ctx, event); err != nil {
				logger.FromContext(ctx).Warn("失効イベントの送信に失敗", zap.String("hold_id", event.HoldID), zap.Error(err))
			}
		})
		expired = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("仮押さえを失効しました",
		zap.String("hold_id", expired.ID),
		zap.Strings("seat_ids", expired.SeatIDs),
		zap.String("actor", actor),
	)
	return expired, nil
}
