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
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

// 確認コードの衝突時に再生成する回数
const maxValidationCodeAttempts = 5

// BookingService は決済の開始と予約の確定を扱う
// 決済失敗時の座席解放は HoldService.ReleaseForPaymentFailure が担う
type BookingService struct {
	tx           transaction.Manager
	seats        seat.Repository
	holds        hold.Repository
	bookings     booking.Repository
	locks        *LockCoordinator
	guard        *IdempotencyGuard
	audit        *AuditLogger
	paymentGrace time.Duration
	options
}

func NewBookingService(
	tx transaction.Manager,
	seats seat.Repository,
	holds hold.Repository,
	bookings booking.Repository,
	locks *LockCoordinator,
	guard *IdempotencyGuard,
	auditLogger *AuditLogger,
	paymentGrace time.Duration,
	opts ...Option,
) *BookingService {
	// 猶予が負だと決済開始で期限が縮む
	if paymentGrace < 0 {
		paymentGrace = 0
	}
	return &BookingService{
		tx:           tx,
		seats:        seats,
		holds:        holds,
		bookings:     bookings,
		locks:        locks,
		guard:        guard,
		audit:        auditLogger,
		paymentGrace: paymentGrace,
		options:      newOptions(opts),
	}
}

type BeginPaymentInput struct {
	HoldID       string
	RequesterRef string
	PaymentRef   string
	QuotedAmount int64
}

// BeginPayment は仮押さえに決済参照を記録する
// 有効期限はリセットせず、期限 + 猶予を決済中の実効期限とする
// 同じ決済参照での再呼び出しは何もせず成功を返す
func (s *BookingService) BeginPayment(ctx context.Context, in BeginPaymentInput) (h *hold.Hold, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.BeginPayment", trace.WithAttributes(attribute.String("hold.id", in.HoldID)))
	defer func() { endSpan(span, err) }()

	if in.PaymentRef == "" {
		return nil, hold.ErrPaymentRefRequired
	}
	if in.QuotedAmount <= 0 {
		return nil, hold.ErrInvalidAmount
	}

	cached, err := s.holds.GetByID(ctx, in.HoldID)
	if err != nil {
		return nil, err
	}
	if !cached.OwnedBy(in.RequesterRef) {
		return nil, hold.ErrNotHoldOwner
	}

	var started *hold.Hold
	var changed bool
	err = s.locks.WithLock(ctx, cached.SeatIDs, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := s.holds.GetByIDForUpdate(ctx, in.HoldID)
			if err != nil {
				return err
			}
			if !cur.OwnedBy(in.RequesterRef) {
				return hold.ErrNotHoldOwner
			}
			alreadyStarted := cur.PaymentRef != nil && *cur.PaymentRef == in.PaymentRef

			before := holdSnapshot(cur)
			if err := cur.BeginPayment(in.PaymentRef, in.QuotedAmount, s.paymentGrace, s.clock.Now()); err != nil {
				return err
			}
			if alreadyStarted {
				started = cur
				return nil
			}
			if err := s.holds.Update(ctx, cur, hold.StatusActive); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, AuditEntry{
				Entity:   audit.EntityHold,
				EntityID: cur.ID,
				Action:   audit.ActionBeginPayment,
				Actor:    in.RequesterRef,
				Before:   auditState{Hold: before},
				After:    auditState{Hold: holdSnapshot(cur)},
			}); err != nil {
				return err
			}
			started, changed = cur, true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		log := logger.FromContext(ctx)
		log.Info("決済を開始しました",
			zap.String("hold_id", started.ID),
			zap.Strings("seat_ids", started.SeatIDs),
			zap.String("actor", in.RequesterRef),
			zap.String("payment_ref", in.PaymentRef),
			zap.Time("payment_deadline", started.EffectiveDeadline()),
		)
		if in.QuotedAmount != started.QuotedTotal {
			log.Warn("決済額が仮押さえ時の見積額と異なります",
				zap.String("hold_id", started.ID),
				zap.Int64("quoted_amount", in.QuotedAmount),
				zap.Int64("quoted_total", started.QuotedTotal),
			)
		}
	}
	return started, nil
}

type ConfirmBookingInput struct {
	HoldID          string
	PaymentRef      string
	PaidAmount      int64
	CustomerContact string
	Actor           string
}

// ConfirmBooking は決済済みの仮押さえを予約に変換する
// 同じ決済参照での再呼び出しは既存の予約を返し、replayed を true にする
// 支払額が現在の座席価格の合計と異なる場合は booking.ErrPriceMismatch を返し、座席は仮押さえのまま残す
func (s *BookingService) ConfirmBooking(ctx context.Context, in ConfirmBookingInput) (b *booking.Booking, replayed bool, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.ConfirmBooking", trace.WithAttributes(attribute.String("hold.id", in.HoldID)))
	defer func() {
		s.metrics.BookingsTotal.WithLabelValues(bookingResult(err, replayed)).Inc()
		endSpan(span, err)
	}()

	if in.HoldID == "" {
		return nil, false, hold.ErrHoldNotFound
	}
	if in.PaymentRef == "" {
		return nil, false, booking.ErrPaymentRefRequired
	}
	if in.PaidAmount <= 0 {
		return nil, false, hold.ErrInvalidAmount
	}

	if existing, err := s.replay(ctx, in); err != nil || existing != nil {
		return existing, existing != nil, err
	}

	cached, err := s.holds.GetByID(ctx, in.HoldID)
	if err != nil {
		return nil, false, err
	}

	err = s.locks.WithLock(ctx, cached.SeatIDs, func(ctx context.Context) error {
		var lockedErr error
		b, replayed, lockedErr = s.confirmLocked(ctx, in)
		return lockedErr
	})
	if errors.Is(err, seat.ErrSeatBusy) {
		// 同じ決済参照の並行リクエストが確定済みなら、その結果を返す
		if existing, rerr := s.replay(ctx, in); rerr == nil && existing != nil {
			return existing, true, nil
		}
	}
	if err != nil {
		if errors.Is(err, booking.ErrPriceMismatch) {
			logger.FromContext(ctx).Warn("支払額が一致しないため予約を確定しません",
				zap.String("hold_id", in.HoldID),
				zap.String("payment_ref", in.PaymentRef),
				zap.Error(err),
			)
		}
		return nil, false, err
	}

	if !replayed {
		logger.FromContext(ctx).Info("予約を確定しました",
			zap.String("hold_id", in.HoldID),
			zap.String("booking_id", b.ID),
			zap.Strings("seat_ids", b.SeatIDs),
			zap.String("actor", in.Actor),
			zap.Int64("total_amount", b.TotalAmount),
		)
	}
	return b, replayed, nil
}

func bookingResult(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replay"
	case err == nil:
		return "success"
	case errors.Is(err, booking.ErrPriceMismatch):
		return "price_mismatch"
	case errors.Is(err, hold.ErrHoldExpired):
		return "expired"
	case errors.Is(err, seat.ErrSeatBusy):
		return "busy"
	default:
		return "error"
	}
}

// replay は決済参照で確定済みの予約を返す。無ければ nil
func (s *BookingService) replay(ctx context.Context, in ConfirmBookingInput) (*booking.Booking, error) {
	var existing *booking.Booking
	if id, ok := s.guard.Recall(ctx, ScopePayment, in.PaymentRef); ok {
		b, err := s.bookings.GetByID(ctx, id)
		switch {
		case err == nil:
			existing = b
		case errors.Is(err, booking.ErrBookingNotFound):
		default:
			return nil, fmt.Errorf("予約の取得に失敗: %w", err)
		}
	}
	if existing == nil {
		b, err := s.bookings.GetByPaymentRef(ctx, in.PaymentRef)
		if errors.Is(err, booking.ErrBookingNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("冪等性チェックに失敗: %w", err)
		}
		existing = b
		s.guard.Remember(ctx, ScopePayment, in.PaymentRef, b.ID)
	}

	if existing.HoldID != in.HoldID {
		return nil, booking.ErrDuplicatePaymentRef
	}
	return existing, nil
}

func (s *BookingService) confirmLocked(ctx context.Context, in ConfirmBookingInput) (*booking.Booking, bool, error) {
	var result *booking.Booking
	var replayed bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		h, err := s.holds.GetByIDForUpdate(ctx, in.HoldID)
		if err != nil {
			return err
		}

		if h.Status == hold.StatusConverted {
			if h.PaymentRef == nil || *h.PaymentRef != in.PaymentRef || h.ConvertedBookingID == nil {
				return hold.ErrHoldNotActive
			}
			existing, err := s.bookings.GetByID(ctx, *h.ConvertedBookingID)
			if err != nil {
				return err
			}
			result, replayed = existing, true
			return nil
		}
		if !h.IsActive() {
			return hold.ErrHoldNotActive
		}
		now := s.clock.Now()
		if h.IsExpiredAt(now) {
			return hold.ErrHoldExpired
		}
		if h.PaymentRef == nil || *h.PaymentRef != in.PaymentRef {
			return hold.ErrPaymentRefMismatch
		}

		seats, err := s.seats.GetSeats(ctx, h.PerformanceID, h.SeatIDs)
		if err != nil {
			return err
		}
		var drifted []string
		for _, st := range seats {
			if st.Status != seat.StatusHeld {
				drifted = append(drifted, st.ID)
			}
		}
		if len(drifted) > 0 {
			return &seat.ConflictError{SeatIDs: drifted}
		}

		prices, total, err := quoteSeats(ctx, s.pricer, seats)
		if err != nil {
			return fmt.Errorf("価格の取得に失敗: %w", err)
		}
		if in.PaidAmount != total {
			return fmt.Errorf("%w: paid=%d expected=%d", booking.ErrPriceMismatch, in.PaidAmount, total)
		}

		b, err := booking.NewBooking(h.ID, h.PerformanceID, h.SeatIDs, prices, in.PaymentRef, in.CustomerContact, now)
		if err != nil {
			return err
		}
		b.ID = uuid.NewString()
		if b.ValidationCode, err = s.uniqueValidationCode(ctx); err != nil {
			return err
		}
		if err := b.Validate(); err != nil {
			return err
		}

		before := auditState{Hold: holdSnapshot(h), Seats: seat.Snapshots(seats)}
		if err := s.bookings.Create(ctx, b); err != nil {
			return err
		}
		if err := s.seats.SetStatus(ctx, h.SeatIDs, seat.StatusHeld, seat.StatusBooked); err != nil {
			return err
		}
		if err := h.Convert(b.ID, now); err != nil {
			return err
		}
		if err := s.holds.Update(ctx, h, hold.StatusActive); err != nil {
			return err
		}
		actor := in.Actor
		if actor == "" {
			actor = audit.ActorAnonymous
		}
		if err := s.audit.Record(ctx, AuditEntry{
			Entity:   audit.EntityHold,
			EntityID: h.ID,
			Action:   audit.ActionConvert,
			Actor:    actor,
			Before:   before,
			After: auditState{
				Hold:    holdSnapshot(h),
				Seats:   seat.SnapshotsWithStatus(seats, seat.StatusBooked),
				Booking: bookingSnapshot(b),
			},
		}); err != nil {
			return err
		}

		event := BookingConfirmedEvent{
			BookingID:      b.ID,
			HoldID:         h.ID,
			PerformanceID:  b.PerformanceID,
			ValidationCode: b.ValidationCode,
			SeatIDs:        b.SeatIDs,
			TotalAmount:    b.TotalAmount,
			PaymentRef:     b.PaymentRef,
			ConfirmedAt:    b.CreatedAt,
		}
		transaction.AfterCommit(ctx, func(ctx context.Context) {
			s.guard.Remember(ctx, ScopePayment, event.PaymentRef, event.BookingID)
			s.invalidateAvailability(ctx, event.PerformanceID)
			if err := s.events.PublishBookingConfirmed(ctx, event); err != nil {
				logger.FromContext(ctx).Warn("予約確定イベントの送信に失敗", zap.String("booking_id", event.BookingID), zap.Error(err))
			}
		})
		result = b
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, replayed, nil
}

// uniqueValidationCode は未使用の確認コードを生成する
// 最終的な一意性は永続ストアの一意制約で保証する
func (s *BookingService) uniqueValidationCode(ctx context.Context) (string, error) {
	for i := 0; i < maxValidationCodeAttempts; i++ {
		code, err := booking.GenerateValidationCode()
		if err != nil {
			return "", fmt.Errorf("確認コードの生成に失敗: %w", err)
		}
		_, err = s.bookings.GetByValidationCode(ctx, code)
		if errors.Is(err, booking.ErrBookingNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("確認コードの確認に失敗: %w", err)
		}
	}
	return "", booking.ErrDuplicateValidationCode
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *BookingService) GetBookingByCode(ctx context.Context, code string) (*booking.Booking, error) {
	return s.bookings.GetByValidationCode(ctx, code)
}
