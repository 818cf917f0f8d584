package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

// recordingPublisher は送信されたイベントを保持する
type recordingPublisher struct {
	mu        sync.Mutex
	confirmed []BookingConfirmedEvent
	expired   []HoldExpiredEvent
}

func (p *recordingPublisher) PublishBookingConfirmed(_ context.Context, e BookingConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return nil
}

func (p *recordingPublisher) PublishHoldExpired(_ context.Context, e HoldExpiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, e)
	return nil
}

func (e *testEnv) beginPayment(t testing.TB, h *hold.Hold, paymentRef string) *hold.Hold {
	t.Helper()
	started, err := e.bookingService.BeginPayment(context.Background(), BeginPaymentInput{
		HoldID:       h.ID,
		RequesterRef: h.SessionRef,
		PaymentRef:   paymentRef,
		QuotedAmount: h.QuotedTotal,
	})
	require.NoError(t, err)
	return started
}

func TestBookingService_BeginPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("猶予期限を記録し有効期限は変えない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.clock.Advance(3 * time.Minute)

		started := env.beginPayment(t, h, "pay-1")

		assert.Equal(t, h.ExpiresAt, started.ExpiresAt)
		require.NotNil(t, started.PaymentRef)
		assert.Equal(t, "pay-1", *started.PaymentRef)
		assert.Equal(t, h.ExpiresAt.Add(testPaymentGrace), started.EffectiveDeadline())
		assert.Equal(t, []audit.Action{audit.ActionHold, audit.ActionBeginPayment}, env.history(t, audit.EntityHold, h.ID))
	})

	t.Run("負の猶予は0として扱い期限を縮めない", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewBookingService(env.db, env.seatRepo, env.holds, env.bookings, nil, nil, env.audit, -time.Minute)
		assert.Equal(t, time.Duration(0), svc.paymentGrace)
	})

	t.Run("同じ決済参照の再呼び出しは記録を増やさない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)

		env.beginPayment(t, h, "pay-1")
		again := env.beginPayment(t, h, "pay-1")

		assert.Equal(t, "pay-1", *again.PaymentRef)
		assert.Len(t, env.history(t, audit.EntityHold, h.ID), 2)
	})

	t.Run("別の決済参照は拒否", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.beginPayment(t, h, "pay-1")

		_, err := env.bookingService.BeginPayment(ctx, BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-1", PaymentRef: "pay-2", QuotedAmount: 5000})
		assert.ErrorIs(t, err, hold.ErrPaymentAlreadyStarted)
	})

	t.Run("エラーケース", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		released := env.hold(t, "session-1", "key-2", seats[1].ID)
		_, err := env.holdService.ReleaseHold(ctx, released.ID, "session-1")
		require.NoError(t, err)

		tests := []struct {
			name    string
			input   BeginPaymentInput
			wantErr error
		}{
			{"決済参照なし", BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-1", QuotedAmount: 5000}, hold.ErrPaymentRefRequired},
			{"金額が0", BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-1", PaymentRef: "pay-1"}, hold.ErrInvalidAmount},
			{"所有者以外", BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-2", PaymentRef: "pay-1", QuotedAmount: 5000}, hold.ErrNotHoldOwner},
			{"存在しない仮押さえ", BeginPaymentInput{HoldID: "no-such-hold", RequesterRef: "session-1", PaymentRef: "pay-1", QuotedAmount: 5000}, hold.ErrHoldNotFound},
			{"取消済み", BeginPaymentInput{HoldID: released.ID, RequesterRef: "session-1", PaymentRef: "pay-1", QuotedAmount: 5000}, hold.ErrHoldNotActive},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.bookingService.BeginPayment(ctx, tt.input)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
	})

	t.Run("期限切れ後は開始できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.clock.Advance(testHoldTTL)

		_, err := env.bookingService.BeginPayment(ctx, BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-1", PaymentRef: "pay-1", QuotedAmount: 5000})
		assert.ErrorIs(t, err, hold.ErrHoldExpired)
	})
}

func TestBookingService_ConfirmBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("決済済みの仮押さえを予約に変換する", func(t *testing.T) {
		publisher := &recordingPublisher{}
		env := newTestEnv(t, func(d *testDeps) { d.publisher = publisher })
		seats := env.provision(t, 5000, 6000)
		h := env.hold(t, "session-1", "key-1", seatIDs(seats...)...)
		env.beginPayment(t, h, "pay-1")

		b, replayed, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{
			HoldID:          h.ID,
			PaymentRef:      "pay-1",
			PaidAmount:      11000,
			CustomerContact: "hamlet@example.com",
			Actor:           audit.ActorPaymentAuthority,
		})
		require.NoError(t, err)

		assert.False(t, replayed)
		assert.Equal(t, h.ID, b.HoldID)
		assert.Equal(t, h.SeatIDs, b.SeatIDs)
		assert.Equal(t, int64(11000), b.TotalAmount)
		assert.Len(t, b.ValidationCode, booking.ValidationCodeLength)

		converted := env.durableHold(t, h.ID)
		assert.Equal(t, hold.StatusConverted, converted.Status)
		require.NotNil(t, converted.ConvertedBookingID)
		assert.Equal(t, b.ID, *converted.ConvertedBookingID)
		assert.Equal(t, repeatedStatus(seat.StatusBooked, 2), env.seatStatuses(t, seatIDs(seats...)...))

		records, err := env.audit.History(ctx, audit.EntityHold, h.ID)
		require.NoError(t, err)
		last := records[len(records)-1]
		assert.Equal(t, audit.ActionConvert, last.Action)
		assert.Equal(t, audit.ActorPaymentAuthority, last.Actor)
		assert.Contains(t, string(last.After), b.ValidationCode)

		byCode, err := env.bookingService.GetBookingByCode(ctx, b.ValidationCode)
		require.NoError(t, err)
		assert.Equal(t, b.ID, byCode.ID)

		require.Len(t, publisher.confirmed, 1)
		assert.Equal(t, b.ID, publisher.confirmed[0].BookingID)
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.BookingsTotal.WithLabelValues("success")))
	})

	t.Run("実行者なしの確定は匿名として記録する", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.beginPayment(t, h, "pay-1")

		_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 5000})
		require.NoError(t, err)

		records, err := env.audit.History(ctx, audit.EntityHold, h.ID)
		require.NoError(t, err)
		last := records[len(records)-1]
		assert.Equal(t, audit.ActionConvert, last.Action)
		assert.Equal(t, audit.ActorAnonymous, last.Actor)
	})

	t.Run("決済未開始なら確定できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)

		_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 5000})
		assert.ErrorIs(t, err, hold.ErrPaymentRefMismatch)
		assert.Equal(t, seat.StatusHeld, env.seatStatuses(t, seats[0].ID)[0])
	})

	t.Run("決済参照が異なれば確定できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.beginPayment(t, h, "pay-1")

		_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-2", PaidAmount: 5000})
		assert.ErrorIs(t, err, hold.ErrPaymentRefMismatch)
	})

	t.Run("実効期限を過ぎたら確定できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.beginPayment(t, h, "pay-1")
		env.clock.Advance(testHoldTTL + testPaymentGrace)

		_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 5000})
		assert.ErrorIs(t, err, hold.ErrHoldExpired)
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.BookingsTotal.WithLabelValues("expired")))
	})

	t.Run("猶予期間内なら有効期限後でも確定できる", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.beginPayment(t, h, "pay-1")
		env.clock.Advance(testHoldTTL + time.Minute)

		_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 5000})
		require.NoError(t, err)
		assert.Equal(t, seat.StatusBooked, env.seatStatuses(t, seats[0].ID)[0])
	})

	t.Run("取消済みの仮押さえは確定できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.beginPayment(t, h, "pay-1")
		_, err := env.holdService.ReleaseForPaymentFailure(ctx, h.ID, "pay-1")
		require.NoError(t, err)

		_, _, err = env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 5000})
		assert.ErrorIs(t, err, hold.ErrHoldNotActive)
	})

	t.Run("同じ決済参照を別の仮押さえに使うとエラー", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)
		first := env.hold(t, "session-1", "key-1", seats[0].ID)
		second := env.hold(t, "session-2", "key-2", seats[1].ID)
		env.beginPayment(t, first, "pay-1")
		env.beginPayment(t, second, "pay-1")

		_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: first.ID, PaymentRef: "pay-1", PaidAmount: 5000})
		require.NoError(t, err)

		_, _, err = env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: second.ID, PaymentRef: "pay-1", PaidAmount: 5000})
		assert.ErrorIs(t, err, booking.ErrDuplicatePaymentRef)
		assert.Equal(t, seat.StatusHeld, env.seatStatuses(t, seats[1].ID)[0])
	})

	t.Run("入力検証", func(t *testing.T) {
		env := newTestEnv(t)

		_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: "h", PaidAmount: 100})
		assert.ErrorIs(t, err, booking.ErrPaymentRefRequired)
		_, _, err = env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: "h", PaymentRef: "pay-1"})
		assert.ErrorIs(t, err, hold.ErrInvalidAmount)
		_, _, err = env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: "no-such-hold", PaymentRef: "pay-1", PaidAmount: 100})
		assert.ErrorIs(t, err, hold.ErrHoldNotFound)
	})
}

func TestBookingService_ConfirmBooking_PriceIntegrity(t *testing.T) {
	ctx := context.Background()
	quoter := fixedQuoter{}
	env := newTestEnv(t, func(d *testDeps) { d.pricer = quoter })
	seats := env.provision(t, 5000, 5000)
	h := env.hold(t, "session-1", "key-1", seatIDs(seats...)...)
	env.beginPayment(t, h, "pay-1")

	// 仮押さえ後に価格が変わった
	quoter[seats[1].ID] = 7000

	_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 10000})
	require.ErrorIs(t, err, booking.ErrPriceMismatch)

	_, err = env.bookings.GetByPaymentRef(ctx, "pay-1")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
	assert.Equal(t, repeatedStatus(seat.StatusHeld, 2), env.seatStatuses(t, seatIDs(seats...)...))
	assert.Equal(t, hold.StatusActive, env.durableHold(t, h.ID).Status)
	assert.Equal(t, []audit.Action{audit.ActionHold, audit.ActionBeginPayment}, env.history(t, audit.EntityHold, h.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.BookingsTotal.WithLabelValues("price_mismatch")))

	b, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 12000})
	require.NoError(t, err)
	assert.Equal(t, []int64{5000, 7000}, pricesBySeat(b, seats[0].ID, seats[1].ID))
}

func pricesBySeat(b *booking.Booking, ids ...string) []int64 {
	byID := make(map[string]int64, len(b.SeatIDs))
	for i, id := range b.SeatIDs {
		byID[id] = b.Prices[i]
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

func TestBookingService_ConfirmBooking_AuditWriteFailure(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	env := newTestEnv(t, func(d *testDeps) {
		d.auditRepo = &failingAuditRepo{Repository: d.auditRepo, failOn: audit.ActionConvert}
		d.publisher = publisher
	})
	seats := env.provision(t, 5000)
	h := env.hold(t, "session-1", "key-1", seats[0].ID)
	env.beginPayment(t, h, "pay-1")

	_, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 5000})
	require.ErrorIs(t, err, audit.ErrAuditWriteFailed)

	_, err = env.bookings.GetByPaymentRef(ctx, "pay-1")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
	assert.Equal(t, seat.StatusHeld, env.seatStatuses(t, seats[0].ID)[0])
	assert.Equal(t, hold.StatusActive, env.durableHold(t, h.ID).Status)
	assert.Empty(t, publisher.confirmed)

	// 一時ストアにも変換後の状態は反映されない
	cached, err := env.holdService.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusActive, cached.Status)
}

func TestBookingService_ConfirmBooking_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seats := env.provision(t, 5000, 5000)
	h := env.hold(t, "session-1", "key-1", seatIDs(seats...)...)
	env.beginPayment(t, h, "pay-1")

	const n = 10
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _, err := env.bookingService.ConfirmBooking(ctx, ConfirmBookingInput{HoldID: h.ID, PaymentRef: "pay-1", PaidAmount: 10000})
			errs[i] = err
			if err == nil {
				ids[i] = b.ID
			}
		}(i)
	}
	wg.Wait()

	var bookingID string
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], seat.ErrSeatBusy)
			continue
		}
		if bookingID == "" {
			bookingID = ids[i]
		}
		assert.Equal(t, bookingID, ids[i])
	}
	require.NotEmpty(t, bookingID)

	stored, err := env.bookings.GetByPaymentRef(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, bookingID, stored.ID)

	converts := 0
	for _, a := range env.history(t, audit.EntityHold, h.ID) {
		if a == audit.ActionConvert {
			converts++
		}
	}
	assert.Equal(t, 1, converts)
}
