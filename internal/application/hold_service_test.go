package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

func TestHoldService_CreateHold(t *testing.T) {
	ctx := context.Background()

	t.Run("空席を仮押さえできる", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000, 6000)

		h, err := env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        []string{seats[2].ID, seats[0].ID},
			SessionRef:     "session-1",
			IdempotencyKey: "key-1",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, h.ID)
		assert.Equal(t, hold.StatusActive, h.Status)
		assert.Equal(t, seat.CanonicalIDs([]string{seats[0].ID, seats[2].ID}), h.SeatIDs)
		assert.Equal(t, int64(11000), h.QuotedTotal)
		assert.Equal(t, testNow.Add(testHoldTTL), h.ExpiresAt)
		assert.Equal(t, []seat.Status{seat.StatusHeld, seat.StatusAvailable, seat.StatusHeld},
			env.seatStatuses(t, seatIDs(seats...)...))
		assert.Equal(t, []audit.Action{audit.ActionHold}, env.history(t, audit.EntityHold, h.ID))
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HoldsTotal.WithLabelValues("success")))
	})

	t.Run("TTLを指定できる", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)

		h, err := env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        seatIDs(seats...),
			SessionRef:     "session-1",
			IdempotencyKey: "key-1",
			TTL:            time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(time.Second), h.ExpiresAt)
	})

	t.Run("入力検証", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)

		tests := []struct {
			name    string
			input   CreateHoldInput
			wantErr error
		}{
			{
				name:    "公演IDなし",
				input:   CreateHoldInput{SeatIDs: seatIDs(seats...), SessionRef: "s", IdempotencyKey: "k"},
				wantErr: hold.ErrPerformanceIDRequired,
			},
			{
				name:    "セッションなし",
				input:   CreateHoldInput{PerformanceID: testPerformance, SeatIDs: seatIDs(seats...), IdempotencyKey: "k"},
				wantErr: hold.ErrSessionRefRequired,
			},
			{
				name:    "冪等性キーなし",
				input:   CreateHoldInput{PerformanceID: testPerformance, SeatIDs: seatIDs(seats...), SessionRef: "s"},
				wantErr: hold.ErrIdempotencyKeyRequired,
			},
			{
				name:    "座席なし",
				input:   CreateHoldInput{PerformanceID: testPerformance, SessionRef: "s", IdempotencyKey: "k"},
				wantErr: hold.ErrSeatIDsRequired,
			},
			{
				name:    "座席の重複",
				input:   CreateHoldInput{PerformanceID: testPerformance, SeatIDs: []string{seats[0].ID, seats[0].ID}, SessionRef: "s", IdempotencyKey: "k"},
				wantErr: hold.ErrDuplicateSeatIDs,
			},
			{
				name:    "TTLが上限超過",
				input:   CreateHoldInput{PerformanceID: testPerformance, SeatIDs: seatIDs(seats...), SessionRef: "s", IdempotencyKey: "k", TTL: testMaxLifetime + time.Second},
				wantErr: hold.ErrInvalidTTL,
			},
			{
				name:    "存在しない座席",
				input:   CreateHoldInput{PerformanceID: testPerformance, SeatIDs: []string{"no-such-seat"}, SessionRef: "s", IdempotencyKey: "k"},
				wantErr: seat.ErrSeatNotFound,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.holdService.CreateHold(ctx, tt.input)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
		assert.Equal(t, repeatedStatus(seat.StatusAvailable, 2), env.seatStatuses(t, seatIDs(seats...)...))
	})

	t.Run("座席数の上限", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

		_, err := env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        seatIDs(seats...),
			SessionRef:     "s",
			IdempotencyKey: "k",
		})
		assert.ErrorIs(t, err, hold.ErrTooManySeats)
	})

	t.Run("重なる座席は全体が失敗し重なった座席のみ報告される", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000, 5000)
		env.hold(t, "session-1", "key-1", seats[0].ID, seats[1].ID)

		_, err := env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        []string{seats[1].ID, seats[2].ID},
			SessionRef:     "session-2",
			IdempotencyKey: "key-2",
		})
		require.ErrorIs(t, err, seat.ErrSeatConflict)
		assert.Equal(t, []string{seats[1].ID}, seat.ConflictingSeatIDs(err))
		assert.Equal(t, seat.StatusAvailable, env.seatStatuses(t, seats[2].ID)[0])
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HoldsTotal.WithLabelValues("conflict")))
	})

	t.Run("販売停止中の座席は仮押さえできない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)
		_, err := env.seatService.BlockSeats(ctx, BlockSeatsInput{PerformanceID: testPerformance, SeatIDs: []string{seats[0].ID}})
		require.NoError(t, err)

		_, err = env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        seatIDs(seats...),
			SessionRef:     "session-1",
			IdempotencyKey: "key-1",
		})
		require.ErrorIs(t, err, seat.ErrSeatConflict)
		assert.Equal(t, []string{seats[0].ID}, seat.ConflictingSeatIDs(err))
	})

	t.Run("期限切れの仮押さえはその場で失効させて再利用する", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000, 5000)
		stale := env.hold(t, "session-1", "key-1", seats[0].ID, seats[1].ID)

		env.clock.Advance(testHoldTTL)

		h := env.hold(t, "session-2", "key-2", seats[1].ID, seats[2].ID)
		assert.Equal(t, seat.CanonicalIDs([]string{seats[1].ID, seats[2].ID}), h.SeatIDs)

		expired := env.durableHold(t, stale.ID)
		assert.Equal(t, hold.StatusExpired, expired.Status)
		// 失効した仮押さえの残りの座席は空席に戻る
		assert.Equal(t, []seat.Status{seat.StatusAvailable, seat.StatusHeld, seat.StatusHeld},
			env.seatStatuses(t, seatIDs(seats...)...))

		records, err := env.audit.History(ctx, audit.EntityHold, stale.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, audit.ActionExpire, records[1].Action)
		assert.Equal(t, audit.ActorHoldManager, records[1].Actor)
	})
}

func TestHoldService_CreateHold_Idempotency(t *testing.T) {
	ctx := context.Background()

	t.Run("同じキーの再送は同じ仮押さえを返す", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)
		in := CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        seatIDs(seats...),
			SessionRef:     "session-1",
			IdempotencyKey: "key-1",
		}

		first, err := env.holdService.CreateHold(ctx, in)
		require.NoError(t, err)

		// 座席の順序が違っても同じ要求として扱う
		in.SeatIDs = []string{seats[1].ID, seats[0].ID}
		second, err := env.holdService.CreateHold(ctx, in)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, []audit.Action{audit.ActionHold}, env.history(t, audit.EntityHold, first.ID))
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HoldsTotal.WithLabelValues("replay")))
	})

	t.Run("冪等性ストアが空でも永続ストアで判定する", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		first := env.hold(t, "session-1", "key-1", seats[0].ID)

		env.holdService.guard = NewIdempotencyGuard(nil, 0)
		second := env.hold(t, "session-1", "key-1", seats[0].ID)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("同じキーで内容が異なればエラー", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)
		env.hold(t, "session-1", "key-1", seats[0].ID)

		_, err := env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        []string{seats[1].ID},
			SessionRef:     "session-1",
			IdempotencyKey: "key-1",
		})
		assert.ErrorIs(t, err, hold.ErrIdempotencyConflict)
		assert.Equal(t, seat.StatusAvailable, env.seatStatuses(t, seats[1].ID)[0])
	})

	t.Run("終了した仮押さえのキーは再利用できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		_, err := env.holdService.ReleaseHold(ctx, h.ID, "session-1")
		require.NoError(t, err)

		_, err = env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        []string{seats[0].ID},
			SessionRef:     "session-1",
			IdempotencyKey: "key-1",
		})
		assert.ErrorIs(t, err, hold.ErrIdempotencyKeyConsumed)
	})

	t.Run("同じキーの並行リクエストで作成されるのは1件のみ", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)

		const n = 20
		var wg sync.WaitGroup
		ids := make([]string, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h, err := env.holdService.CreateHold(ctx, CreateHoldInput{
					PerformanceID:  testPerformance,
					SeatIDs:        seatIDs(seats...),
					SessionRef:     "session-1",
					IdempotencyKey: "key-1",
				})
				errs[i] = err
				if err == nil {
					ids[i] = h.ID
				}
			}(i)
		}
		wg.Wait()

		var created string
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				// 先行リクエストのロック中に到着した場合のみ
				assert.ErrorIs(t, errs[i], seat.ErrSeatBusy)
				continue
			}
			if created == "" {
				created = ids[i]
			}
			assert.Equal(t, created, ids[i])
		}
		require.NotEmpty(t, created)

		stored, err := env.holdRepo.GetByIdempotencyKey(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, created, stored.ID)
		assert.Len(t, env.history(t, audit.EntityHold, created), 1)
	})
}

func TestHoldService_CreateHold_ConcurrentOverlap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seats := env.provision(t, 5000, 5000, 5000, 5000, 5000)

	// 全リクエストが seats[2] を含む
	requests := [][]string{
		{seats[0].ID, seats[1].ID, seats[2].ID},
		{seats[2].ID, seats[3].ID},
		{seats[2].ID, seats[4].ID},
		{seats[4].ID, seats[2].ID, seats[0].ID},
	}

	const rounds = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded []*hold.Hold
	for r := 0; r < rounds; r++ {
		for i, ids := range requests {
			wg.Add(1)
			go func(r, i int, ids []string) {
				defer wg.Done()
				h, err := env.holdService.CreateHold(ctx, CreateHoldInput{
					PerformanceID:  testPerformance,
					SeatIDs:        ids,
					SessionRef:     "session",
					IdempotencyKey: fmt.Sprintf("key-%d-%d", r, i),
				})
				if err != nil {
					assert.True(t, errors.Is(err, seat.ErrSeatConflict) || errors.Is(err, seat.ErrSeatBusy), err.Error())
					assert.NotEmpty(t, seat.ConflictingSeatIDs(err))
					return
				}
				mu.Lock()
				succeeded = append(succeeded, h)
				mu.Unlock()
			}(r, i, ids)
		}
	}
	wg.Wait()

	require.Len(t, succeeded, 1)
	winner := succeeded[0]
	for _, s := range seats {
		st, err := env.seatRepo.GetByID(ctx, s.ID)
		require.NoError(t, err)
		if contains(winner.SeatIDs, s.ID) {
			assert.Equal(t, seat.StatusHeld, st.Status)
		} else {
			assert.Equal(t, seat.StatusAvailable, st.Status)
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestHoldService_ReleaseHold(t *testing.T) {
	ctx := context.Background()

	t.Run("所有者は解放できる", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)
		h := env.hold(t, "session-1", "key-1", seatIDs(seats...)...)

		released, err := env.holdService.ReleaseHold(ctx, h.ID, "session-1")
		require.NoError(t, err)

		assert.Equal(t, hold.StatusCancelled, released.Status)
		assert.Equal(t, repeatedStatus(seat.StatusAvailable, 2), env.seatStatuses(t, seatIDs(seats...)...))
		assert.Equal(t, []audit.Action{audit.ActionHold, audit.ActionRelease}, env.history(t, audit.EntityHold, h.ID))

		// 一時ストアからも取り消し後の状態が読める
		got, err := env.holdService.GetHold(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, hold.StatusCancelled, got.Status)
	})

	t.Run("取消済みの解放は成功として扱う", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)

		_, err := env.holdService.ReleaseHold(ctx, h.ID, "session-1")
		require.NoError(t, err)
		again, err := env.holdService.ReleaseHold(ctx, h.ID, "session-1")
		require.NoError(t, err)

		assert.Equal(t, hold.StatusCancelled, again.Status)
		assert.Len(t, env.history(t, audit.EntityHold, h.ID), 2)
	})

	t.Run("所有者以外は解放できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)

		_, err := env.holdService.ReleaseHold(ctx, h.ID, "session-2")
		assert.ErrorIs(t, err, hold.ErrNotHoldOwner)
		assert.Equal(t, hold.StatusActive, env.durableHold(t, h.ID).Status)
		assert.Equal(t, seat.StatusHeld, env.seatStatuses(t, seats[0].ID)[0])
	})

	t.Run("存在しない仮押さえ", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.holdService.ReleaseHold(ctx, "no-such-hold", "session-1")
		assert.ErrorIs(t, err, hold.ErrHoldNotFound)
	})

	t.Run("解放した座席は別のセッションが仮押さえできる", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		_, err := env.holdService.ReleaseHold(ctx, h.ID, "session-1")
		require.NoError(t, err)

		other := env.hold(t, "session-2", "key-2", seats[0].ID)
		assert.NotEqual(t, h.ID, other.ID)
	})
}

func TestHoldService_ReleaseForPaymentFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("決済参照が一致すれば取り消す", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		_, err := env.bookingService.BeginPayment(ctx, BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-1", PaymentRef: "pay-1", QuotedAmount: 5000})
		require.NoError(t, err)

		released, err := env.holdService.ReleaseForPaymentFailure(ctx, h.ID, "pay-1")
		require.NoError(t, err)

		assert.Equal(t, hold.StatusCancelled, released.Status)
		assert.Equal(t, seat.StatusAvailable, env.seatStatuses(t, seats[0].ID)[0])

		records, err := env.audit.History(ctx, audit.EntityHold, h.ID)
		require.NoError(t, err)
		last := records[len(records)-1]
		assert.Equal(t, audit.ActionCancel, last.Action)
		assert.Equal(t, audit.ActorPaymentAuthority, last.Actor)
	})

	t.Run("決済参照が異なれば拒否", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		_, err := env.bookingService.BeginPayment(ctx, BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-1", PaymentRef: "pay-1", QuotedAmount: 5000})
		require.NoError(t, err)

		_, err = env.holdService.ReleaseForPaymentFailure(ctx, h.ID, "pay-2")
		assert.ErrorIs(t, err, hold.ErrPaymentRefMismatch)
		assert.Equal(t, hold.StatusActive, env.durableHold(t, h.ID).Status)
	})

	t.Run("決済未開始なら拒否", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)

		_, err := env.holdService.ReleaseForPaymentFailure(ctx, h.ID, "pay-1")
		assert.ErrorIs(t, err, hold.ErrPaymentRefMismatch)
	})
}

func TestHoldService_ExtendHold(t *testing.T) {
	ctx := context.Background()

	t.Run("総寿命の範囲で延長できる", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)

		extended, err := env.holdService.ExtendHold(ctx, h.ID, "session-1", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(25*time.Minute), extended.ExpiresAt)
		assert.Equal(t, []audit.Action{audit.ActionHold, audit.ActionExtend}, env.history(t, audit.EntityHold, h.ID))

		_, err = env.holdService.ExtendHold(ctx, h.ID, "session-1", 10*time.Minute)
		assert.ErrorIs(t, err, hold.ErrInvalidExtension)
	})

	t.Run("決済開始後は延長できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		_, err := env.bookingService.BeginPayment(ctx, BeginPaymentInput{HoldID: h.ID, RequesterRef: "session-1", PaymentRef: "pay-1", QuotedAmount: 5000})
		require.NoError(t, err)

		_, err = env.holdService.ExtendHold(ctx, h.ID, "session-1", time.Minute)
		assert.ErrorIs(t, err, hold.ErrPaymentAlreadyStarted)
	})

	t.Run("期限切れ後は延長できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.clock.Advance(testHoldTTL)

		_, err := env.holdService.ExtendHold(ctx, h.ID, "session-1", time.Minute)
		assert.ErrorIs(t, err, hold.ErrHoldExpired)
	})

	t.Run("所有者以外は延長できない", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)

		_, err := env.holdService.ExtendHold(ctx, h.ID, "session-2", time.Minute)
		assert.ErrorIs(t, err, hold.ErrNotHoldOwner)
	})
}

func TestHoldService_ExpireHolds(t *testing.T) {
	ctx := context.Background()

	t.Run("期限前は失効させず期限到達で失効させる", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000, 5000)
		h, err := env.holdService.CreateHold(ctx, CreateHoldInput{
			PerformanceID:  testPerformance,
			SeatIDs:        seatIDs(seats...),
			SessionRef:     "session-1",
			IdempotencyKey: "key-1",
			TTL:            time.Second,
		})
		require.NoError(t, err)

		env.clock.Advance(999 * time.Millisecond)
		n, err := env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, hold.StatusActive, env.durableHold(t, h.ID).Status)

		env.clock.Advance(time.Millisecond)
		n, err = env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, hold.StatusExpired, env.durableHold(t, h.ID).Status)
		assert.Equal(t, repeatedStatus(seat.StatusAvailable, 2), env.seatStatuses(t, seatIDs(seats...)...))
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HoldsExpiredTotal))

		records, err := env.audit.History(ctx, audit.EntityHold, h.ID)
		require.NoError(t, err)
		assert.Equal(t, audit.ActorSweeper, records[len(records)-1].Actor)

		// 2回目は対象なし
		n, err = env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("ロック中の座席を含む仮押さえはスキップする", func(t *testing.T) {
		env := newTestEnv(t)
		seats := env.provision(t, 5000)
		h := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.clock.Advance(testHoldTTL)

		var n int
		err := env.holdService.locks.WithLock(ctx, []string{seats[0].ID}, func(ctx context.Context) error {
			var err error
			n, err = env.holdService.ExpireHolds(context.Background())
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, hold.StatusActive, env.durableHold(t, h.ID).Status)

		n, err = env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("個別の失敗はバッチを止めない", func(t *testing.T) {
		var failing *failingAuditRepo
		env := newTestEnv(t, func(d *testDeps) {
			failing = &failingAuditRepo{Repository: d.auditRepo}
			d.auditRepo = failing
		})
		seats := env.provision(t, 5000, 5000)
		first := env.hold(t, "session-1", "key-1", seats[0].ID)
		env.clock.Advance(time.Minute)
		second := env.hold(t, "session-2", "key-2", seats[1].ID)
		env.clock.Advance(testHoldTTL)

		failing.failOn = audit.ActionExpire
		n, err := env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, hold.StatusActive, env.durableHold(t, first.ID).Status)
		assert.Equal(t, hold.StatusActive, env.durableHold(t, second.ID).Status)
		assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.AuditWriteFailuresTotal))

		failing.failOn = ""
		n, err = env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("バッチサイズで件数を制限する", func(t *testing.T) {
		env := newTestEnv(t)
		env.holdService.cfg.SweepBatchSize = 1
		seats := env.provision(t, 5000, 5000)
		env.hold(t, "session-1", "key-1", seats[0].ID)
		env.hold(t, "session-2", "key-2", seats[1].ID)
		env.clock.Advance(testHoldTTL)

		n, err := env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = env.holdService.ExpireHolds(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestHoldService_AuditWriteFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(d *testDeps) {
		d.auditRepo = &failingAuditRepo{Repository: d.auditRepo, failOn: audit.ActionHold}
	})
	seats := env.provision(t, 5000, 5000)

	_, err := env.holdService.CreateHold(ctx, CreateHoldInput{
		PerformanceID:  testPerformance,
		SeatIDs:        seatIDs(seats...),
		SessionRef:     "session-1",
		IdempotencyKey: "key-1",
	})
	require.ErrorIs(t, err, audit.ErrAuditWriteFailed)

	// トランザクション全体が巻き戻る
	assert.Equal(t, repeatedStatus(seat.StatusAvailable, 2), env.seatStatuses(t, seatIDs(seats...)...))
	_, err = env.holdRepo.GetByIdempotencyKey(ctx, "key-1")
	assert.ErrorIs(t, err, hold.ErrHoldNotFound)
	_, ok, _ := env.idem.Get(ctx, idempotencyKey(ScopeHold, "key-1"))
	assert.False(t, ok)
}
