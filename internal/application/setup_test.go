package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/lock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/infrastructure/memory"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/metrics"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

const (
	testHoldTTL      = 15 * time.Minute
	testMaxLifetime  = 30 * time.Minute
	testPaymentGrace = 5 * time.Minute
	testPerformance  = "perf-hamlet-0601"
)

// testDeps はテスト環境で差し替え可能な依存
type testDeps struct {
	auditRepo audit.Repository
	holdCache hold.Cache
	locks     lock.Manager
	pricer    PriceQuoter
	publisher EventPublisher
}

type testEnv struct {
	clock     *clock.Fake
	db        *memory.DB
	seatRepo  *memory.SeatRepository
	holdRepo  *memory.HoldRepository
	holds     *TieredHoldStore
	bookings  *memory.BookingRepository
	auditRepo *memory.AuditRepository
	idem      *memory.IdempotencyStore
	metrics   *metrics.Metrics
	audit     *AuditLogger

	holdService    *HoldService
	bookingService *BookingService
	seatService    *SeatService
}

func newTestEnv(t testing.TB, overrides ...func(d *testDeps)) *testEnv {
	t.Helper()

	clk := clock.NewFake(testNow)
	db := memory.NewDB(clk)
	m := metrics.NewNop()

	env := &testEnv{
		clock:     clk,
		db:        db,
		seatRepo:  memory.NewSeatRepository(db),
		holdRepo:  memory.NewHoldRepository(db),
		bookings:  memory.NewBookingRepository(db),
		auditRepo: memory.NewAuditRepository(db),
		idem:      memory.NewIdempotencyStore(clk),
		metrics:   m,
	}

	deps := &testDeps{
		auditRepo: env.auditRepo,
		holdCache: memory.NewHoldCache(clk),
		locks:     memory.NewLockManager(clk),
		pricer:    ListPriceQuoter{},
		publisher: NopPublisher{},
	}
	for _, o := range overrides {
		o(deps)
	}

	env.holds = NewTieredHoldStore(env.holdRepo, deps.holdCache, clk, m)
	env.audit = NewAuditLogger(deps.auditRepo, clk, m)
	locks := NewLockCoordinator(deps.locks, 30*time.Second, m)
	guard := NewIdempotencyGuard(env.idem, 24*time.Hour)

	opts := []Option{
		WithClock(clk),
		WithMetrics(m),
		WithPriceQuoter(deps.pricer),
		WithEventPublisher(deps.publisher),
	}
	env.holdService = NewHoldService(db, env.seatRepo, env.holds, locks, guard, env.audit, HoldConfig{
		DefaultTTL:      testHoldTTL,
		MaxLifetime:     testMaxLifetime,
		MaxSeatsPerHold: 10,
		SweepBatchSize:  100,
	}, opts...)
	env.bookingService = NewBookingService(db, env.seatRepo, env.holds, env.bookings, locks, guard, env.audit, testPaymentGrace, opts...)
	env.seatService = NewSeatService(db, env.seatRepo, locks, env.audit, opts...)
	return env
}

// provision は A 列に prices の数だけ座席を登録する
func (e *testEnv) provision(t testing.TB, prices ...int64) []*seat.Seat {
	t.Helper()
	specs := make([]SeatSpec, len(prices))
	for i, p := range prices {
		specs[i] = SeatSpec{SectionID: "orchestra", Row: "A", Number: i + 1, Price: p}
	}
	seats, err := e.seatService.ProvisionSeats(context.Background(), ProvisionSeatsInput{
		PerformanceID: testPerformance,
		Seats:         specs,
	})
	require.NoError(t, err)
	return seats
}

func (e *testEnv) hold(t testing.TB, session, key string, seatIDs ...string) *hold.Hold {
	t.Helper()
	h, err := e.holdService.CreateHold(context.Background(), CreateHoldInput{
		PerformanceID:  testPerformance,
		SeatIDs:        seatIDs,
		SessionRef:     session,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return h
}

func (e *testEnv) seatStatuses(t testing.TB, seatIDs ...string) []seat.Status {
	t.Helper()
	seats, err := e.seatRepo.GetSeats(context.Background(), testPerformance, seatIDs)
	require.NoError(t, err)
	out := make([]seat.Status, len(seats))
	for i, s := range seats {
		out[i] = s.Status
	}
	return out
}

func (e *testEnv) durableHold(t testing.TB, id string) *hold.Hold {
	t.Helper()
	h, err := e.holdRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return h
}

func (e *testEnv) history(t testing.TB, entity audit.Entity, id string) []audit.Action {
	t.Helper()
	records, err := e.audit.History(context.Background(), entity, id)
	require.NoError(t, err)
	out := make([]audit.Action, len(records))
	for i, r := range records {
		out[i] = r.Action
	}
	return out
}

func seatIDs(seats ...*seat.Seat) []string {
	out := make([]string, len(seats))
	for i, s := range seats {
		out[i] = s.ID
	}
	return out
}

func repeatedStatus(s seat.Status, n int) []seat.Status {
	out := make([]seat.Status, n)
	for i := range out {
		out[i] = s
	}
	return out
}

var errInjected = errors.New("injected failure")

// failingAuditRepo は指定した操作の追記だけ失敗させる
type failingAuditRepo struct {
	audit.Repository
	failOn audit.Action
}

func (r *failingAuditRepo) Append(ctx context.Context, rec *audit.Record) error {
	if rec.Action == r.failOn {
		return fmt.Errorf("append %s: %w", rec.Action, errInjected)
	}
	return r.Repository.Append(ctx, rec)
}

// brokenCache は常に失敗する一時ストア
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*hold.Hold, error) { return nil, errInjected }

func (brokenCache) Set(context.Context, *hold.Hold, time.Duration) error { return errInjected }

func (brokenCache) Delete(context.Context, string) error { return errInjected }

// fixedQuoter は座席IDごとの価格を返す。未登録の座席は定価
type fixedQuoter map[string]int64

func (q fixedQuoter) QuotePrice(_ context.Context, s *seat.Seat) (int64, error) {
	if p, ok := q[s.ID]; ok {
		return p, nil
	}
	return s.Price, nil
}
