package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/api"
	"github.com/sanosuguru/go-theater-seat-booking/internal/api/handler"
	"github.com/sanosuguru/go-theater-seat-booking/internal/api/middleware"
	"github.com/sanosuguru/go-theater-seat-booking/internal/application"
	"github.com/sanosuguru/go-theater-seat-booking/internal/config"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/lock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-theater-seat-booking/internal/infrastructure/memory"
	"github.com/sanosuguru/go-theater-seat-booking/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-theater-seat-booking/internal/infrastructure/rabbitmq"
	"github.com/sanosuguru/go-theater-seat-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/metrics"
	"github.com/sanosuguru/go-theater-seat-booking/internal/worker"
)

// stores はバックエンドごとに差し替わる永続化層
type stores struct {
	tx       transaction.Manager
	seats    seat.Repository
	holds    hold.Repository
	bookings booking.Repository
	audit    audit.Repository
}

func main() {
	// .env は無くてもよい
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Set(logger.NewLogger(cfg.Env))
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("設定が不正です", zap.Error(err))
	}
	if err := run(cfg); err != nil {
		logger.Fatal("起動に失敗しました", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	m := metrics.Init()
	clk := clock.Real{}
	health := handler.NewHealthHandler()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 永続ストア
	var st stores
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := postgres.NewConnection(&cfg.Database)
		if err != nil {
			return fmt.Errorf("データベース接続: %w", err)
		}
		closers = append(closers, func() { db.Close() })
		if err := postgres.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("マイグレーション: %w", err)
		}
		st = stores{
			tx:       postgres.NewTxManager(db),
			seats:    postgres.NewSeatRepository(db),
			holds:    postgres.NewHoldRepository(db),
			bookings: postgres.NewBookingRepository(db),
			audit:    postgres.NewAuditRepository(db),
		}
		health.AddCheck("postgres", db.PingContext)
	case config.BackendMemory:
		db := memory.NewDB(clk)
		st = stores{
			tx:       db,
			seats:    memory.NewSeatRepository(db),
			holds:    memory.NewHoldRepository(db),
			bookings: memory.NewBookingRepository(db),
			audit:    memory.NewAuditRepository(db),
		}
		logger.Warn("インメモリストアで起動します。再起動でデータは失われます")
	default:
		return fmt.Errorf("不明なストア: %q", cfg.Store.Backend)
	}

	// Redis はロック・一時ストア・冪等性キー・空席数キャッシュで共有する
	var rdb *goredis.Client
	if cfg.Store.LockBackend == config.BackendRedis {
		client, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("Redis接続: %w", err)
		}
		rdb = client
		closers = append(closers, func() { rdb.Close() })
		health.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var (
		locks     lock.Manager
		holdCache hold.Cache
		idemStore application.IdempotencyStore
		opts      = []application.Option{application.WithClock(clk), application.WithMetrics(m)}
	)
	if rdb != nil {
		locks = redis.NewLockManager(rdb)
		idemStore = redis.NewIdempotencyStore(rdb)
		if cfg.Store.HoldCacheEnabled {
			holdCache = redis.NewHoldCache(rdb)
		}
		opts = append(opts, application.WithAvailabilityCache(redis.NewSeatCache(rdb)))
	} else {
		locks = memory.NewLockManager(clk)
		store := memory.NewIdempotencyStore(clk)
		idemStore = store
		evicters := []memory.Evicter{store}
		if cfg.Store.HoldCacheEnabled {
			cache := memory.NewHoldCache(clk)
			holdCache = cache
			evicters = append(evicters, cache)
		}
		janitor := memory.NewJanitor(time.Minute, evicters...)
		janitor.Start()
		closers = append(closers, janitor.Stop)
	}

	// ドメインイベント
	if cfg.RabbitMQ.URL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL)
		if err != nil {
			return fmt.Errorf("RabbitMQ接続: %w", err)
		}
		closers = append(closers, func() { pub.Close() })
		opts = append(opts, application.WithEventPublisher(pub))
	}

	holdStore := application.NewTieredHoldStore(st.holds, holdCache, clk, m)
	auditLogger := application.NewAuditLogger(st.audit, clk, m)
	coordinator := application.NewLockCoordinator(locks, cfg.Booking.LockCeiling, m)
	guard := application.NewIdempotencyGuard(idemStore, cfg.Booking.IdempotencyTTL)

	holdService := application.NewHoldService(st.tx, st.seats, holdStore, coordinator, guard, auditLogger, application.HoldConfig{
		DefaultTTL:      cfg.Booking.HoldTTL,
		MaxLifetime:     cfg.Booking.HoldMaxLifetime,
		MaxSeatsPerHold: cfg.Booking.MaxSeatsPerHold,
		SweepBatchSize:  cfg.Booking.SweepBatchSize,
	}, opts...)
	bookingService := application.NewBookingService(st.tx, st.seats, holdStore, st.bookings, coordinator, guard, auditLogger, cfg.Booking.PaymentGrace, opts...)
	seatService := application.NewSeatService(st.tx, st.seats, coordinator, auditLogger, opts...)

	// 失効スイーパー
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := worker.NewHoldSweeper(holdService, cfg.Booking.SweepInterval)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	// Echo インスタンス作成
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	middleware.SetupMiddleware(e, cfg.Session.JWTSecret)
	e.Use(middleware.PrometheusMiddleware(m))

	handler.RegisterRoutes(e, handler.Handlers{
		Health:  health,
		Hold:    handler.NewHoldHandler(holdService, bookingService),
		Booking: handler.NewBookingHandler(bookingService),
		Seat:    handler.NewSeatHandler(seatService),
		Webhook: handler.NewWebhookHandler(holdService, bookingService),
		Audit:   handler.NewAuditHandler(auditLogger),
	}, cfg.Metrics)

	// サーバー起動
	errCh := make(chan error, 1)
	go func() {
		logger.Info("サーバーを起動します",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Backend),
			zap.String("lock", cfg.Store.LockBackend),
		)
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// シグナル待機
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("サーバー起動: %w", err)
	}

	logger.Info("サーバーをシャットダウンしています...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーシャットダウン: %w", err)
	}

	logger.Info("サーバーが正常にシャットダウンしました")
	return nil
}
