package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 仮押さえの試行数（result: success, replay, conflict, busy, error）
	HoldsTotal *prometheus.CounterVec

	// 予約確定の試行数（result: success, replay, price_mismatch, expired, error）
	BookingsTotal *prometheus.CounterVec

	// 座席ロックの操作時間（operation: acquire/release, status: success/busy/failed）
	SeatLockDuration *prometheus.HistogramVec

	// スイーパーが失効させた仮押さえ数
	HoldsExpiredTotal prometheus.Counter

	// 一時ストア障害で永続ストアのみに縮退した回数（operation: get/set/delete）
	HoldStoreFallbackTotal *prometheus.CounterVec

	// 監査ログ書き込み失敗数
	AuditWriteFailuresTotal prometheus.Counter
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HoldsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holds_total",
				Help: "Total number of hold attempts",
			},
			[]string{"result"},
		),
		BookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookings_total",
				Help: "Total number of booking confirmation attempts",
			},
			[]string{"result"},
		),
		SeatLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seat_lock_duration_seconds",
				Help:    "Time spent on seat lock operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "status"},
		),
		HoldsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "holds_expired_total",
				Help: "Total number of expired holds",
			},
		),
		HoldStoreFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hold_store_fallback_total",
				Help: "Total number of ephemeral hold store failures served by durable storage",
			},
			[]string{"operation"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_write_failures_total",
				Help: "Total number of failed audit log appends",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HoldsTotal,
		m.BookingsTotal,
		m.SeatLockDuration,
		m.HoldsExpiredTotal,
		m.HoldStoreFallbackTotal,
		m.AuditWriteFailuresTotal,
	)

	return m
}

// NewNop はどこにも登録しないメトリクスを返す。テストやツール用
func NewNop() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
