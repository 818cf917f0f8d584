package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/metrics"
)

var tracer = otel.Tracer("github.com/sanosuguru/go-theater-seat-booking/internal/application")

// AvailabilityCache は公演ごとの空席数キャッシュ
type AvailabilityCache interface {
	GetAvailableCount(ctx context.Context, performanceID string) (int, bool, error)
	SetAvailableCount(ctx context.Context, performanceID string, count int, ttl time.Duration) error
	Invalidate(ctx context.Context, performanceID string) error
}

type options struct {
	clock        clock.Clock
	metrics      *metrics.Metrics
	pricer       PriceQuoter
	events       EventPublisher
	availability AvailabilityCache
}

// Option はサービスの任意の依存を設定する
type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithPriceQuoter(p PriceQuoter) Option {
	return func(o *options) { o.pricer = p }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(o *options) { o.events = p }
}

func WithAvailabilityCache(c AvailabilityCache) Option {
	return func(o *options) { o.availability = c }
}

func newOptions(opts []Option) options {
	o := options{
		clock:  clock.Real{},
		pricer: ListPriceQuoter{},
		events: NopPublisher{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.Get()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	return o
}

// invalidateAvailability は空席数キャッシュを破棄する。失敗はログのみ
func (o options) invalidateAvailability(ctx context.Context, performanceID string) {
	if o.availability == nil {
		return
	}
	if err := o.availability.Invalidate(ctx, performanceID); err != nil {
		logger.FromContext(ctx).Warn("空席数キャッシュの無効化に失敗",
			zap.String("performance_id", performanceID), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
