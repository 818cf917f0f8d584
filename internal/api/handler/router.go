package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanosuguru/go-theater-seat-booking/internal/api/middleware"
	"github.com/sanosuguru/go-theater-seat-booking/internal/config"
)

// Handlers はルーティング対象のハンドラー一式
type Handlers struct {
	Health  *HealthHandler
	Hold    *HoldHandler
	Booking *BookingHandler
	Seat    *SeatHandler
	Webhook *WebhookHandler
	Audit   *AuditHandler
}

// RegisterRoutes はルートを登録する
func RegisterRoutes(e *echo.Echo, h Handlers, metricsCfg config.MetricsConfig) {
	e.GET("/health", h.Health.Check)
	e.GET("/health/ready", h.Health.Ready)
	e.GET(middleware.MetricsPath, echo.WrapHandler(promhttp.Handler()), middleware.MetricsBasicAuth(metricsCfg))

	v1 := e.Group("/api/v1")

	perf := v1.Group("/performances/:performance_id/seats")
	perf.POST("", h.Seat.Provision)
	perf.GET("", h.Seat.List)
	perf.GET("/available-count", h.Seat.CountAvailable)
	perf.POST("/block", h.Seat.Block)
	perf.POST("/unblock", h.Seat.Unblock)
	v1.GET("/seats/:id", h.Seat.GetByID)

	holds := v1.Group("/holds")
	holds.POST("", h.Hold.Create)
	holds.GET("/:id", h.Hold.Get)
	holds.DELETE("/:id", h.Hold.Release)
	holds.POST("/:id/begin-payment", h.Hold.BeginPayment)
	holds.POST("/:id/confirm", h.Hold.Confirm)
	holds.POST("/:id/extend", h.Hold.Extend)

	v1.GET("/bookings/:id", h.Booking.GetByID)
	v1.GET("/bookings/code/:code", h.Booking.GetByCode)

	v1.POST("/webhooks/payment", h.Webhook.Payment)
	v1.GET("/audit/:entity/:id", h.Audit.History)
}
