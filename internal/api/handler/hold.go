package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-theater-seat-booking/internal/api"
	"github.com/sanosuguru/go-theater-seat-booking/internal/api/middleware"
	"github.com/sanosuguru/go-theater-seat-booking/internal/application"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
)

type HoldHandler struct {
	holds    HoldServiceInterface
	bookings BookingServiceInterface
}

func NewHoldHandler(holds HoldServiceInterface, bookings BookingServiceInterface) *HoldHandler {
	return &HoldHandler{holds: holds, bookings: bookings}
}

type CreateHoldRequest struct {
	PerformanceID  string   `json:"performance_id" validate:"required" example:"perf-hamlet-0601"`
	SeatIDs        []string `json:"seat_ids" validate:"required,min=1,dive,required" example:"seat-A1,seat-A2"`
	IdempotencyKey string   `json:"idempotency_key" validate:"required" example:"order-2025-001"`
	TTLSeconds     int      `json:"ttl_seconds,omitempty" validate:"min=0" example:"900"`
}

type BeginPaymentRequest struct {
	PaymentRef   string `json:"payment_ref" validate:"required" example:"pay-001"`
	QuotedAmount int64  `json:"quoted_amount" validate:"required,min=1" example:"16000"`
}

type ConfirmBookingRequest struct {
	PaymentRef      string `json:"payment_ref" validate:"required" example:"pay-001"`
	PaidAmount      int64  `json:"paid_amount" validate:"required,min=1" example:"16000"`
	CustomerContact string `json:"customer_contact" example:"ophelia@example.com"`
}

type ExtendHoldRequest struct {
	AdditionalSeconds int `json:"additional_seconds" validate:"required,min=1" example:"300"`
}

type HoldResponse struct {
	ID                 string     `json:"id"`
	PerformanceID      string     `json:"performance_id"`
	SeatIDs            []string   `json:"seat_ids"`
	Status             string     `json:"status" example:"active"`
	QuotedTotal        int64      `json:"quoted_total" example:"16000"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	PaymentRef         *string    `json:"payment_ref,omitempty"`
	PaymentDeadline    *time.Time `json:"payment_deadline,omitempty"`
	ConvertedBookingID *string    `json:"converted_booking_id,omitempty"`
}

func toHoldResponse(h *hold.Hold) HoldResponse {
	return HoldResponse{
		ID: h.ID, PerformanceID: h.PerformanceID, SeatIDs: h.SeatIDs,
		Status: string(h.Status), QuotedTotal: h.QuotedTotal,
		CreatedAt: h.CreatedAt, ExpiresAt: h.ExpiresAt,
		PaymentRef: h.PaymentRef, PaymentDeadline: h.PaymentDeadline,
		ConvertedBookingID: h.ConvertedBookingID,
	}
}

// requireSession はセッション参照を返す。無ければ 401
func requireSession(c echo.Context) (string, error) {
	sid := middleware.SessionRef(c)
	if sid == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "セッションが必要です")
	}
	return sid, nil
}

// bindAndValidate はリクエストをバインドして検証する
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	return c.Validate(req)
}

// Create godoc
// @Summary 座席を仮押さえ
// @Description 座席集合を時間制限付きで仮押さえします。一部でも取れなければ全体が失敗します
// @Tags holds
// @Accept json
// @Produce json
// @Param X-Session-ID header string false "セッションID"
// @Param request body CreateHoldRequest true "仮押さえ情報"
// @Success 201 {object} HoldResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 401 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "座席が取れない（conflicting_seat_ids）"
// @Router /holds [post]
func (h *HoldHandler) Create(c echo.Context) error {
	sid, err := requireSession(c)
	if err != nil {
		return err
	}
	var req CreateHoldRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	created, err := h.holds.CreateHold(c.Request().Context(), application.CreateHoldInput{
		PerformanceID:  req.PerformanceID,
		SeatIDs:        req.SeatIDs,
		SessionRef:     sid,
		IdempotencyKey: req.IdempotencyKey,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusCreated, toHoldResponse(created))
}

// Get godoc
// @Summary 仮押さえを取得
// @Tags holds
// @Produce json
// @Param id path string true "仮押さえID"
// @Success 200 {object} HoldResponse
// @Failure 403 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /holds/{id} [get]
func (h *HoldHandler) Get(c echo.Context) error {
	sid, err := requireSession(c)
	if err != nil {
		return err
	}
	found, err := h.holds.GetHold(c.Request().Context(), c.Param("id"))
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	if !found.OwnedBy(sid) {
		return api.HTTPErrorFrom(hold.ErrNotHoldOwner)
	}
	return c.JSON(http.StatusOK, toHoldResponse(found))
}

// BeginPayment godoc
// @Summary 決済開始を記録
// @Description 決済参照を記録し、有効期限後も猶予期間内は失効しないようにします
// @Tags holds
// @Accept json
// @Produce json
// @Param id path string true "仮押さえID"
// @Param request body BeginPaymentRequest true "決済情報"
// @Success 200 {object} HoldResponse
// @Failure 409 {object} api.ErrorResponse
// @Failure 410 {object} api.ErrorResponse "有効期限切れ"
// @Router /holds/{id}/begin-payment [post]
func (h *HoldHandler) BeginPayment(c echo.Context) error {
	sid, err := requireSession(c)
	if err != nil {
		return err
	}
	var req BeginPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	updated, err := h.bookings.BeginPayment(c.Request().Context(), application.BeginPaymentInput{
		HoldID:       c.Param("id"),
		RequesterRef: sid,
		PaymentRef:   req.PaymentRef,
		QuotedAmount: req.QuotedAmount,
	})
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toHoldResponse(updated))
}

// Confirm godoc
// @Summary 予約を確定
// @Description 決済済みの仮押さえを予約に変換します。同じ決済参照の再送は同じ予約を返します
// @Tags holds
// @Accept json
// @Produce json
// @Param id path string true "仮押さえID"
// @Param request body ConfirmBookingRequest true "支払情報"
// @Success 201 {object} BookingResponse
// @Success 200 {object} BookingResponse "再送"
// @Failure 409 {object} api.ErrorResponse
// @Failure 410 {object} api.ErrorResponse
// @Failure 422 {object} api.ErrorResponse "金額不一致"
// @Router /holds/{id}/confirm [post]
func (h *HoldHandler) Confirm(c echo.Context) error {
	var req ConfirmBookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	// 決済参照で認可するためセッションは任意
	actor := middleware.SessionRef(c)
	if actor == "" {
		actor = audit.ActorAnonymous
	}
	b, replayed, err := h.bookings.ConfirmBooking(c.Request().Context(), application.ConfirmBookingInput{
		HoldID:          c.Param("id"),
		PaymentRef:      req.PaymentRef,
		PaidAmount:      req.PaidAmount,
		CustomerContact: req.CustomerContact,
		Actor:           actor,
	})
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	return c.JSON(status, toBookingResponse(b))
}

// Extend godoc
// @Summary 仮押さえを延長
// @Tags holds
// @Accept json
// @Produce json
// @Param id path string true "仮押さえID"
// @Param request body ExtendHoldRequest true "延長秒数"
// @Success 200 {object} HoldResponse
// @Router /holds/{id}/extend [post]
func (h *HoldHandler) Extend(c echo.Context) error {
	sid, err := requireSession(c)
	if err != nil {
		return err
	}
	var req ExtendHoldRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	updated, err := h.holds.ExtendHold(c.Request().Context(), c.Param("id"), sid,
		time.Duration(req.AdditionalSeconds)*time.Second)
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toHoldResponse(updated))
}

// Release godoc
// @Summary 仮押さえを解放
// @Tags holds
// @Param id path string true "仮押さえID"
// @Success 204
// @Failure 403 {object} api.ErrorResponse
// @Router /holds/{id} [delete]
func (h *HoldHandler) Release(c echo.Context) error {
	sid, err := requireSession(c)
	if err != nil {
		return err
	}
	if _, err := h.holds.ReleaseHold(c.Request().Context(), c.Param("id"), sid); err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type BookingResponse struct {
	ID              string    `json:"id"`
	HoldID          string    `json:"hold_id"`
	PerformanceID   string    `json:"performance_id"`
	ValidationCode  string    `json:"validation_code" example:"K7QX2M9P"`
	SeatIDs         []string  `json:"seat_ids"`
	Prices          []int64   `json:"prices"`
	TotalAmount     int64     `json:"total_amount" example:"16000"`
	PaymentRef      string    `json:"payment_ref"`
	CustomerContact string    `json:"customer_contact,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID: b.ID, HoldID: b.HoldID, PerformanceID: b.PerformanceID,
		ValidationCode: b.ValidationCode, SeatIDs: b.SeatIDs, Prices: b.Prices,
		TotalAmount: b.TotalAmount, PaymentRef: b.PaymentRef,
		CustomerContact: b.CustomerContact, CreatedAt: b.CreatedAt,
	}
}
