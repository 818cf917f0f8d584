package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-theater-seat-booking/internal/api"
	"github.com/sanosuguru/go-theater-seat-booking/internal/application"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
)

// 決済事業者からの通知結果
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
	PaymentTimeout   = "timeout"
)

// WebhookHandler は決済事業者からの通知を受け付ける
type WebhookHandler struct {
	holds    HoldServiceInterface
	bookings BookingServiceInterface
}

func NewWebhookHandler(holds HoldServiceInterface, bookings BookingServiceInterface) *WebhookHandler {
	return &WebhookHandler{holds: holds, bookings: bookings}
}

type PaymentNotification struct {
	HoldID          string `json:"hold_id" validate:"required"`
	PaymentRef      string `json:"payment_ref" validate:"required"`
	Status          string `json:"status" validate:"required,oneof=succeeded failed timeout"`
	PaidAmount      int64  `json:"paid_amount" validate:"required_if=Status succeeded,min=0"`
	CustomerContact string `json:"customer_contact"`
}

// Payment godoc
// @Summary 決済結果の通知
// @Description succeeded は予約を確定し、failed と timeout は仮押さえを解放します。再送されても結果は同じです
// @Tags webhooks
// @Accept json
// @Produce json
// @Param request body PaymentNotification true "決済結果"
// @Success 200 {object} BookingResponse "確定"
// @Success 204 "解放"
// @Failure 403 {object} api.ErrorResponse "決済参照が一致しない"
// @Router /webhooks/payment [post]
func (h *WebhookHandler) Payment(c echo.Context) error {
	var req PaymentNotification
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.Status != PaymentSucceeded {
		if _, err := h.holds.ReleaseForPaymentFailure(ctx, req.HoldID, req.PaymentRef); err != nil {
			return api.HTTPErrorFrom(err)
		}
		return c.NoContent(http.StatusNoContent)
	}

	b, _, err := h.bookings.ConfirmBooking(ctx, application.ConfirmBookingInput{
		HoldID:          req.HoldID,
		PaymentRef:      req.PaymentRef,
		PaidAmount:      req.PaidAmount,
		CustomerContact: req.CustomerContact,
		Actor:           audit.ActorPaymentAuthority,
	})
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}
