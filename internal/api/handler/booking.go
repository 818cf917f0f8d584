package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-theater-seat-booking/internal/api"
)

type BookingHandler struct {
	service BookingServiceInterface
}

func NewBookingHandler(s BookingServiceInterface) *BookingHandler {
	return &BookingHandler{service: s}
}

// GetByID godoc
// @Summary 予約を取得
// @Tags bookings
// @Produce json
// @Param id path string true "予約ID"
// @Success 200 {object} BookingResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /bookings/{id} [get]
func (h *BookingHandler) GetByID(c echo.Context) error {
	b, err := h.service.GetBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// GetByCode godoc
// @Summary 入場確認コードで予約を取得
// @Tags bookings
// @Produce json
// @Param code path string true "入場確認コード"
// @Success 200 {object} BookingResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /bookings/code/{code} [get]
func (h *BookingHandler) GetByCode(c echo.Context) error {
	b, err := h.service.GetBookingByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}
