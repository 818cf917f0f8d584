package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-theater-seat-booking/internal/api"
	"github.com/sanosuguru/go-theater-seat-booking/internal/application"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

type SeatHandler struct {
	service SeatServiceInterface
}

func NewSeatHandler(s SeatServiceInterface) *SeatHandler {
	return &SeatHandler{service: s}
}

type SeatSpecRequest struct {
	SectionID  string `json:"section_id" validate:"required" example:"orchestra"`
	Row        string `json:"row" validate:"required" example:"A"`
	Number     int    `json:"number" validate:"required,min=1" example:"12"`
	Price      int64  `json:"price" validate:"required,min=1" example:"8000"`
	Accessible bool   `json:"accessible"`
}

type ProvisionSeatsRequest struct {
	Seats []SeatSpecRequest `json:"seats" validate:"required,min=1,max=5000,dive"`
}

type SeatIDsRequest struct {
	SeatIDs []string `json:"seat_ids" validate:"required,min=1,dive,required"`
}

type SeatResponse struct {
	ID            string    `json:"id"`
	PerformanceID string    `json:"performance_id"`
	SectionID     string    `json:"section_id"`
	Row           string    `json:"row"`
	Number        int       `json:"number"`
	Price         int64     `json:"price"`
	Status        string    `json:"status"`
	Accessible    bool      `json:"accessible"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toSeatResponse(s *seat.Seat) SeatResponse {
	return SeatResponse{
		ID: s.ID, PerformanceID: s.PerformanceID, SectionID: s.SectionID,
		Row: s.Row, Number: s.Number, Price: s.Price,
		Status: string(s.Status), Accessible: s.Accessible, UpdatedAt: s.UpdatedAt,
	}
}

func toSeatResponses(seats []*seat.Seat) []SeatResponse {
	resp := make([]SeatResponse, len(seats))
	for i, s := range seats {
		resp[i] = toSeatResponse(s)
	}
	return resp
}

// Provision godoc
// @Summary 座席を一括登録
// @Tags seats
// @Accept json
// @Produce json
// @Param performance_id path string true "公演ID"
// @Param request body ProvisionSeatsRequest true "座席一覧"
// @Success 201 {array} SeatResponse
// @Failure 409 {object} api.ErrorResponse "同じ位置の座席が既に存在"
// @Router /performances/{performance_id}/seats [post]
func (h *SeatHandler) Provision(c echo.Context) error {
	var req ProvisionSeatsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	specs := make([]application.SeatSpec, len(req.Seats))
	for i, s := range req.Seats {
		specs[i] = application.SeatSpec{
			SectionID: s.SectionID, Row: s.Row, Number: s.Number,
			Price: s.Price, Accessible: s.Accessible,
		}
	}
	seats, err := h.service.ProvisionSeats(c.Request().Context(), application.ProvisionSeatsInput{
		PerformanceID: c.Param("performance_id"),
		Seats:         specs,
	})
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusCreated, toSeatResponses(seats))
}

// List godoc
// @Summary 公演の座席一覧
// @Tags seats
// @Produce json
// @Param performance_id path string true "公演ID"
// @Param status query string false "状態で絞り込み" Enums(available, held, booked, blocked)
// @Success 200 {array} SeatResponse
// @Router /performances/{performance_id}/seats [get]
func (h *SeatHandler) List(c echo.Context) error {
	seats, err := h.service.ListSeats(c.Request().Context(), c.Param("performance_id"))
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	if q := c.QueryParam("status"); q != "" {
		status := seat.Status(q)
		if !status.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "不明な座席状態です")
		}
		filtered := seats[:0]
		for _, s := range seats {
			if s.Status == status {
				filtered = append(filtered, s)
			}
		}
		seats = filtered
	}
	return c.JSON(http.StatusOK, toSeatResponses(seats))
}

// GetByID godoc
// @Summary 座席を取得
// @Tags seats
// @Produce json
// @Param id path string true "座席ID"
// @Success 200 {object} SeatResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /seats/{id} [get]
func (h *SeatHandler) GetByID(c echo.Context) error {
	s, err := h.service.GetSeat(c.Request().Context(), c.Param("id"))
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toSeatResponse(s))
}

// CountAvailable godoc
// @Summary 空席数
// @Tags seats
// @Produce json
// @Param performance_id path string true "公演ID"
// @Success 200 {object} map[string]int
// @Router /performances/{performance_id}/seats/available-count [get]
func (h *SeatHandler) CountAvailable(c echo.Context) error {
	count, err := h.service.CountAvailableSeats(c.Request().Context(), c.Param("performance_id"))
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

// Block godoc
// @Summary 座席を販売停止
// @Tags seats
// @Accept json
// @Produce json
// @Param performance_id path string true "公演ID"
// @Param request body SeatIDsRequest true "座席ID"
// @Success 200 {array} SeatResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /performances/{performance_id}/seats/block [post]
func (h *SeatHandler) Block(c echo.Context) error {
	in, err := h.blockInput(c)
	if err != nil {
		return err
	}
	seats, err := h.service.BlockSeats(c.Request().Context(), in)
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toSeatResponses(seats))
}

// Unblock godoc
// @Summary 販売停止を解除
// @Tags seats
// @Accept json
// @Produce json
// @Param performance_id path string true "公演ID"
// @Param request body SeatIDsRequest true "座席ID"
// @Success 200 {array} SeatResponse
// @Router /performances/{performance_id}/seats/unblock [post]
func (h *SeatHandler) Unblock(c echo.Context) error {
	in, err := h.blockInput(c)
	if err != nil {
		return err
	}
	seats, err := h.service.UnblockSeats(c.Request().Context(), in)
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	return c.JSON(http.StatusOK, toSeatResponses(seats))
}

func (h *SeatHandler) blockInput(c echo.Context) (application.BlockSeatsInput, error) {
	var req SeatIDsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return application.BlockSeatsInput{}, err
	}
	return application.BlockSeatsInput{
		PerformanceID: c.Param("performance_id"),
		SeatIDs:       req.SeatIDs,
	}, nil
}
