package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-theater-seat-booking/internal/api"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
)

type AuditHandler struct {
	audit AuditHistoryInterface
}

func NewAuditHandler(a AuditHistoryInterface) *AuditHandler {
	return &AuditHandler{audit: a}
}

type AuditRecordResponse struct {
	ID            string          `json:"id"`
	Entity        string          `json:"entity"`
	EntityID      string          `json:"entity_id"`
	Action        string          `json:"action"`
	Actor         string          `json:"actor"`
	Before        json.RawMessage `json:"before,omitempty" swaggertype:"object"`
	After         json.RawMessage `json:"after,omitempty" swaggertype:"object"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// History godoc
// @Summary 監査履歴
// @Description 対象の状態遷移を記録順に返します
// @Tags audit
// @Produce json
// @Param entity path string true "対象" Enums(seat, hold, booking)
// @Param id path string true "対象ID"
// @Success 200 {array} AuditRecordResponse
// @Router /audit/{entity}/{id} [get]
func (h *AuditHandler) History(c echo.Context) error {
	entity := audit.Entity(c.Param("entity"))
	switch entity {
	case audit.EntitySeat, audit.EntityHold, audit.EntityBooking:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "不明な監査対象です")
	}

	records, err := h.audit.History(c.Request().Context(), entity, c.Param("id"))
	if err != nil {
		return api.HTTPErrorFrom(err)
	}
	resp := make([]AuditRecordResponse, len(records))
	for i, r := range records {
		resp[i] = AuditRecordResponse{
			ID: r.ID, Entity: string(r.Entity), EntityID: r.EntityID,
			Action: string(r.Action), Actor: r.Actor,
			Before: r.Before, After: r.After,
			CorrelationID: r.CorrelationID, CreatedAt: r.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, resp)
}
