package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

// HeaderCorrelationID は相関IDを受け渡すヘッダー
const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationID は相関IDをリクエストのコンテキストに載せる
// X-Correlation-ID、X-Request-ID の順に引き継ぎ、無ければ生成する
func CorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderCorrelationID)
			if id == "" {
				id = req.Header.Get(echo.HeaderXRequestID)
			}
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderCorrelationID, id)
			c.SetRequest(req.WithContext(logger.ContextWithCorrelationID(req.Context(), id)))
			return next(c)
		}
	}
}
