package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/metrics"
)

// unmatchedRoute はルートに一致しなかったリクエストの path ラベル
// 仮押さえIDや座席IDを含む生のURLをラベルにしない
const unmatchedRoute = "unmatched"

// PrometheusMiddleware はHTTPメトリクスを収集するミドルウェア
// path ラベルは /api/v1/holds/:id のようなルート定義で集計し、/metrics 自体は数えない
func PrometheusMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == MetricsPath {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			duration := time.Since(start).Seconds()

			path := c.Path()
			if path == "" {
				path = unmatchedRoute
			}
			method := c.Request().Method
			statusCode := strconv.Itoa(responseStatus(c, err))

			m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)

			return err
		}
	}
}

// responseStatus はエラーハンドラが書き込む前のステータスを推定する
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if c.Response().Committed {
		return c.Response().Status
	}
	return http.StatusInternalServerError
}
