package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/logger"
)

// ErrorResponse はエラーレスポンスの統一フォーマット
type ErrorResponse struct {
	Error              string   `json:"error"`
	Code               int      `json:"code,omitempty"`
	Details            string   `json:"details,omitempty"`
	ConflictingSeatIDs []string `json:"conflicting_seat_ids,omitempty"`
	Retryable          bool     `json:"retryable,omitempty"`
}

// ドメインエラーとステータスコードの対応。上から順に判定する
var errorStatus = []struct {
	err  error
	code int
}{
	{seat.ErrSeatBusy, http.StatusConflict},
	{seat.ErrSeatConflict, http.StatusConflict},
	{hold.ErrHoldExpired, http.StatusGone},
	{hold.ErrHoldNotActive, http.StatusConflict},
	{hold.ErrHoldStateConflict, http.StatusConflict},
	{hold.ErrPaymentAlreadyStarted, http.StatusConflict},
	{hold.ErrIdempotencyConflict, http.StatusConflict},
	{hold.ErrIdempotencyKeyConsumed, http.StatusConflict},
	{booking.ErrDuplicatePaymentRef, http.StatusConflict},
	{booking.ErrPriceMismatch, http.StatusUnprocessableEntity},
	{hold.ErrNotHoldOwner, http.StatusForbidden},
	{hold.ErrPaymentRefMismatch, http.StatusForbidden},
	{hold.ErrHoldNotFound, http.StatusNotFound},
	{seat.ErrSeatNotFound, http.StatusNotFound},
	{booking.ErrBookingNotFound, http.StatusNotFound},
	{seat.ErrDuplicateSeat, http.StatusConflict},
	{seat.ErrInvalidTransition, http.StatusConflict},
	{audit.ErrAuditWriteFailed, http.StatusInternalServerError},
}

// 入力検証エラー
var validationErrors = []error{
	hold.ErrPerformanceIDRequired,
	hold.ErrSessionRefRequired,
	hold.ErrSeatIDsRequired,
	hold.ErrDuplicateSeatIDs,
	hold.ErrTooManySeats,
	hold.ErrInvalidTTL,
	hold.ErrInvalidExtension,
	hold.ErrIdempotencyKeyRequired,
	hold.ErrPaymentRefRequired,
	hold.ErrInvalidAmount,
	seat.ErrPerformanceIDRequired,
	seat.ErrSeatLocationRequired,
	seat.ErrInvalidPrice,
	booking.ErrPaymentRefRequired,
	booking.ErrCustomerContactRequired,
	booking.ErrSeatIDsRequired,
}

// HTTPErrorFrom はドメインエラーを HTTP エラーに変換する
func HTTPErrorFrom(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	code := http.StatusInternalServerError
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			code = e.code
			break
		}
	}
	if code == http.StatusInternalServerError && !errors.Is(err, audit.ErrAuditWriteFailed) {
		for _, e := range validationErrors {
			if errors.Is(err, e) {
				code = http.StatusBadRequest
				break
			}
		}
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if code == http.StatusInternalServerError {
		resp.Error = "内部サーバーエラー"
	}
	resp.ConflictingSeatIDs = seat.ConflictingSeatIDs(err)
	resp.Retryable = errors.Is(err, seat.ErrSeatBusy)

	return echo.NewHTTPError(code, resp).SetInternal(err)
}

// CustomHTTPErrorHandler はカスタムエラーハンドラー
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	he := HTTPErrorFrom(err)
	resp, ok := he.Message.(ErrorResponse)
	if !ok {
		resp = ErrorResponse{Error: http.StatusText(he.Code), Code: he.Code}
		if m, ok := he.Message.(string); ok {
			resp.Error = m
		}
	}

	// エラーログを出力（5xx エラーの場合）
	if he.Code >= 500 {
		logger.FromContext(c.Request().Context()).Error("サーバーエラー",
			zap.Int("status", he.Code),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
	}

	// ロック競合は再試行を促す
	if resp.Retryable {
		c.Response().Header().Set("Retry-After", "1")
	}

	if err := c.JSON(he.Code, resp); err != nil {
		logger.Error("エラーレスポンス送信失敗", zap.Error(err))
	}
}
