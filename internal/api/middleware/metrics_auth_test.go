package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-theater-seat-booking/internal/config"
)

func serveMetrics(t *testing.T, cfg config.MetricsConfig, authHeader string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := MetricsBasicAuth(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "metrics")
	})
	return rec, handler(c)
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestMetricsBasicAuth_NoCredentials(t *testing.T) {
	// 認証設定がない場合はスキップ
	rec, err := serveMetrics(t, config.MetricsConfig{}, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestMetricsBasicAuth_ValidCredentials(t *testing.T) {
	cfg := config.MetricsConfig{User: "testuser", Password: "testpass"}
	rec, err := serveMetrics(t, cfg, basic("testuser", "testpass"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsBasicAuth_InvalidCredentials(t *testing.T) {
	cfg := config.MetricsConfig{User: "testuser", Password: "testpass"}
	_, err := serveMetrics(t, cfg, basic("wronguser", "wrongpass"))

	// Basic認証失敗時はHTTPErrorが返る
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestMetricsBasicAuth_NoAuthHeader(t *testing.T) {
	cfg := config.MetricsConfig{User: "testuser", Password: "testpass"}
	_, err := serveMetrics(t, cfg, "")

	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestMetricsConfig_AuthEnabled(t *testing.T) {
	tests := []struct {
		name        string
		user        string
		password    string
		wantEnabled bool
	}{
		{name: "両方設定あり", user: "user", password: "pass", wantEnabled: true},
		{name: "ユーザーのみ", user: "user", password: "", wantEnabled: false},
		{name: "パスワードのみ", user: "", password: "pass", wantEnabled: false},
		{name: "両方なし", user: "", password: "", wantEnabled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.MetricsConfig{User: tt.user, Password: tt.password}
			assert.Equal(t, tt.wantEnabled, cfg.AuthEnabled())
		})
	}
}
