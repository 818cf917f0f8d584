package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextKeySession はセッション参照を保持する echo.Context のキー
const ContextKeySession = "session_ref"

// HeaderSessionID はトークンを使わない場合のセッションヘッダー
const HeaderSessionID = "X-Session-ID"

// SessionIdentity はリクエストからセッション参照を読み取る
// secret が設定されていれば Bearer トークン (HS256, sid または sub) を検証し、
// なければ X-Session-ID ヘッダーをそのまま使う
// セッションが無いリクエストは通し、必要かどうかはハンドラーが判断する
func SessionIdentity(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				if sid := c.Request().Header.Get(HeaderSessionID); sid != "" {
					c.Set(ContextKeySession, sid)
				}
				return next(c)
			}

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if auth == "" {
				return next(c)
			}
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Bearer トークンが必要です")
			}
			sid, err := sessionFromToken(raw, secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "トークンが無効です").SetInternal(err)
			}
			c.Set(ContextKeySession, sid)
			return next(c)
		}
	}
}

func sessionFromToken(raw, secret string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if sid, ok := claims["sid"].(string); ok && sid != "" {
		return sid, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}

// SessionRef はセッション参照を返す。無ければ空文字
func SessionRef(c echo.Context) string {
	sid, _ := c.Get(ContextKeySession).(string)
	return sid
}
