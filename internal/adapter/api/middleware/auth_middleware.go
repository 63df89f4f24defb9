package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware guards the bridge with a shared access key. The key travels
// as a Bearer token, or as the access_key query parameter for websocket
// upgrades where browsers cannot set headers.
type AuthMiddleware struct {
	accessKey string
	userID    string
}

func NewAuthMiddleware(accessKey, userID string) *AuthMiddleware {
	return &AuthMiddleware{
		accessKey: accessKey,
		userID:    userID,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.accessKey != "" {
			key := c.QueryParam("access_key")
			if key == "" {
				authHeader := c.Request().Header.Get("Authorization")
				if authHeader == "" {
					return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
				}
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
				}
				key = parts[1]
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(m.accessKey)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid access key")
			}
		}

		c.Set("uid", m.userID)
		return next(c)
	}
}
