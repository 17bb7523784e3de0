package server

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"apidirectory/internal/core"
)

const bearerScheme = "Bearer"

// adminAuth guards the admin group with a Bearer admin key.
// An empty key leaves the group open.
func adminAuth(adminKey string) echo.MiddlewareFunc {
	if adminKey == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	want := []byte(adminKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			token, err := bearerToken(req.Header.Get(echo.HeaderAuthorization))
			if err == nil && subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				err = core.NewAuthenticationError("invalid admin key")
			}
			if err != nil {
				slog.Warn("admin request rejected",
					"method", req.Method,
					"path", req.URL.Path,
					"remote_ip", c.RealIP(),
					"request_id", core.RequestID(req.Context()),
					"error", err,
				)
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, bearerScheme+` realm="admin"`)
				return handleError(c, err)
			}
			return next(c)
		}
	}
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", core.NewAuthenticationError("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != bearerScheme {
		return "", core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'")
	}
	return token, nil
}
