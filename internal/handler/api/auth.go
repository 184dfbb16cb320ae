package api

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	xhttp "SignalForge/pkg/http"
)

// BearerAuth rejects requests whose Authorization header does not carry the shared token.
// An empty token rejects everything.
func BearerAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			got, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
				return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("missing or invalid bearer token"))
			}
			return next(c)
		}
	}
}
