package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/labmaster/labmaster/internal/platform/authz"
)

// RequireRole returns middleware that admits callers holding at least one of
// the given roles. Admin passes every gate.
func RequireRole(roles ...authz.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := RoleFromContext(c.Request().Context())
			if actor == authz.RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if actor == required {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = string(r)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}
