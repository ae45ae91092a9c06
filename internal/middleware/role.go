package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RoleAdmin is the role allowed to move orders and reservations through
// their lifecycle and to issue gift cards.
const RoleAdmin = "ADMIN"

// RequireRole returns a middleware function that enforces that the
// authenticated user has one of the specified roles.  It assumes JWTAuth
// has already stored the role in the context; a missing role is treated as
// not allowed and answered with 403 Forbidden.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[strings.ToUpper(r)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
