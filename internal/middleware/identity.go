package middleware

// identity.go exposes what JWTAuth stored in the context to handlers and
// to the other middleware.

import "github.com/labstack/echo/v4"

// Guest is the identity of unauthenticated callers.
const Guest = "guest"

// UserID returns the authenticated subject, or Guest.
func UserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return Guest
}

// Role returns the authenticated role, or "" for guests.
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}

// Actor names the caller in audit records: "user:<id>", or "guest".
func Actor(c echo.Context) string {
	if id := UserID(c); id != Guest {
		return "user:" + id
	}
	return Guest
}
