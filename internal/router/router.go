package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservations/internal/handler"
)

// Deps carries the handlers and settings the route groups need.
type Deps struct {
	JWTSecret    string
	Health       *handler.HealthHandler
	Orders       *handler.OrderHandler
	Reservations *handler.ReservationHandler
	Sessions     *handler.SessionHandler
	GiftCards    *handler.GiftCardHandler

	// AfterAuth runs on every /v1 route once the caller is known, so rate
	// limit and Idempotency-Key scoping can use the user id.
	AfterAuth []echo.MiddlewareFunc
}

// Register mounts every route group on e.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d.Health)
	RegisterCustomer(e, d)
	RegisterAdmin(e, d)
}

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance: the liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	if h == nil {
		h = &handler.HealthHandler{}
	}
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)
}
