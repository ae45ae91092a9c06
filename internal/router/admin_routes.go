package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservations/internal/middleware"
)

// RegisterAdmin registers staff endpoints under /v1.  All routes require a
// valid JWT with the ADMIN role.
func RegisterAdmin(e *echo.Echo, d Deps) {
	mw := append([]echo.MiddlewareFunc{
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	}, d.AfterAuth...)
	g := e.Group("/v1", mw...)

	// ---- Orders ----
	g.GET("/orders/:id", d.Orders.GetOrder)
	g.GET("/orders/:id/history", d.Orders.History)
	g.POST("/orders/:id/status", d.Orders.Transition)
	g.POST("/orders/:id/refund", d.Orders.Refund)
	g.POST("/orders/:id/payment", d.Orders.RecordPayment)

	// ---- Sessions ----
	g.POST("/sessions", d.Sessions.CreateSession)
	g.PATCH("/sessions/:id/capacity", d.Sessions.UpdateCapacity)
	g.GET("/sessions/:id/reservations", d.Sessions.ListReservations)

	// ---- Reservations ----
	g.GET("/reservations/:id", d.Reservations.GetReservation)
	g.GET("/reservations/:id/history", d.Reservations.History)
	g.POST("/reservations/:id/status", d.Reservations.Transition)
	g.POST("/reservations/:id/refund", d.Reservations.Refund)

	// ---- Gift cards ----
	g.POST("/gift-cards", d.GiftCards.Issue)
	g.GET("/gift-cards/:code/entries", d.GiftCards.Entries)
	g.POST("/gift-cards/:code/redeem", d.GiftCards.Redeem)
}
