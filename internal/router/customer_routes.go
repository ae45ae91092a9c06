package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservations/internal/middleware"
)

// RegisterCustomer registers the storefront endpoints under /v1.  Guests may
// call them; a bearer token, when present, must be valid and makes the
// caller the holder of what they book.
func RegisterCustomer(e *echo.Echo, d Deps) {
	mw := append([]echo.MiddlewareFunc{middleware.OptionalJWTAuth(d.JWTSecret)}, d.AfterAuth...)
	g := e.Group("/v1", mw...)

	// sessions: availability and booking
	g.GET("/sessions/:id", d.Sessions.GetSession)
	g.POST("/sessions/:id/book", d.Sessions.Book)

	// product checkout
	g.POST("/orders", d.Orders.CreateOrder)
	g.POST("/orders/:id/checkout-session", d.Orders.CreateCheckoutSession)

	// balance lookup for a card in hand
	g.GET("/gift-cards/:code", d.GiftCards.GetGiftCard)
}
