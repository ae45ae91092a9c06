package handler

// This file defines the staff handlers for workshop reservations: lookup,
// audit trail, status transitions and standalone refunds.  Cancelling a
// confirmed reservation frees its seats and the waitlist is promoted in the
// same transaction.

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservations/internal/middleware"
	"github.com/iliyamo/studio-reservations/internal/service"
)

// ReservationHandler exposes reservation lookups, transitions and refunds.
type ReservationHandler struct {
	// Reservations applies lifecycle transitions and refunds.
	Reservations *service.ReservationStateMachine
	// Scheduler serves the read side: single reservations and audit trails.
	Scheduler *service.Scheduler
}

// NewReservationHandler panics when a dependency is missing.
func NewReservationHandler(reservations *service.ReservationStateMachine, scheduler *service.Scheduler) *ReservationHandler {
	if reservations == nil || scheduler == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Reservations: reservations, Scheduler: scheduler}
}

// GetReservation handles GET /v1/reservations/:id.
func (h *ReservationHandler) GetReservation(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.Scheduler.GetReservation(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// History handles GET /v1/reservations/:id/history.
func (h *ReservationHandler) History(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	changes, err := h.Reservations.History(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": changes, "count": len(changes)})
}

// Transition handles POST /v1/reservations/:id/status.  Cancelling a
// reservation frees its seats and promotes waitlisted entries that now fit.
func (h *ReservationHandler) Transition(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	r, err := h.Reservations.Transition(c.Request().Context(), id, req.Target, req.Confirmation, middleware.Actor(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Refund handles POST /v1/reservations/:id/refund.
func (h *ReservationHandler) Refund(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req refundRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := req.validate(); err != nil {
		return writeError(c, err)
	}
	res, err := h.Reservations.RefundReservation(c.Request().Context(), id, req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, refundResponse(res))
}
