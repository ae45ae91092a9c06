package handler

// This file defines handlers for workshop sessions.  Anyone may read the
// availability of a session and book seats in it; a caller with a valid
// bearer token becomes the holder of the reservation.  Staff create sessions,
// change their capacity and list every reservation of a session.

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/studio-reservations/internal/middleware"
	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/service"
)

// SessionHandler exposes workshop sessions: scheduling, capacity edits,
// availability and booking.
type SessionHandler struct {
	Scheduler *service.Scheduler
}

// NewSessionHandler panics when scheduler is nil.
func NewSessionHandler(scheduler *service.Scheduler) *SessionHandler {
	if scheduler == nil {
		panic("nil scheduler passed to NewSessionHandler")
	}
	return &SessionHandler{Scheduler: scheduler}
}

type createSessionRequest struct {
	WorkshopID   uint64          `json:"workshop_id"`
	StartsAt     time.Time       `json:"starts_at"`
	Capacity     uint32          `json:"capacity"`
	PricePerSeat decimal.Decimal `json:"price_per_seat"`
	Currency     string          `json:"currency"`
}

// CreateSession handles POST /v1/sessions.
func (h *SessionHandler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := checkMoney("price_per_seat", req.PricePerSeat); err != nil {
		return writeError(c, err)
	}
	sess, err := h.Scheduler.CreateSession(c.Request().Context(), service.SessionRequest{
		WorkshopID:   req.WorkshopID,
		StartsAt:     req.StartsAt,
		Capacity:     req.Capacity,
		PricePerSeat: req.PricePerSeat,
		Currency:     req.Currency,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// GetSession handles GET /v1/sessions/:id and reports seat availability.
func (h *SessionHandler) GetSession(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	a, err := h.Scheduler.Availability(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListReservations handles GET /v1/sessions/:id/reservations.
func (h *SessionHandler) ListReservations(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	rs, err := h.Scheduler.ListReservations(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": rs, "count": len(rs)})
}

type capacityRequest struct {
	Capacity uint32 `json:"capacity"`
}

// UpdateCapacity handles PATCH /v1/sessions/:id/capacity.  Raising the
// capacity promotes waitlisted reservations in order.
func (h *SessionHandler) UpdateCapacity(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req capacityRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	sess, err := h.Scheduler.UpdateCapacity(c.Request().Context(), id, req.Capacity)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

type holderRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type bookRequest struct {
	Quantity       uint32          `json:"quantity"`
	Holder         holderRequest   `json:"holder"`
	DeferCapture   bool            `json:"defer_capture"`
	RejectWhenFull bool            `json:"reject_when_full"`
	PaymentRef     *string         `json:"payment_ref"`
	GiftCardCode   *string         `json:"gift_card_code"`
	GiftCardAmount decimal.Decimal `json:"gift_card_amount"`
}

// Book handles POST /v1/sessions/:id/book.  Authenticated callers book as
// themselves; guests must give a name and an email or phone.
func (h *SessionHandler) Book(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req bookRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := checkMoney("gift_card_amount", req.GiftCardAmount); err != nil {
		return writeError(c, err)
	}
	holder := model.Holder{
		Name:  strings.TrimSpace(req.Holder.Name),
		Email: strings.TrimSpace(req.Holder.Email),
		Phone: strings.TrimSpace(req.Holder.Phone),
	}
	if uid := middleware.UserID(c); uid != middleware.Guest {
		holder.UserID = &uid
	}
	r, err := h.Scheduler.BookSession(c.Request().Context(), id, service.BookingRequest{
		Quantity:       req.Quantity,
		Holder:         holder,
		DeferCapture:   req.DeferCapture,
		RejectWhenFull: req.RejectWhenFull,
		PaymentRef:     trimmed(req.PaymentRef),
		GiftCardCode:   trimmed(req.GiftCardCode),
		GiftCardAmount: req.GiftCardAmount,
	})
	if err != nil {
		return writeError(c, err)
	}
	status := http.StatusCreated
	if r.Status == model.ReservationWaitlist {
		status = http.StatusAccepted
	}
	return c.JSON(status, r)
}
