package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkshopSession is a single, time-boxed occurrence of a workshop with a
// fixed number of seats.  The booked count is never stored; it is derived
// from the pending and confirmed reservations that reference the session.
type WorkshopSession struct {
	ID           uint64          `json:"id"`             // workshop_sessions.id
	WorkshopID   uint64          `json:"workshop_id"`    // workshop_sessions.workshop_id
	StartsAt     time.Time       `json:"starts_at"`      // workshop_sessions.starts_at (date + time)
	Capacity     uint32          `json:"capacity"`       // workshop_sessions.capacity
	PricePerSeat decimal.Decimal `json:"price_per_seat"` // workshop_sessions.price_per_seat
	Currency     string          `json:"currency"`       // workshop_sessions.currency
	Version      uint32          `json:"version"`        // workshop_sessions.version
	CreatedAt    time.Time       `json:"created_at"`     // workshop_sessions.created_at
	UpdatedAt    time.Time       `json:"updated_at"`     // workshop_sessions.updated_at
}

// BookedSeats sums the quantity of reservations that hold seats.
func BookedSeats(reservations []Reservation) uint32 {
	var n uint32
	for _, r := range reservations {
		if r.Status.HoldsSeats() {
			n += r.Quantity
		}
	}
	return n
}
