package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a workshop booking.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationWaitlist  ReservationStatus = "waitlist"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationRefunded  ReservationStatus = "refunded"
)

// Waitlist -> confirmed is deliberately absent: only the scheduler promotes,
// after checking capacity.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending:   {ReservationConfirmed, ReservationCancelled, ReservationRefunded},
	ReservationConfirmed: {ReservationCancelled, ReservationRefunded},
	ReservationWaitlist:  {ReservationCancelled, ReservationRefunded},
	ReservationCancelled: {},
	ReservationRefunded:  {},
}

// ParseReservationStatus returns the status named by s and whether it is known.
func ParseReservationStatus(s string) (ReservationStatus, bool) {
	st := ReservationStatus(s)
	_, ok := reservationTransitions[st]
	return st, ok
}

// Permanent reports whether no transition may ever leave this status.
func (s ReservationStatus) Permanent() bool {
	return s == ReservationCancelled || s == ReservationRefunded
}

// HoldsSeats reports whether reservations in this status count against the
// session capacity.
func (s ReservationStatus) HoldsSeats() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

// CanTransitionTo reports whether the table allows s -> target.
func (s ReservationStatus) CanTransitionTo(target ReservationStatus) bool {
	for _, next := range reservationTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Holder identifies who booked: either a registered user or a guest with
// contact details.
type Holder struct {
	UserID *string `json:"user_id,omitempty"` // reservations.user_id (nullable)
	Name   string  `json:"name,omitempty"`    // reservations.guest_name
	Email  string  `json:"email,omitempty"`   // reservations.guest_email
	Phone  string  `json:"phone,omitempty"`   // reservations.guest_phone
}

// Reservation records seats booked in a workshop session.  Reservations are
// owned by their session and are never deleted, only transitioned.
//
// Fields:
//
//	ID               – primary key identifier.
//	SessionID        – session being booked.
//	Holder           – registered user or guest.
//	Quantity         – seats requested (at least one).
//	Status           – lifecycle status.
//	WaitlistPosition – 1-based rank, set iff Status is waitlist.
//	PricePerSeat     – seat price at time of booking.
//	PendingStatus    – permanent status claimed while its refund runs.
//	Refunds          – refund attempts and the total given back.
//	Version          – optimistic concurrency counter.
type Reservation struct {
	ID               uint64            `json:"id"`                          // reservations.id
	SessionID        uint64            `json:"session_id"`                  // reservations.session_id
	Holder           Holder            `json:"holder"`                      // reservations.user_id / guest_*
	Quantity         uint32            `json:"quantity"`                    // reservations.quantity
	Status           ReservationStatus `json:"status"`                      // reservations.status
	WaitlistPosition *uint32           `json:"waitlist_position,omitempty"` // reservations.waitlist_position (nullable)
	PricePerSeat     decimal.Decimal   `json:"price_per_seat"`              // reservations.price_per_seat
	Currency         string            `json:"currency"`                    // reservations.currency
	PaymentStatus    PaymentStatus     `json:"payment_status"`              // reservations.payment_status
	PaymentRef       *string           `json:"payment_ref,omitempty"`       // reservations.payment_ref (nullable)
	GiftCardCode     *string           `json:"gift_card_code,omitempty"`    // reservations.gift_card_code (nullable)
	GiftCardAmount   decimal.Decimal   `json:"gift_card_amount"`            // reservations.gift_card_amount
	PendingStatus    ReservationStatus `json:"pending_status,omitempty"`    // reservations.pending_status
	Refunds          RefundProgress    `json:"refunds"`                     // reservations.refund_*
	Version          uint32            `json:"version"`                     // reservations.version
	CreatedAt        time.Time         `json:"created_at"`                  // reservations.created_at
	UpdatedAt        time.Time         `json:"updated_at"`                  // reservations.updated_at
}

// Total is the price of all seats in the reservation.
func (r *Reservation) Total() decimal.Decimal {
	return r.PricePerSeat.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// Captured returns the payment split actually collected for the reservation.
func (r *Reservation) Captured() Capture {
	return newCapture(r.Total(), r.GiftCardCode, r.GiftCardAmount, r.PaymentStatus, r.PaymentRef)
}
