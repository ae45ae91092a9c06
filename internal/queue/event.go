// Package queue defines the events exchanged over RabbitMQ and the
// publisher/consumer pair that moves them.
package queue

// Queue names.  Both queues are durable and fed through the default exchange.
const (
	ReservationQueue = "reservation.events"
	RefundQueue      = "refund.events"
)

// Reservation event types.
const (
	ReservationConfirmed  = "reservation.confirmed"
	ReservationWaitlisted = "reservation.waitlisted"
	ReservationPromoted   = "reservation.promoted"
)

// RefundPartialFailure is published when a card refund failed after the gift
// card part was returned and an operator has to finish the card part.
const RefundPartialFailure = "refund.partial_failure"

// ReservationEvent carries enough about a booking for the notifier to reach
// the holder without querying the primary database.
type ReservationEvent struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	ReservationID    uint64 `json:"reservation_id"`
	SessionID        uint64 `json:"session_id"`
	SessionStartsAt  string `json:"session_starts_at"`
	Quantity         uint32 `json:"quantity"`
	WaitlistPosition uint32 `json:"waitlist_position,omitempty"`
	HolderUserID     string `json:"holder_user_id,omitempty"`
	HolderName       string `json:"holder_name,omitempty"`
	HolderEmail      string `json:"holder_email,omitempty"`
	HolderPhone      string `json:"holder_phone,omitempty"`
	OccurredAt       string `json:"occurred_at"`
}

// RefundEvent describes a refund that needs manual reconciliation.
type RefundEvent struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	EntityKind       string `json:"entity_kind"`
	EntityID         uint64 `json:"entity_id"`
	GiftCardCredited string `json:"gift_card_credited"`
	CardOutstanding  string `json:"card_outstanding"`
	Reason           string `json:"reason"`
	OccurredAt       string `json:"occurred_at"`
}
