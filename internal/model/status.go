package model

// EntityKind identifies which table a ledger entry or status change belongs to.
type EntityKind string

const (
	EntityOrder       EntityKind = "order"
	EntityReservation EntityKind = "reservation"
)

// EntityRef points at a single order or reservation.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   uint64     `json:"id"`
}

// OrderRef returns the reference of an order.
func OrderRef(id uint64) EntityRef { return EntityRef{Kind: EntityOrder, ID: id} }

// ReservationRef returns the reference of a reservation.
func ReservationRef(id uint64) EntityRef { return EntityRef{Kind: EntityReservation, ID: id} }

// PaymentStatus tracks how much of an order or reservation has been captured
// and given back.
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
)
