package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a purchase order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

// orderTransitions is the complete transition table.  The happy path moves
// one step at a time; cancelled is reachable until the parcel is delivered,
// refunded from every non-permanent state (returns after delivery).
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled, OrderRefunded},
	OrderConfirmed: {OrderPreparing, OrderCancelled, OrderRefunded},
	OrderPreparing: {OrderShipped, OrderCancelled, OrderRefunded},
	OrderShipped:   {OrderDelivered, OrderCancelled, OrderRefunded},
	OrderDelivered: {OrderRefunded},
	OrderCancelled: {},
	OrderRefunded:  {},
}

// ParseOrderStatus returns the status named by s and whether it is known.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	_, ok := orderTransitions[st]
	return st, ok
}

// Permanent reports whether no transition may ever leave this status.
func (s OrderStatus) Permanent() bool { return s == OrderCancelled || s == OrderRefunded }

// CanTransitionTo reports whether the table allows s -> target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Order is a purchase of physical goods.  It is created at checkout and is
// afterwards only mutated through status transitions; rows are never
// deleted.
//
// Fields:
//
//	ID             – primary key identifier.
//	Items          – ordered products with the unit price at time of order.
//	Total          – sum of unit price × quantity over Items.
//	Status         – lifecycle status.
//	PaymentStatus  – capture/refund progress.
//	PaymentRef     – card processor payment intent, when the card was charged.
//	GiftCardCode   – gift card redeemed at checkout (nullable).
//	GiftCardAmount – part of Total paid with the gift card (zero when none).
//	PendingStatus  – permanent status claimed while its refund runs.
//	Refunds        – refund attempts and the total given back.
//	Version        – optimistic concurrency counter.
type Order struct {
	ID             uint64          `json:"id"`                       // orders.id
	Items          []OrderItem     `json:"items"`                    // order_items
	Currency       string          `json:"currency"`                 // orders.currency
	Total          decimal.Decimal `json:"total"`                    // orders.total
	Status         OrderStatus     `json:"status"`                   // orders.status
	PaymentStatus  PaymentStatus   `json:"payment_status"`           // orders.payment_status
	PaymentRef     *string         `json:"payment_ref,omitempty"`    // orders.payment_ref (nullable)
	GiftCardCode   *string         `json:"gift_card_code,omitempty"` // orders.gift_card_code (nullable)
	GiftCardAmount decimal.Decimal `json:"gift_card_amount"`         // orders.gift_card_amount
	PendingStatus  OrderStatus     `json:"pending_status,omitempty"` // orders.pending_status
	Refunds        RefundProgress  `json:"refunds"`                  // orders.refund_*
	Version        uint32          `json:"version"`                  // orders.version
	CreatedAt      time.Time       `json:"created_at"`               // orders.created_at
	UpdatedAt      time.Time       `json:"updated_at"`               // orders.updated_at
}

// OrderItem is a single line of an order.
type OrderItem struct {
	ProductID uint64          `json:"product_id"` // order_items.product_id
	UnitPrice decimal.Decimal `json:"unit_price"` // order_items.unit_price
	Quantity  uint32          `json:"quantity"`   // order_items.quantity
}

// Subtotal returns unit price × quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Captured returns the payment split actually collected for the order.
func (o *Order) Captured() Capture {
	return newCapture(o.Total, o.GiftCardCode, o.GiftCardAmount, o.PaymentStatus, o.PaymentRef)
}
