package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderTransitions(t *testing.T) {
	assert.True(t, OrderPending.CanTransitionTo(OrderConfirmed))
	assert.True(t, OrderShipped.CanTransitionTo(OrderCancelled))
	assert.True(t, OrderDelivered.CanTransitionTo(OrderRefunded))
	assert.False(t, OrderDelivered.CanTransitionTo(OrderCancelled))
	assert.False(t, OrderPending.CanTransitionTo(OrderShipped), "happy path moves one step at a time")

	for _, s := range []OrderStatus{OrderCancelled, OrderRefunded} {
		assert.True(t, s.Permanent())
		for _, target := range []OrderStatus{OrderPending, OrderConfirmed, OrderPreparing, OrderShipped, OrderDelivered, OrderCancelled, OrderRefunded} {
			assert.Falsef(t, s.CanTransitionTo(target), "%s -> %s", s, target)
		}
	}

	_, ok := ParseOrderStatus("shipped")
	assert.True(t, ok)
	_, ok = ParseOrderStatus("lost")
	assert.False(t, ok)
}

func TestReservationTransitions(t *testing.T) {
	assert.True(t, ReservationPending.CanTransitionTo(ReservationConfirmed))
	assert.True(t, ReservationWaitlist.CanTransitionTo(ReservationCancelled))
	assert.False(t, ReservationWaitlist.CanTransitionTo(ReservationConfirmed))
	assert.False(t, ReservationCancelled.CanTransitionTo(ReservationConfirmed))

	assert.True(t, ReservationConfirmed.HoldsSeats())
	assert.True(t, ReservationPending.HoldsSeats())
	assert.False(t, ReservationWaitlist.HoldsSeats())
	assert.False(t, ReservationCancelled.HoldsSeats())
}

func TestBookedSeatsCountsOnlySeatHolders(t *testing.T) {
	rs := []Reservation{
		{Quantity: 2, Status: ReservationConfirmed},
		{Quantity: 1, Status: ReservationPending},
		{Quantity: 4, Status: ReservationWaitlist},
		{Quantity: 3, Status: ReservationCancelled},
	}
	assert.EqualValues(t, 3, BookedSeats(rs))
}

func TestCaptured(t *testing.T) {
	code := "GC-AAAA-BBBB-CCCC"
	ref := "pi_1"
	o := &Order{
		Total:          decimal.RequireFromString("50"),
		PaymentStatus:  PaymentPaid,
		PaymentRef:     &ref,
		GiftCardCode:   &code,
		GiftCardAmount: decimal.RequireFromString("30"),
	}
	c := o.Captured()
	assert.True(t, c.GiftCard.Equal(decimal.RequireFromString("30")))
	assert.True(t, c.Card.Equal(decimal.RequireFromString("20")))
	assert.True(t, c.Total().Equal(decimal.RequireFromString("50")))
	assert.Equal(t, code, c.GiftCardCode)
	assert.Equal(t, ref, c.PaymentRef)

	o.PaymentStatus = PaymentUnpaid
	c = o.Captured()
	assert.True(t, c.Card.IsZero(), "uncaptured card part is not refundable")
	assert.True(t, c.Total().Equal(decimal.RequireFromString("30")))
}

func TestReservationTotal(t *testing.T) {
	r := &Reservation{PricePerSeat: decimal.RequireFromString("12.50"), Quantity: 3}
	assert.True(t, r.Total().Equal(decimal.RequireFromString("37.5")))
}

func TestGiftCardExpiredAt(t *testing.T) {
	expiry := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	g := &GiftCard{ExpiryDate: &expiry}

	assert.False(t, g.ExpiredAt(time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)))
	assert.True(t, g.ExpiredAt(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, (&GiftCard{}).ExpiredAt(time.Now()))
}

func TestIdempotencyKeys(t *testing.T) {
	assert.Equal(t, "order:7:card:refund", RefundKey(OrderRef(7), InstrumentCard, 1))
	assert.Equal(t, "reservation:3:gift_card:refund", RefundKey(ReservationRef(3), InstrumentGiftCard, 1))
	assert.Equal(t, "order:7:card:refund:2", RefundKey(OrderRef(7), InstrumentCard, 2))
	assert.Equal(t, "order:7:gift_card:redeem", RedeemKey(OrderRef(7)))
}

func TestCaptureSplitUsesGiftCardPartFirst(t *testing.T) {
	c := Capture{GiftCard: decimal.RequireFromString("20"), Card: decimal.RequireFromString("30")}

	tests := []struct {
		name       string
		prior, amt string
		gift, card string
	}{
		{"first refund within gift part", "0", "15", "15", "0"},
		{"crosses into card part", "15", "10", "5", "5"},
		{"gift part exhausted", "20", "30", "0", "30"},
		{"full refund", "0", "50", "20", "30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gift, card := c.Split(decimal.RequireFromString(tt.prior), decimal.RequireFromString(tt.amt))
			assert.True(t, gift.Equal(decimal.RequireFromString(tt.gift)), "gift %s", gift)
			assert.True(t, card.Equal(decimal.RequireFromString(tt.card)), "card %s", card)
		})
	}
}

func TestRefundProgress(t *testing.T) {
	captured := decimal.RequireFromString("50")
	p := RefundProgress{}
	assert.True(t, p.Remaining(captured).Equal(captured))
	assert.Equal(t, PaymentPaid, p.PaymentStatus(captured, PaymentPaid))

	p.Refunded = decimal.RequireFromString("10")
	assert.True(t, p.Remaining(captured).Equal(decimal.RequireFromString("40")))
	assert.Equal(t, PaymentPartiallyRefunded, p.PaymentStatus(captured, PaymentPaid))

	p.Refunded = captured
	assert.True(t, p.Remaining(captured).IsZero())
	assert.Equal(t, PaymentRefunded, p.PaymentStatus(captured, PaymentPartiallyRefunded))
}
