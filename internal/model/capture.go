package model

import "github.com/shopspring/decimal"

// Capture describes how an order or reservation was paid: the part covered
// by a gift card and the part charged through the card processor.
type Capture struct {
	GiftCardCode string
	GiftCard     decimal.Decimal
	Card         decimal.Decimal
	PaymentRef   string
}

// Total is the sum captured over both instruments.
func (c Capture) Total() decimal.Decimal { return c.GiftCard.Add(c.Card) }

func newCapture(total decimal.Decimal, code *string, giftAmount decimal.Decimal, status PaymentStatus, ref *string) Capture {
	c := Capture{}
	if code != nil && giftAmount.IsPositive() {
		c.GiftCardCode = *code
		c.GiftCard = giftAmount
	}
	// The card part is only money once the processor reported a capture.
	if status != PaymentUnpaid {
		c.Card = total.Sub(c.GiftCard)
		if c.Card.IsNegative() {
			c.Card = decimal.Zero
		}
	}
	if ref != nil {
		c.PaymentRef = *ref
	}
	return c
}

// Split divides amount between the two instruments, gift card first, given
// that prior has already been refunded.  Earlier refunds used the gift card
// part before the card part, so the gift share is what remains of it.
func (c Capture) Split(prior, amount decimal.Decimal) (gift, card decimal.Decimal) {
	gift = decimal.Min(prior.Add(amount), c.GiftCard).Sub(decimal.Min(prior, c.GiftCard))
	if gift.IsNegative() {
		gift = decimal.Zero
	}
	return gift, amount.Sub(gift)
}

// RefundProgress tracks the refunds given back on an order or reservation.
// Attempts are numbered from one; each attempt owns its own ledger keys.
//
//	Refunded – sum of the completed attempts.
//	Attempt  – number of the latest attempt.
//	Amount   – requested amount of the latest attempt, zero once abandoned.
//	Pending  – the latest attempt has not completed yet.
type RefundProgress struct {
	Refunded decimal.Decimal `json:"refunded"` // *.refund_total
	Attempt  uint32          `json:"-"`        // *.refund_attempt
	Amount   decimal.Decimal `json:"-"`        // *.refund_amount
	Pending  bool            `json:"pending"`  // *.refund_pending
}

// Remaining is what a new attempt may still give back out of captured.
func (p RefundProgress) Remaining(captured decimal.Decimal) decimal.Decimal {
	r := captured.Sub(p.Refunded)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// PaymentStatus derives the payment status once refunds have completed.
func (p RefundProgress) PaymentStatus(captured decimal.Decimal, current PaymentStatus) PaymentStatus {
	switch {
	case !p.Refunded.IsPositive():
		return current
	case p.Refunded.GreaterThanOrEqual(captured):
		return PaymentRefunded
	}
	return PaymentPartiallyRefunded
}
