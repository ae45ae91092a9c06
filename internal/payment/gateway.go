// Package payment is the boundary to the external card processor.  The
// engine only needs three capabilities from it: refund a captured payment,
// open a hosted checkout session, and look up what was captured.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTimeout is returned when the processor did not answer within the
// gateway's deadline.  The outcome of the call is unknown; retrying with the
// same idempotency key is safe.
var ErrTimeout = errors.New("payment: gateway timeout")

// ErrDeclined is returned when the processor definitively refused the call.
var ErrDeclined = errors.New("payment: declined")

// RefundRequest asks the processor to give back part of a captured payment.
type RefundRequest struct {
	PaymentRef     string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundReceipt is the processor's acknowledgement of a refund.
type RefundReceipt struct {
	ID     string
	Amount decimal.Decimal
	Status string
}

// CheckoutRequest describes a hosted checkout session for the card part of
// an order.
type CheckoutRequest struct {
	Reference      string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is the processor's hosted payment page.
type CheckoutSession struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gateway is the card processor capability consumed by the engine.
type Gateway interface {
	Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// WithTimeout bounds every call on gw by d and turns a deadline expiry into
// ErrTimeout.
func WithTimeout(gw Gateway, d time.Duration) Gateway {
	if d <= 0 {
		d = 10 * time.Second
	}
	return &timeoutGateway{next: gw, timeout: d}
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

func (g *timeoutGateway) Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	receipt, err := g.next.Refund(ctx, req)
	return receipt, classify(ctx, err)
}

func (g *timeoutGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	session, err := g.next.CreateCheckoutSession(ctx, req)
	return session, classify(ctx, err)
}

func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

// MinorUnits converts a decimal amount to the processor's integer minor
// units (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts processor minor units back to a decimal amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
