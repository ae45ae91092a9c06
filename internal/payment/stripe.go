package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the Stripe gateway.  Refunds and Sessions
// replace the SDK clients in tests.
type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Refunds  stripeRefundAPI
	Sessions stripeSessionAPI
}

// Stripe implements Gateway on top of the Stripe API.
type Stripe struct {
	refunds  stripeRefundAPI
	sessions stripeSessionAPI
}

// NewStripe builds a Stripe gateway.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	refunds, sessions := cfg.Refunds, cfg.Sessions
	if refunds == nil || sessions == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(key, cfg.Backends)
		if refunds == nil {
			refunds = sc.Refunds
		}
		if sessions == nil {
			sessions = sc.CheckoutSessions
		}
	}
	return &Stripe{refunds: refunds, sessions: sessions}, nil
}

// Refund refunds part of the payment intent named by req.PaymentRef.  The
// idempotency key is forwarded so that a retried refund is deduplicated by
// Stripe itself.
func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error) {
	if strings.TrimSpace(req.PaymentRef) == "" {
		return RefundReceipt{}, fmt.Errorf("%w: missing payment reference", ErrDeclined)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(MinorUnits(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	r, err := s.refunds.New(params)
	if err != nil {
		return RefundReceipt{}, mapStripeError("refund", err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return RefundReceipt{}, fmt.Errorf("%w: refund %s is %s", ErrDeclined, r.ID, r.Status)
	}
	return RefundReceipt{ID: r.ID, Amount: FromMinorUnits(r.Amount), Status: string(r.Status)}, nil
}

// CreateCheckoutSession opens a hosted Checkout page for the card part.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(MinorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, mapStripeError("checkout session", err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL, ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC()}, nil
}

func mapStripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%w: stripe %s: %s", ErrDeclined, op, se.Msg)
		}
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
