package service

// This file implements checkout: pricing a basket, charging gift cards first
// and handing the rest to the card gateway.

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/payment"
)

// Checkout turns a basket into an order.
type Checkout struct {
	store      Store
	gifts      *GiftCardLedger
	gateway    payment.Gateway
	logger     *zap.Logger
	currency   string
	successURL string
	cancelURL  string
}

// CheckoutOptions configures Checkout.
type CheckoutOptions struct {
	Currency   string
	SuccessURL string
	CancelURL  string
	Logger     *zap.Logger
}

// NewCheckout wires the checkout flow.
func NewCheckout(store Store, gifts *GiftCardLedger, gateway payment.Gateway, opts CheckoutOptions) *Checkout {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Checkout{
		store:      store,
		gifts:      gifts,
		gateway:    gateway,
		logger:     opts.Logger,
		currency:   strings.ToUpper(opts.Currency),
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
	}
}

// OrderRequest is a basket at checkout.  Unit prices are the prices at the
// time of the order.
type OrderRequest struct {
	Items          []model.OrderItem
	Currency       string
	PaymentRef     *string
	GiftCardCode   *string
	GiftCardAmount decimal.Decimal
}

// CreateOrder stores a pending order.  A gift card part is redeemed in the
// same unit of work, so the order exists iff the card was debited.
func (c *Checkout) CreateOrder(ctx context.Context, req OrderRequest) (*model.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: an order needs at least one item", ErrInvalidInput)
	}
	total := decimal.Zero
	for i, it := range req.Items {
		if it.ProductID == 0 || it.Quantity == 0 || it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %d needs a product id, a quantity and a non-negative price", ErrInvalidInput, i)
		}
		total = total.Add(it.Subtotal())
	}

	ord := &model.Order{
		Items:          req.Items,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		Total:          total,
		Status:         model.OrderPending,
		PaymentStatus:  model.PaymentUnpaid,
		PaymentRef:     req.PaymentRef,
		GiftCardAmount: decimal.Zero,
	}
	if ord.Currency == "" {
		ord.Currency = c.currency
	}
	if req.GiftCardCode != nil {
		if !req.GiftCardAmount.IsPositive() || req.GiftCardAmount.GreaterThan(total) {
			return nil, fmt.Errorf("%w: gift_card_amount must be positive and at most the order total", ErrInvalidInput)
		}
		code := normalizeCode(*req.GiftCardCode)
		ord.GiftCardCode = &code
		ord.GiftCardAmount = req.GiftCardAmount
	}
	if req.PaymentRef != nil || ord.GiftCardAmount.Equal(total) {
		ord.PaymentStatus = model.PaymentPaid
	}

	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateOrder(ctx, ord); err != nil {
			return err
		}
		if ord.GiftCardCode == nil {
			return nil
		}
		ref := model.OrderRef(ord.ID)
		_, err := c.gifts.redeemTx(ctx, tx, *ord.GiftCardCode, ord.GiftCardAmount, &ref, model.RedeemKey(ref))
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("order created",
		zap.Uint64("order_id", ord.ID),
		zap.String("total", ord.Total.StringFixed(2)),
		zap.String("gift_card_amount", ord.GiftCardAmount.StringFixed(2)))
	return ord, nil
}

// CreateCheckoutSession opens a hosted card payment page for the part of an
// unpaid order not covered by its gift card.
func (c *Checkout) CreateCheckoutSession(ctx context.Context, orderID uint64) (*payment.CheckoutSession, error) {
	var ord *model.Order
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID, false)
		if err != nil {
			return wrapNotFound(err, "order")
		}
		ord = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ord.Status.Permanent() || ord.PaymentStatus != model.PaymentUnpaid {
		return nil, fmt.Errorf("%w: order %d is %s/%s", ErrInvalidInput, orderID, ord.Status, ord.PaymentStatus)
	}
	due := ord.Total.Sub(ord.GiftCardAmount)
	if !due.IsPositive() {
		return nil, fmt.Errorf("%w: nothing left to pay on order %d", ErrInvalidInput, orderID)
	}

	sess, err := c.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		Reference:      fmt.Sprintf("order:%d", orderID),
		Amount:         due,
		Currency:       ord.Currency,
		Description:    fmt.Sprintf("Order #%d", orderID),
		SuccessURL:     c.successURL,
		CancelURL:      c.cancelURL,
		IdempotencyKey: fmt.Sprintf("order:%d:checkout:v%d", orderID, ord.Version),
	})
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &sess, nil
}
