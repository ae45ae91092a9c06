package handler

// This file defines HTTP handlers for product orders.  Guests and customers
// create orders and open a payment page for them with the checkout token
// returned at creation; staff with the ADMIN role move orders through their
// lifecycle, record card payments and issue refunds.  Destructive status
// changes must echo a confirmation keyword, and the service refunds whatever
// is still captured before the status is committed.

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/studio-reservations/internal/middleware"
	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/service"
)

// OrderHandler exposes product orders: checkout, lifecycle transitions,
// refunds and the audit trail.
type OrderHandler struct {
	// Orders owns status transitions, payments and refunds.
	Orders *service.OrderStateMachine
	// Checkout builds new orders and opens payment sessions.
	Checkout *service.Checkout
	// Tokens ties the payment page of an order to whoever created it.
	Tokens *middleware.OrderTokens
}

// NewOrderHandler panics when a dependency is missing.
func NewOrderHandler(orders *service.OrderStateMachine, checkout *service.Checkout, tokens *middleware.OrderTokens) *OrderHandler {
	if orders == nil || checkout == nil || tokens == nil {
		panic("nil service passed to NewOrderHandler")
	}
	return &OrderHandler{Orders: orders, Checkout: checkout, Tokens: tokens}
}

type orderItemRequest struct {
	ProductID uint64          `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  uint32          `json:"quantity"`
}

type createOrderRequest struct {
	Items          []orderItemRequest `json:"items"`
	Currency       string             `json:"currency"`
	PaymentRef     *string            `json:"payment_ref"`
	GiftCardCode   *string            `json:"gift_card_code"`
	GiftCardAmount decimal.Decimal    `json:"gift_card_amount"`
}

// CreateOrder handles POST /v1/orders.
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	items := make([]model.OrderItem, 0, len(req.Items))
	for i, it := range req.Items {
		if err := checkMoney(fmt.Sprintf("items[%d].unit_price", i), it.UnitPrice); err != nil {
			return writeError(c, err)
		}
		items = append(items, model.OrderItem{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	if err := checkMoney("gift_card_amount", req.GiftCardAmount); err != nil {
		return writeError(c, err)
	}
	ord, err := h.Checkout.CreateOrder(c.Request().Context(), service.OrderRequest{
		Items:          items,
		Currency:       req.Currency,
		PaymentRef:     trimmed(req.PaymentRef),
		GiftCardCode:   trimmed(req.GiftCardCode),
		GiftCardAmount: req.GiftCardAmount,
	})
	if err != nil {
		return writeError(c, err)
	}
	token, err := h.Tokens.Issue(ord.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, createOrderResponse{Order: ord, CheckoutToken: token})
}

type createOrderResponse struct {
	*model.Order
	// CheckoutToken must accompany the checkout-session request.
	CheckoutToken string `json:"checkout_token"`
}

// GetOrder handles GET /v1/orders/:id.
func (h *OrderHandler) GetOrder(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	ord, err := h.Orders.GetOrder(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ord)
}

// History handles GET /v1/orders/:id/history.
func (h *OrderHandler) History(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	changes, err := h.Orders.History(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": changes, "count": len(changes)})
}

// Transition handles POST /v1/orders/:id/status.
func (h *OrderHandler) Transition(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	ord, err := h.Orders.Transition(c.Request().Context(), id, req.Target, req.Confirmation, middleware.Actor(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ord)
}

// Refund handles POST /v1/orders/:id/refund.  The order keeps its status;
// use the status endpoint to cancel or refund it for good.
func (h *OrderHandler) Refund(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req refundRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := req.validate(); err != nil {
		return writeError(c, err)
	}
	res, err := h.Orders.RefundOrder(c.Request().Context(), id, req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, refundResponse(res))
}

// CreateCheckoutSession handles POST /v1/orders/:id/checkout-session.  The
// caller presents the checkout token from order creation in the
// X-Checkout-Token header; admins may open the page for any order.
func (h *OrderHandler) CreateCheckoutSession(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	if middleware.Role(c) != middleware.RoleAdmin {
		if err := h.Tokens.Verify(c.Request().Header.Get(middleware.CheckoutTokenHeader), id); err != nil {
			return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
		}
	}
	sess, err := h.Checkout.CreateCheckoutSession(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

type paymentRequest struct {
	PaymentRef string `json:"payment_ref"`
}

// RecordPayment handles POST /v1/orders/:id/payment.
func (h *OrderHandler) RecordPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req paymentRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	ord, err := h.Orders.RecordPayment(c.Request().Context(), id, strings.TrimSpace(req.PaymentRef))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ord)
}

// trimmed returns nil for a missing or blank value.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
