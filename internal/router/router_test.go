package router_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservations/internal/handler"
	"github.com/iliyamo/studio-reservations/internal/middleware"
	"github.com/iliyamo/studio-reservations/internal/payment"
	"github.com/iliyamo/studio-reservations/internal/repository/memstore"
	"github.com/iliyamo/studio-reservations/internal/router"
	"github.com/iliyamo/studio-reservations/internal/service"
)

const secret = "router-test-secret"

type api struct {
	t       *testing.T
	e       *echo.Echo
	gateway *payment.Memory
	admin   string
}

func newAPI(t *testing.T, gatewayTimeout time.Duration) *api {
	t.Helper()
	store := memstore.New()
	gateway := payment.NewMemory()
	gw := payment.WithTimeout(gateway, gatewayTimeout)

	gifts := service.NewGiftCardLedger(store, "EUR", nil)
	refunds := service.NewRefundOrchestrator(store, gifts, gw, service.RefundOptions{})
	scheduler := service.NewScheduler(store, gifts, nil, "EUR", nil)
	orders := service.NewOrderStateMachine(store, refunds, service.DefaultKeywords(), nil)
	reservations := service.NewReservationStateMachine(store, refunds, scheduler, service.DefaultKeywords(), nil)
	checkout := service.NewCheckout(store, gifts, gw, service.CheckoutOptions{
		Currency:   "EUR",
		SuccessURL: "https://studio.test/ok",
		CancelURL:  "https://studio.test/cancel",
	})

	e := echo.New()
	router.Register(e, router.Deps{
		JWTSecret:    secret,
		Health:       &handler.HealthHandler{},
		Orders:       handler.NewOrderHandler(orders, checkout, middleware.NewOrderTokens(secret, time.Hour)),
		Reservations: handler.NewReservationHandler(reservations, scheduler),
		Sessions:     handler.NewSessionHandler(scheduler),
		GiftCards:    handler.NewGiftCardHandler(gifts),
	})
	return &api{t: t, e: e, gateway: gateway, admin: token(t, "1", middleware.RoleAdmin)}
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (a *api) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.doWithHeaders(method, path, bearer, nil, body)
}

func (a *api) doWithHeaders(method, path, bearer string, headers map[string]string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func money(t *testing.T, v any) decimal.Decimal {
	t.Helper()
	s, ok := v.(string)
	require.Truef(t, ok, "expected a decimal string, got %#v", v)
	return decimal.RequireFromString(s)
}

func id(t *testing.T, body map[string]any) uint64 {
	t.Helper()
	f, ok := body["id"].(float64)
	require.True(t, ok, "missing id")
	return uint64(f)
}

func (a *api) createSession(capacity int) uint64 {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/sessions", a.admin, map[string]any{
		"workshop_id":    1,
		"starts_at":      "2026-11-07T14:00:00Z",
		"capacity":       capacity,
		"price_per_seat": "20.00",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return id(a.t, decode(a.t, rec))
}

func (a *api) issueGiftCard(amount string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/gift-cards", a.admin, map[string]any{"amount": amount, "category": "workshop"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(a.t, rec)["code"].(string)
}

func (a *api) createOrder(body map[string]any) uint64 {
	a.t.Helper()
	orderID, _ := a.createOrderWithToken(body)
	return orderID
}

func (a *api) createOrderWithToken(body map[string]any) (uint64, string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/orders", "", body)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(a.t, rec)
	tok, _ := out["checkout_token"].(string)
	require.NotEmpty(a.t, tok)
	return id(a.t, out), tok
}

func TestHealth(t *testing.T) {
	a := newAPI(t, time.Second)
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	a := newAPI(t, time.Second)

	rec := a.do(http.MethodPost, "/v1/sessions", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/v1/sessions", token(t, "9", "CUSTOMER"), map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBookingWaitlistAndPromotion(t *testing.T) {
	a := newAPI(t, time.Second)
	sessionID := a.createSession(3)

	book := func(qty int, name string) *httptest.ResponseRecorder {
		return a.do(http.MethodPost, fmt.Sprintf("/v1/sessions/%d/book", sessionID), "", map[string]any{
			"quantity": qty,
			"holder":   map[string]any{"name": name, "email": name + "@example.test"},
		})
	}

	rec := book(2, "ana")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, "confirmed", first["status"])

	rec = book(2, "ben")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	second := decode(t, rec)
	assert.Equal(t, "waitlist", second["status"])
	assert.EqualValues(t, 1, second["waitlist_position"])

	rec = a.do(http.MethodGet, fmt.Sprintf("/v1/sessions/%d", sessionID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode(t, rec)
	assert.EqualValues(t, 2, avail["booked"])
	assert.EqualValues(t, 1, avail["free"])
	assert.EqualValues(t, 1, avail["waitlist"])

	statusPath := fmt.Sprintf("/v1/reservations/%d/status", id(t, first))
	rec = a.do(http.MethodPost, statusPath, a.admin, map[string]any{"target": "cancelled"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "CANCEL", decode(t, rec)["expected"])

	rec = a.do(http.MethodPost, statusPath, a.admin, map[string]any{"target": "cancelled", "confirmation": "annuler"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, statusPath, a.admin, map[string]any{"target": "confirmed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodGet, fmt.Sprintf("/v1/reservations/%d", id(t, second)), a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	promoted := decode(t, rec)
	assert.Equal(t, "confirmed", promoted["status"])
	assert.Nil(t, promoted["waitlist_position"])

	rec = a.do(http.MethodGet, fmt.Sprintf("/v1/reservations/%d/history", id(t, first)), a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

func TestBookingRejectWhenFull(t *testing.T) {
	a := newAPI(t, time.Second)
	sessionID := a.createSession(1)

	rec := a.do(http.MethodPost, fmt.Sprintf("/v1/sessions/%d/book", sessionID), token(t, "42", "CUSTOMER"), map[string]any{
		"quantity":         2,
		"reject_when_full": true,
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestGiftCardRedemption(t *testing.T) {
	a := newAPI(t, time.Second)
	code := a.issueGiftCard("50.00")

	rec := a.do(http.MethodPost, "/v1/gift-cards/"+code+"/redeem", a.admin, map[string]any{"amount": "20.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/v1/gift-cards/"+code, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, money(t, decode(t, rec)["balance"]).Equal(decimal.RequireFromString("30")))

	rec = a.do(http.MethodPost, "/v1/gift-cards/"+code+"/redeem", a.admin, map[string]any{"amount": "40.00"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(http.MethodPost, "/v1/gift-cards/"+code+"/redeem", a.admin, map[string]any{"amount": "1.005"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/v1/gift-cards/"+code+"/entries", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = a.do(http.MethodGet, "/v1/gift-cards/GC-NONE-NONE-NONE", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderCancellationRefundsGiftCardFirst(t *testing.T) {
	a := newAPI(t, time.Second)
	code := a.issueGiftCard("50.00")
	orderID := a.createOrder(map[string]any{
		"items":            []map[string]any{{"product_id": 1, "unit_price": "50.00", "quantity": 1}},
		"payment_ref":      "pi_123",
		"gift_card_code":   code,
		"gift_card_amount": "30.00",
	})

	rec := a.do(http.MethodPost, fmt.Sprintf("/v1/orders/%d/status", orderID), a.admin, map[string]any{
		"target": "cancelled", "confirmation": "CANCEL",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ord := decode(t, rec)
	assert.Equal(t, "cancelled", ord["status"])
	assert.Equal(t, "refunded", ord["payment_status"])

	rec = a.do(http.MethodGet, "/v1/gift-cards/"+code, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, money(t, decode(t, rec)["balance"]).Equal(decimal.RequireFromString("50")))
	assert.True(t, a.gateway.Refunded().Equal(decimal.RequireFromString("20")))

	rec = a.do(http.MethodGet, fmt.Sprintf("/v1/orders/%d/history", orderID), a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

func TestRefundGatewayTimeoutIsRetryable(t *testing.T) {
	a := newAPI(t, 20*time.Millisecond)
	orderID := a.createOrder(map[string]any{
		"items":       []map[string]any{{"product_id": 2, "unit_price": "20.00", "quantity": 1}},
		"payment_ref": "pi_slow",
	})

	a.gateway.Delay = 200 * time.Millisecond
	rec := a.do(http.MethodPost, fmt.Sprintf("/v1/orders/%d/refund", orderID), a.admin, map[string]any{})
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	a.gateway.Delay = 0
	rec = a.do(http.MethodPost, fmt.Sprintf("/v1/orders/%d/refund", orderID), a.admin, map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, money(t, decode(t, rec)["refunded"]).Equal(decimal.RequireFromString("20")))
}

func TestPartialRefundFailureReportsOutstanding(t *testing.T) {
	a := newAPI(t, time.Second)
	code := a.issueGiftCard("50.00")
	orderID := a.createOrder(map[string]any{
		"items":            []map[string]any{{"product_id": 1, "unit_price": "50.00", "quantity": 1}},
		"payment_ref":      "pi_declined",
		"gift_card_code":   code,
		"gift_card_amount": "30.00",
	})

	a.gateway.FailWith = payment.ErrDeclined
	rec := a.do(http.MethodPost, fmt.Sprintf("/v1/orders/%d/refund", orderID), a.admin, map[string]any{})
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "30.00", body["gift_card_credited"])
	assert.Equal(t, "20.00", body["outstanding"])
}

func TestRecordPaymentAndCheckoutSession(t *testing.T) {
	a := newAPI(t, time.Second)
	orderID, checkoutToken := a.createOrderWithToken(map[string]any{
		"items": []map[string]any{{"product_id": 5, "unit_price": "12.50", "quantity": 2}},
	})

	rec := a.doWithHeaders(http.MethodPost, fmt.Sprintf("/v1/orders/%d/checkout-session", orderID), "",
		map[string]string{middleware.CheckoutTokenHeader: checkoutToken}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["url"], "amount=25.00")

	path := fmt.Sprintf("/v1/orders/%d/payment", orderID)
	rec = a.do(http.MethodPost, path, a.admin, map[string]any{"payment_ref": "pi_paid"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decode(t, rec)["payment_status"])

	rec = a.do(http.MethodPost, path, a.admin, map[string]any{"payment_ref": "pi_paid"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, path, a.admin, map[string]any{"payment_ref": "pi_other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutSessionRequiresTheOrderToken(t *testing.T) {
	a := newAPI(t, time.Second)
	first, firstToken := a.createOrderWithToken(map[string]any{
		"items": []map[string]any{{"product_id": 1, "unit_price": "10.00", "quantity": 1}},
	})
	second, _ := a.createOrderWithToken(map[string]any{
		"items": []map[string]any{{"product_id": 2, "unit_price": "20.00", "quantity": 1}},
	})

	rec := a.do(http.MethodPost, fmt.Sprintf("/v1/orders/%d/checkout-session", first), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.doWithHeaders(http.MethodPost, fmt.Sprintf("/v1/orders/%d/checkout-session", second), "",
		map[string]string{middleware.CheckoutTokenHeader: firstToken}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An access token is not a checkout token.
	rec = a.doWithHeaders(http.MethodPost, fmt.Sprintf("/v1/orders/%d/checkout-session", first), "",
		map[string]string{middleware.CheckoutTokenHeader: token(t, "42", "CUSTOMER")}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, fmt.Sprintf("/v1/orders/%d/checkout-session", second), a.admin, nil)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestNotFoundAndBadIDs(t *testing.T) {
	a := newAPI(t, time.Second)

	rec := a.do(http.MethodGet, "/v1/orders/999", a.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, "/v1/orders/abc", a.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/orders/999/status", a.admin, map[string]any{"target": "shipped"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
