package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/payment"
	"github.com/iliyamo/studio-reservations/internal/queue"
	"github.com/iliyamo/studio-reservations/internal/repository/memstore"
	"github.com/iliyamo/studio-reservations/internal/service"
)

type recordingPublisher struct {
	mu           sync.Mutex
	reservations []queue.ReservationEvent
	refunds      []queue.RefundEvent
}

func (p *recordingPublisher) PublishReservationEvent(_ context.Context, ev queue.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reservations = append(p.reservations, ev)
	return nil
}

func (p *recordingPublisher) PublishRefundEvent(_ context.Context, ev queue.RefundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, ev)
	return nil
}

func (p *recordingPublisher) reservationTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.reservations {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store        *memstore.Store
	gateway      *payment.Memory
	events       *recordingPublisher
	gifts        *service.GiftCardLedger
	refunds      *service.RefundOrchestrator
	scheduler    *service.Scheduler
	orders       *service.OrderStateMachine
	reservations *service.ReservationStateMachine
	checkout     *service.Checkout
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithTimeout(t, time.Second)
}

func newFixtureWithTimeout(t *testing.T, gatewayTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:   memstore.New(),
		gateway: payment.NewMemory(),
		events:  &recordingPublisher{},
	}
	gw := payment.WithTimeout(f.gateway, gatewayTimeout)
	f.gifts = service.NewGiftCardLedger(f.store, "EUR", nil)
	f.refunds = service.NewRefundOrchestrator(f.store, f.gifts, gw, service.RefundOptions{Events: f.events})
	f.scheduler = service.NewScheduler(f.store, f.gifts, f.events, "EUR", nil)
	f.orders = service.NewOrderStateMachine(f.store, f.refunds, service.DefaultKeywords(), nil)
	f.reservations = service.NewReservationStateMachine(f.store, f.refunds, f.scheduler, service.DefaultKeywords(), nil)
	f.checkout = service.NewCheckout(f.store, f.gifts, gw, service.CheckoutOptions{
		Currency:   "EUR",
		SuccessURL: "https://studio.test/ok",
		CancelURL:  "https://studio.test/cancel",
	})
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strptr(s string) *string { return &s }

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, got.Equal(d(want)), "want %s, got %s", want, got.String())
}

func guest(name string) model.Holder {
	return model.Holder{Name: name, Email: name + "@example.test"}
}

func (f *fixture) session(t *testing.T, capacity uint32, price string) *model.WorkshopSession {
	t.Helper()
	sess, err := f.scheduler.CreateSession(context.Background(), service.SessionRequest{
		WorkshopID:   1,
		StartsAt:     time.Date(2026, 11, 7, 14, 0, 0, 0, time.UTC),
		Capacity:     capacity,
		PricePerSeat: d(price),
	})
	require.NoError(t, err)
	return sess
}

func (f *fixture) book(t *testing.T, sessionID uint64, qty uint32, name string) *model.Reservation {
	t.Helper()
	r, err := f.scheduler.BookSession(context.Background(), sessionID, service.BookingRequest{Quantity: qty, Holder: guest(name)})
	require.NoError(t, err)
	return r
}

// seedGiftCard stores a card with an arbitrary balance, bypassing issuance.
func (f *fixture) seedGiftCard(t *testing.T, code, face, balance string) {
	t.Helper()
	status := model.GiftCardActive
	if d(balance).IsZero() {
		status = model.GiftCardDepleted
	}
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		return tx.CreateGiftCard(ctx, &model.GiftCard{
			Code: code, Amount: d(face), Balance: d(balance), Currency: "EUR", Status: status,
		})
	}))
}

// seedOrder stores a paid order as if checkout had already happened.
func (f *fixture) seedOrder(t *testing.T, total string, giftCode *string, giftAmount string) *model.Order {
	t.Helper()
	ord := &model.Order{
		Items:          []model.OrderItem{{ProductID: 1, UnitPrice: d(total), Quantity: 1}},
		Currency:       "EUR",
		Total:          d(total),
		Status:         model.OrderConfirmed,
		PaymentStatus:  model.PaymentPaid,
		PaymentRef:     strptr("pi_seed"),
		GiftCardCode:   giftCode,
		GiftCardAmount: d(giftAmount),
	}
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		return tx.CreateOrder(ctx, ord)
	}))
	return ord
}

func (f *fixture) ledger(t *testing.T, ref model.EntityRef) []model.LedgerEntry {
	t.Helper()
	var out []model.LedgerEntry
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		var err error
		out, err = tx.ListLedgerEntries(ctx, ref)
		return err
	}))
	return out
}
