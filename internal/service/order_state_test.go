package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/payment"
	"github.com/iliyamo/studio-reservations/internal/service"
)

func TestOrderHappyPathOneStepAtATime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, err := f.checkout.CreateOrder(ctx, service.OrderRequest{
		Items: []model.OrderItem{{ProductID: 7, UnitPrice: d("12.00"), Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = f.orders.Transition(ctx, ord.ID, "shipped", "", "admin-1")
	require.ErrorIs(t, err, service.ErrInvalidTransition)

	for _, target := range []string{"confirmed", "preparing", "shipped", "delivered"} {
		got, err := f.orders.Transition(ctx, ord.ID, target, "", "admin-1")
		require.NoError(t, err, target)
		assert.Equal(t, model.OrderStatus(target), got.Status)
	}

	history, err := f.orders.History(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "pending", history[0].OldStatus)
	assert.Equal(t, "confirmed", history[0].NewStatus)
	assert.Equal(t, "admin-1", history[0].Actor)
	assert.Equal(t, "delivered", history[3].NewStatus)
}

func TestOrderTransitionRejectsSameAndUnknownStatus(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, "10", nil, "0")

	_, err := f.orders.Transition(context.Background(), ord.ID, "confirmed", "", "a")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = f.orders.Transition(context.Background(), ord.ID, "teleported", "", "a")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestDeliveredOrderCanOnlyBeRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, "10", nil, "0")
	for _, target := range []string{"preparing", "shipped", "delivered"} {
		_, err := f.orders.Transition(ctx, ord.ID, target, "", "a")
		require.NoError(t, err)
	}

	_, err := f.orders.Transition(ctx, ord.ID, "cancelled", "CANCEL", "a")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	got, err := f.orders.Transition(ctx, ord.ID, "refunded", "REFUND", "a")
	require.NoError(t, err)
	assert.Equal(t, model.OrderRefunded, got.Status)
	assert.Equal(t, model.PaymentRefunded, got.PaymentStatus)
}

func TestOrderConfirmationMismatchLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, "10", nil, "0")

	_, err := f.orders.Transition(context.Background(), ord.ID, "cancelled", "yes", "a")
	require.ErrorIs(t, err, service.ErrConfirmationMismatch)
	assert.Contains(t, err.Error(), `type "CANCEL" to confirm`)

	got, err := f.orders.GetOrder(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmed, got.Status)
	assert.Empty(t, f.gateway.Calls())
}

// 50.00 order, 20.00 paid by a 20.00 gift card whose balance is 5.00 from
// other spend.  Cancelling credits the card back to 20.00 and refunds 30.00
// to the card.
func TestCancelOrderRefundsGiftCardThenCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedGiftCard(t, "GC-CAFE-CAFE-CAFE", "20.00", "5.00")
	ord := f.seedOrder(t, "50.00", strptr("GC-CAFE-CAFE-CAFE"), "20.00")

	got, err := f.orders.Transition(ctx, ord.ID, "cancelled", "ANNULER", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
	assert.Equal(t, model.PaymentRefunded, got.PaymentStatus)

	card, err := f.gifts.Get(ctx, "GC-CAFE-CAFE-CAFE")
	require.NoError(t, err)
	requireDecimal(t, "20.00", card.Balance)

	calls := f.gateway.Calls()
	require.Len(t, calls, 1)
	requireDecimal(t, "30.00", calls[0].Amount)

	entries := f.ledger(t, model.OrderRef(ord.ID))
	require.Len(t, entries, 2)
	assert.Equal(t, model.InstrumentGiftCard, entries[0].Instrument)
	requireDecimal(t, "15.00", entries[0].Amount)
	assert.Equal(t, model.InstrumentCard, entries[1].Instrument)
	requireDecimal(t, "30.00", entries[1].Amount)
}

func TestPermanentOrderStatusRejectsEveryTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, "10", nil, "0")
	_, err := f.orders.Transition(ctx, ord.ID, "cancelled", "cancel", "a")
	require.NoError(t, err)

	for _, target := range []string{"pending", "confirmed", "preparing", "shipped", "delivered", "cancelled", "refunded"} {
		_, err := f.orders.Transition(ctx, ord.ID, target, "REFUND", "a")
		assert.ErrorIs(t, err, service.ErrInvalidTransition, target)
	}
	assert.Len(t, f.gateway.Calls(), 1)
}

func TestFailedRefundKeepsOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, "10", nil, "0")
	f.gateway.FailWith = payment.ErrDeclined

	_, err := f.orders.Transition(ctx, ord.ID, "refunded", "REFUND", "a")
	require.ErrorIs(t, err, service.ErrPartialRefundFailure)

	got, err := f.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmed, got.Status)
	assert.Empty(t, got.PendingStatus)
	history, err := f.orders.History(ctx, ord.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// No money moved, so the order is free to move on.
	_, err = f.orders.Transition(ctx, ord.ID, "preparing", "", "a")
	require.NoError(t, err)
}

func TestCancelAfterPartialRefundReturnsTheRest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedGiftCard(t, "GC-GIFT-0000-0020", "20", "0")
	ord := f.seedOrder(t, "50", strptr("GC-GIFT-0000-0020"), "20")

	amount := d("10")
	_, err := f.orders.RefundOrder(ctx, ord.ID, &amount)
	require.NoError(t, err)

	got, err := f.orders.Transition(ctx, ord.ID, "cancelled", "CANCEL", "a")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
	assert.Equal(t, model.PaymentRefunded, got.PaymentStatus)
	requireDecimal(t, "50", got.Refunds.Refunded)

	card, err := f.gifts.Get(ctx, "GC-GIFT-0000-0020")
	require.NoError(t, err)
	requireDecimal(t, "20", card.Balance)
	requireDecimal(t, "30", f.gateway.Refunded())
	assert.Len(t, f.ledger(t, model.OrderRef(ord.ID)), 3)
}

func TestRefundOrderWithoutAmountAfterFullRefund(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, "20", nil, "0")

	_, err := f.orders.RefundOrder(context.Background(), ord.ID, nil)
	require.NoError(t, err)
	_, err = f.orders.RefundOrder(context.Background(), ord.ID, nil)
	require.ErrorIs(t, err, service.ErrOverRefund)
	assert.Len(t, f.gateway.Calls(), 1)
}

func TestCancelHoldsOffOtherTransitionsWhileRefunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, "50", nil, "0")
	for _, st := range []string{"preparing", "shipped"} {
		_, err := f.orders.Transition(ctx, ord.ID, st, "", "a")
		require.NoError(t, err)
	}

	f.gateway.Delay = 200 * time.Millisecond
	done := make(chan error, 1)
	go func() {
		_, err := f.orders.Transition(ctx, ord.ID, "cancelled", "CANCEL", "a")
		done <- err
	}()

	require.Eventually(t, func() bool {
		cur, err := f.orders.GetOrder(ctx, ord.ID)
		return err == nil && cur.PendingStatus == model.OrderCancelled
	}, time.Second, 5*time.Millisecond)

	_, err := f.orders.Transition(ctx, ord.ID, "delivered", "", "a")
	require.ErrorIs(t, err, service.ErrConflict)

	require.NoError(t, <-done)
	got, err := f.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
	assert.Equal(t, model.PaymentRefunded, got.PaymentStatus)
	assert.Empty(t, got.PendingStatus)
	requireDecimal(t, "50", f.gateway.Refunded())
}

func TestTimedOutCancelKeepsClaimUntilRetried(t *testing.T) {
	f := newFixtureWithTimeout(t, 20*time.Millisecond)
	ctx := context.Background()
	ord := f.seedOrder(t, "50", nil, "0")

	f.gateway.Delay = 500 * time.Millisecond
	_, err := f.orders.Transition(ctx, ord.ID, "cancelled", "CANCEL", "a")
	require.ErrorIs(t, err, service.ErrGatewayTimeout)

	got, err := f.orders.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmed, got.Status)
	assert.Equal(t, model.OrderCancelled, got.PendingStatus)

	_, err = f.orders.Transition(ctx, ord.ID, "preparing", "", "a")
	require.ErrorIs(t, err, service.ErrConflict)

	f.gateway.Delay = 0
	got, err = f.orders.Transition(ctx, ord.ID, "cancelled", "CANCEL", "a")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
	requireDecimal(t, "50", f.gateway.Refunded())
}

func TestConcurrentCancellationsLinearize(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, "80", nil, "0")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.Transition(context.Background(), ord.ID, "cancelled", "CANCEL", "a")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, service.ErrInvalidTransition)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	requireDecimal(t, "80", f.gateway.Refunded())
	assert.Len(t, f.ledger(t, model.OrderRef(ord.ID)), 1)
	history, err := f.orders.History(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, err := f.checkout.CreateOrder(ctx, service.OrderRequest{
		Items: []model.OrderItem{{ProductID: 1, UnitPrice: d("9.90"), Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentUnpaid, ord.PaymentStatus)

	got, err := f.orders.RecordPayment(ctx, ord.ID, "pi_later")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)
	requireDecimal(t, "9.90", got.Captured().Card)

	_, err = f.orders.RecordPayment(ctx, ord.ID, "pi_other")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRefundOrderWithoutAmountRefundsEverythingCaptured(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, "42.50", nil, "0")

	res, err := f.orders.RefundOrder(context.Background(), ord.ID, nil)
	require.NoError(t, err)
	requireDecimal(t, "42.50", res.Refunded())

	got, err := f.orders.GetOrder(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmed, got.Status)
}
