package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/payment"
	"github.com/iliyamo/studio-reservations/internal/repository"
	"github.com/iliyamo/studio-reservations/internal/service"
)

func setupMySQL(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MySQL integration test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "rootpass",
			"MYSQL_DATABASE":      "studio",
			"MYSQL_USER":          "studio",
			"MYSQL_PASSWORD":      "studiopass",
		},
		WaitingFor: wait.ForLog("ready for connections").
			WithOccurrence(2).
			WithStartupTimeout(120 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start mysql container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306")
	require.NoError(t, err)

	dsn := fmt.Sprintf("studio:studiopass@tcp(%s:%s)/studio?charset=utf8mb4&parseTime=true&loc=UTC", host, port.Port())
	var db *sql.DB
	for attempt := 0; attempt < 10; attempt++ {
		if db, err = Open(ctx, dsn); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrations must be re-runnable")
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStoreIntegration(t *testing.T) {
	db := setupMySQL(t)
	store := NewStore(db)
	ctx := context.Background()

	gateway := payment.NewMemory()
	gifts := service.NewGiftCardLedger(store, "EUR", nil)
	refunds := service.NewRefundOrchestrator(store, gifts, gateway, service.RefundOptions{})
	scheduler := service.NewScheduler(store, gifts, nil, "EUR", nil)
	reservations := service.NewReservationStateMachine(store, refunds, scheduler, service.DefaultKeywords(), nil)
	orders := service.NewOrderStateMachine(store, refunds, service.DefaultKeywords(), nil)

	t.Run("waitlist promotion on cancellation", func(t *testing.T) {
		sess, err := scheduler.CreateSession(ctx, service.SessionRequest{
			WorkshopID:   7,
			StartsAt:     time.Date(2026, 12, 5, 10, 0, 0, 0, time.UTC),
			Capacity:     2,
			PricePerSeat: dec("25.00"),
		})
		require.NoError(t, err)

		holder := func(name string) model.Holder { return model.Holder{Name: name, Email: name + "@example.test"} }
		a, err := scheduler.BookSession(ctx, sess.ID, service.BookingRequest{Quantity: 2, Holder: holder("a")})
		require.NoError(t, err)
		b, err := scheduler.BookSession(ctx, sess.ID, service.BookingRequest{Quantity: 1, Holder: holder("b")})
		require.NoError(t, err)
		assert.Equal(t, model.ReservationConfirmed, a.Status)
		require.Equal(t, model.ReservationWaitlist, b.Status)
		require.NotNil(t, b.WaitlistPosition)
		assert.EqualValues(t, 1, *b.WaitlistPosition)

		_, err = reservations.Transition(ctx, a.ID, "cancelled", "CANCEL", "admin")
		require.NoError(t, err)

		got, err := scheduler.GetReservation(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationConfirmed, got.Status)
		assert.Nil(t, got.WaitlistPosition)

		history, err := reservations.History(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "confirmed", history[0].OldStatus)
		assert.Equal(t, "cancelled", history[0].NewStatus)
	})

	t.Run("split refund credits the gift card first", func(t *testing.T) {
		code := "GC-MYSQ-LTES-T001"
		ord := &model.Order{
			Items:          []model.OrderItem{{ProductID: 3, UnitPrice: dec("25.00"), Quantity: 2}},
			Currency:       "EUR",
			Total:          dec("50.00"),
			Status:         model.OrderConfirmed,
			PaymentStatus:  model.PaymentPaid,
			PaymentRef:     &[]string{"pi_mysql"}[0],
			GiftCardCode:   &code,
			GiftCardAmount: dec("30.00"),
		}
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx service.Tx) error {
			if err := tx.CreateGiftCard(ctx, &model.GiftCard{
				Code: code, Amount: dec("50.00"), Balance: dec("20.00"), Currency: "EUR", Status: model.GiftCardActive,
			}); err != nil {
				return err
			}
			return tx.CreateOrder(ctx, ord)
		}))

		updated, err := orders.Transition(ctx, ord.ID, "cancelled", "ANNULER", "admin")
		require.NoError(t, err)
		assert.Equal(t, model.OrderCancelled, updated.Status)
		assert.Equal(t, model.PaymentRefunded, updated.PaymentStatus)
		assert.Empty(t, updated.PendingStatus)
		assert.True(t, updated.Refunds.Refunded.Equal(dec("50.00")), "refunded %s", updated.Refunds.Refunded)
		assert.False(t, updated.Refunds.Pending)
		assert.EqualValues(t, 1, updated.Refunds.Attempt)
		require.Len(t, updated.Items, 1)

		card, err := gifts.Get(ctx, code)
		require.NoError(t, err)
		assert.True(t, card.Balance.Equal(dec("50.00")), "balance %s", card.Balance)

		entries, err := gifts.Entries(ctx, code)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, model.Credit, entries[0].Direction)
		assert.True(t, gateway.Refunded().Equal(dec("20.00")))
	})

	t.Run("duplicate ledger key maps to sentinel", func(t *testing.T) {
		entry := func() *model.LedgerEntry {
			return &model.LedgerEntry{
				Instrument:     model.InstrumentCard,
				Direction:      model.Credit,
				Amount:         dec("1.00"),
				IdempotencyKey: "test:duplicate",
			}
		}
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx service.Tx) error {
			return tx.AppendLedgerEntry(ctx, entry())
		}))
		err := store.WithinTx(ctx, func(ctx context.Context, tx service.Tx) error {
			return tx.AppendLedgerEntry(ctx, entry())
		})
		assert.ErrorIs(t, err, repository.ErrDuplicateKey)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		sess, err := scheduler.CreateSession(ctx, service.SessionRequest{
			WorkshopID:   8,
			StartsAt:     time.Date(2026, 12, 6, 10, 0, 0, 0, time.UTC),
			Capacity:     4,
			PricePerSeat: dec("10.00"),
		})
		require.NoError(t, err)

		stale := *sess
		_, err = scheduler.UpdateCapacity(ctx, sess.ID, 6)
		require.NoError(t, err)

		stale.Capacity = 3
		err = store.WithinTx(ctx, func(ctx context.Context, tx service.Tx) error {
			return tx.UpdateSession(ctx, &stale)
		})
		assert.ErrorIs(t, err, repository.ErrVersionConflict)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		boom := fmt.Errorf("boom")
		err := store.WithinTx(ctx, func(ctx context.Context, tx service.Tx) error {
			if err := tx.CreateGiftCard(ctx, &model.GiftCard{
				Code: "GC-ROLL-BACK-0001", Amount: dec("5.00"), Balance: dec("5.00"), Currency: "EUR", Status: model.GiftCardActive,
			}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = gifts.Get(ctx, "GC-ROLL-BACK-0001")
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}
