package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/repository"
	"github.com/iliyamo/studio-reservations/internal/service"
)

// Store runs service units of work as MySQL transactions.  Deadlocks and
// lock wait timeouts replay the whole unit with jittered backoff.
type Store struct {
	db         *sql.DB
	maxRetries int

	orders       *repository.OrderRepo
	sessions     *repository.SessionRepo
	reservations *repository.ReservationRepo
	giftCards    *repository.GiftCardRepo
	ledger       *repository.LedgerRepo
	audit        *repository.AuditRepo
}

var _ service.Store = (*Store)(nil)

// NewStore wraps an open pool.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		maxRetries:   3,
		orders:       repository.NewOrderRepo(),
		sessions:     repository.NewSessionRepo(),
		reservations: repository.NewReservationRepo(),
		giftCards:    repository.NewGiftCardRepo(),
		ledger:       repository.NewLedgerRepo(),
		audit:        repository.NewAuditRepo(),
	}
}

// WithinTx implements service.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	backoff := 50 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil || !repository.IsRetryable(err) {
			return err
		}
		if attempt == s.maxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", s.maxRetries, err)
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(ctx, &txView{store: s, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// txView binds the stateless repositories to one *sql.Tx.
type txView struct {
	store *Store
	tx    *sql.Tx
}

func (v *txView) CreateOrder(ctx context.Context, o *model.Order) error {
	return v.store.orders.CreateTx(ctx, v.tx, o)
}

func (v *txView) GetOrder(ctx context.Context, id uint64, forUpdate bool) (*model.Order, error) {
	return v.store.orders.GetTx(ctx, v.tx, id, forUpdate)
}

func (v *txView) UpdateOrder(ctx context.Context, o *model.Order) error {
	return v.store.orders.UpdateTx(ctx, v.tx, o)
}

func (v *txView) CreateSession(ctx context.Context, sess *model.WorkshopSession) error {
	return v.store.sessions.CreateTx(ctx, v.tx, sess)
}

func (v *txView) GetSession(ctx context.Context, id uint64, forUpdate bool) (*model.WorkshopSession, error) {
	return v.store.sessions.GetTx(ctx, v.tx, id, forUpdate)
}

func (v *txView) UpdateSession(ctx context.Context, sess *model.WorkshopSession) error {
	return v.store.sessions.UpdateTx(ctx, v.tx, sess)
}

func (v *txView) CreateReservation(ctx context.Context, r *model.Reservation) error {
	return v.store.reservations.CreateTx(ctx, v.tx, r)
}

func (v *txView) GetReservation(ctx context.Context, id uint64, forUpdate bool) (*model.Reservation, error) {
	return v.store.reservations.GetTx(ctx, v.tx, id, forUpdate)
}

func (v *txView) ListReservationsBySession(ctx context.Context, sessionID uint64) ([]model.Reservation, error) {
	return v.store.reservations.ListBySessionTx(ctx, v.tx, sessionID)
}

func (v *txView) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	return v.store.reservations.UpdateTx(ctx, v.tx, r)
}

func (v *txView) CreateGiftCard(ctx context.Context, g *model.GiftCard) error {
	return v.store.giftCards.CreateTx(ctx, v.tx, g)
}

func (v *txView) GetGiftCard(ctx context.Context, code string, forUpdate bool) (*model.GiftCard, error) {
	return v.store.giftCards.GetTx(ctx, v.tx, code, forUpdate)
}

func (v *txView) UpdateGiftCard(ctx context.Context, g *model.GiftCard) error {
	return v.store.giftCards.UpdateTx(ctx, v.tx, g)
}

func (v *txView) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	return v.store.ledger.AppendTx(ctx, v.tx, e)
}

func (v *txView) LedgerEntryByKey(ctx context.Context, key string) (*model.LedgerEntry, error) {
	return v.store.ledger.ByKeyTx(ctx, v.tx, key)
}

func (v *txView) ListLedgerEntries(ctx context.Context, ref model.EntityRef) ([]model.LedgerEntry, error) {
	return v.store.ledger.ListByEntityTx(ctx, v.tx, ref)
}

func (v *txView) ListGiftCardEntries(ctx context.Context, code string) ([]model.LedgerEntry, error) {
	return v.store.ledger.ListByGiftCardTx(ctx, v.tx, code)
}

func (v *txView) AppendStatusChange(ctx context.Context, c *model.StatusChange) error {
	return v.store.audit.AppendTx(ctx, v.tx, c)
}

func (v *txView) ListStatusChanges(ctx context.Context, ref model.EntityRef) ([]model.StatusChange, error) {
	return v.store.audit.ListTx(ctx, v.tx, ref)
}
