// Package service holds the order and reservation lifecycle engine: the
// state machines, the session capacity scheduler, the gift card ledger and
// the refund orchestrator.  Persistence is reached through Store so that the
// same engine runs on MySQL and in memory.
package service

import (
	"context"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/queue"
)

// Store runs fn inside one unit of work.  Everything fn writes through tx is
// committed together when fn returns nil and discarded otherwise.  Reads
// with forUpdate hold the row until the unit of work ends, which is how
// per-session and per-entity critical sections are expressed.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view over every table the engine touches.
type Tx interface {
	OrderTx
	SessionTx
	ReservationTx
	GiftCardTx
	LedgerTx
	AuditTx
}

// OrderTx persists orders and their line items.
type OrderTx interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id uint64, forUpdate bool) (*model.Order, error)
	// UpdateOrder writes status and payment fields when o.Version still
	// matches the stored row and increments the version.
	UpdateOrder(ctx context.Context, o *model.Order) error
}

// SessionTx persists workshop sessions.
type SessionTx interface {
	CreateSession(ctx context.Context, s *model.WorkshopSession) error
	GetSession(ctx context.Context, id uint64, forUpdate bool) (*model.WorkshopSession, error)
	UpdateSession(ctx context.Context, s *model.WorkshopSession) error
}

// ReservationTx persists reservations.
type ReservationTx interface {
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id uint64, forUpdate bool) (*model.Reservation, error)
	// ListReservationsBySession returns every reservation of the session,
	// ordered by id.
	ListReservationsBySession(ctx context.Context, sessionID uint64) ([]model.Reservation, error)
	UpdateReservation(ctx context.Context, r *model.Reservation) error
}

// GiftCardTx persists gift cards.
type GiftCardTx interface {
	CreateGiftCard(ctx context.Context, g *model.GiftCard) error
	GetGiftCard(ctx context.Context, code string, forUpdate bool) (*model.GiftCard, error)
	UpdateGiftCard(ctx context.Context, g *model.GiftCard) error
}

// LedgerTx appends and reads immutable ledger entries.
type LedgerTx interface {
	// AppendLedgerEntry returns repository.ErrDuplicateKey when the
	// idempotency key is already committed.
	AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	LedgerEntryByKey(ctx context.Context, key string) (*model.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, ref model.EntityRef) ([]model.LedgerEntry, error)
	ListGiftCardEntries(ctx context.Context, code string) ([]model.LedgerEntry, error)
}

// AuditTx appends and reads status change records.
type AuditTx interface {
	AppendStatusChange(ctx context.Context, c *model.StatusChange) error
	ListStatusChanges(ctx context.Context, ref model.EntityRef) ([]model.StatusChange, error)
}

// EventPublisher emits domain events to downstream consumers.  Publishing
// happens after commit; a failed publish is logged and never undoes state.
type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, ev queue.ReservationEvent) error
	PublishRefundEvent(ctx context.Context, ev queue.RefundEvent) error
}
