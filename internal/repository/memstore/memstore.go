// Package memstore is an in-process implementation of service.Store.  A unit
// of work holds a single mutex for its whole duration and operates on a
// private copy of the data, which replaces the shared copy only when the
// unit of work succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/repository"
	"github.com/iliyamo/studio-reservations/internal/service"
)

// Store keeps every table in memory.
type Store struct {
	mu    sync.Mutex
	data  *tables
	clock func() time.Time
}

type tables struct {
	orders       map[uint64]model.Order
	sessions     map[uint64]model.WorkshopSession
	reservations map[uint64]model.Reservation
	giftCards    map[string]model.GiftCard
	ledger       []model.LedgerEntry
	ledgerKeys   map[string]int
	audit        []model.StatusChange

	nextOrder       uint64
	nextSession     uint64
	nextReservation uint64
	nextLedger      uint64
	nextAudit       uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data: &tables{
			orders:       map[uint64]model.Order{},
			sessions:     map[uint64]model.WorkshopSession{},
			reservations: map[uint64]model.Reservation{},
			giftCards:    map[string]model.GiftCard{},
			ledgerKeys:   map[string]int{},
		},
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx implements service.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, &tx{t: work, now: s.clock}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (t *tables) clone() *tables {
	c := &tables{
		orders:          make(map[uint64]model.Order, len(t.orders)),
		sessions:        make(map[uint64]model.WorkshopSession, len(t.sessions)),
		reservations:    make(map[uint64]model.Reservation, len(t.reservations)),
		giftCards:       make(map[string]model.GiftCard, len(t.giftCards)),
		ledger:          make([]model.LedgerEntry, len(t.ledger)),
		ledgerKeys:      make(map[string]int, len(t.ledgerKeys)),
		audit:           make([]model.StatusChange, len(t.audit)),
		nextOrder:       t.nextOrder,
		nextSession:     t.nextSession,
		nextReservation: t.nextReservation,
		nextLedger:      t.nextLedger,
		nextAudit:       t.nextAudit,
	}
	for k, v := range t.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range t.sessions {
		c.sessions[k] = v
	}
	for k, v := range t.reservations {
		c.reservations[k] = copyReservation(v)
	}
	for k, v := range t.giftCards {
		c.giftCards[k] = copyGiftCard(v)
	}
	// Ledger entries and audit records are never mutated after append.
	copy(c.ledger, t.ledger)
	copy(c.audit, t.audit)
	for k, v := range t.ledgerKeys {
		c.ledgerKeys[k] = v
	}
	return c
}

type tx struct {
	t   *tables
	now func() time.Time
}

var _ service.Tx = (*tx)(nil)

// ---- orders ----

func (x *tx) CreateOrder(_ context.Context, o *model.Order) error {
	x.t.nextOrder++
	now := x.now()
	o.ID = x.t.nextOrder
	o.Version = 1
	o.CreatedAt, o.UpdatedAt = now, now
	x.t.orders[o.ID] = copyOrder(*o)
	return nil
}

func (x *tx) GetOrder(_ context.Context, id uint64, _ bool) (*model.Order, error) {
	o, ok := x.t.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := copyOrder(o)
	return &c, nil
}

func (x *tx) UpdateOrder(_ context.Context, o *model.Order) error {
	cur, ok := x.t.orders[o.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != o.Version {
		return repository.ErrVersionConflict
	}
	o.Version++
	o.UpdatedAt = x.now()
	// Line items are immutable after checkout.
	o.Items = cur.Items
	x.t.orders[o.ID] = copyOrder(*o)
	return nil
}

// ---- sessions ----

func (x *tx) CreateSession(_ context.Context, s *model.WorkshopSession) error {
	x.t.nextSession++
	now := x.now()
	s.ID = x.t.nextSession
	s.Version = 1
	s.CreatedAt, s.UpdatedAt = now, now
	x.t.sessions[s.ID] = *s
	return nil
}

func (x *tx) GetSession(_ context.Context, id uint64, _ bool) (*model.WorkshopSession, error) {
	s, ok := x.t.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (x *tx) UpdateSession(_ context.Context, s *model.WorkshopSession) error {
	cur, ok := x.t.sessions[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != s.Version {
		return repository.ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = x.now()
	x.t.sessions[s.ID] = *s
	return nil
}

// ---- reservations ----

func (x *tx) CreateReservation(_ context.Context, r *model.Reservation) error {
	if _, ok := x.t.sessions[r.SessionID]; !ok {
		return repository.ErrNotFound
	}
	x.t.nextReservation++
	now := x.now()
	r.ID = x.t.nextReservation
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	x.t.reservations[r.ID] = copyReservation(*r)
	return nil
}

func (x *tx) GetReservation(_ context.Context, id uint64, _ bool) (*model.Reservation, error) {
	r, ok := x.t.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := copyReservation(r)
	return &c, nil
}

func (x *tx) ListReservationsBySession(_ context.Context, sessionID uint64) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range x.t.reservations {
		if r.SessionID == sessionID {
			out = append(out, copyReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (x *tx) UpdateReservation(_ context.Context, r *model.Reservation) error {
	cur, ok := x.t.reservations[r.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != r.Version {
		return repository.ErrVersionConflict
	}
	r.Version++
	r.UpdatedAt = x.now()
	x.t.reservations[r.ID] = copyReservation(*r)
	return nil
}

// ---- gift cards ----

func (x *tx) CreateGiftCard(_ context.Context, g *model.GiftCard) error {
	if _, ok := x.t.giftCards[g.Code]; ok {
		return repository.ErrDuplicateKey
	}
	now := x.now()
	g.CreatedAt, g.UpdatedAt = now, now
	x.t.giftCards[g.Code] = copyGiftCard(*g)
	return nil
}

func (x *tx) GetGiftCard(_ context.Context, code string, _ bool) (*model.GiftCard, error) {
	g, ok := x.t.giftCards[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := copyGiftCard(g)
	return &c, nil
}

func (x *tx) UpdateGiftCard(_ context.Context, g *model.GiftCard) error {
	if _, ok := x.t.giftCards[g.Code]; !ok {
		return repository.ErrNotFound
	}
	g.UpdatedAt = x.now()
	x.t.giftCards[g.Code] = copyGiftCard(*g)
	return nil
}

// ---- ledger ----

func (x *tx) AppendLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	if _, ok := x.t.ledgerKeys[e.IdempotencyKey]; ok {
		return repository.ErrDuplicateKey
	}
	x.t.nextLedger++
	e.ID = x.t.nextLedger
	e.CreatedAt = x.now()
	x.t.ledgerKeys[e.IdempotencyKey] = len(x.t.ledger)
	x.t.ledger = append(x.t.ledger, *e)
	return nil
}

func (x *tx) LedgerEntryByKey(_ context.Context, key string) (*model.LedgerEntry, error) {
	i, ok := x.t.ledgerKeys[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	e := x.t.ledger[i]
	return &e, nil
}

func (x *tx) ListLedgerEntries(_ context.Context, ref model.EntityRef) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	for _, e := range x.t.ledger {
		if e.Entity == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

func (x *tx) ListGiftCardEntries(_ context.Context, code string) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	for _, e := range x.t.ledger {
		if e.GiftCardCode != nil && *e.GiftCardCode == code {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- audit ----

func (x *tx) AppendStatusChange(_ context.Context, c *model.StatusChange) error {
	x.t.nextAudit++
	c.ID = x.t.nextAudit
	c.CreatedAt = x.now()
	x.t.audit = append(x.t.audit, *c)
	return nil
}

func (x *tx) ListStatusChanges(_ context.Context, ref model.EntityRef) ([]model.StatusChange, error) {
	var out []model.StatusChange
	for _, c := range x.t.audit {
		if c.Entity == ref {
			out = append(out, c)
		}
	}
	return out, nil
}

func copyOrder(o model.Order) model.Order {
	o.Items = append([]model.OrderItem(nil), o.Items...)
	o.PaymentRef = copyString(o.PaymentRef)
	o.GiftCardCode = copyString(o.GiftCardCode)
	return o
}

func copyReservation(r model.Reservation) model.Reservation {
	r.Holder.UserID = copyString(r.Holder.UserID)
	r.PaymentRef = copyString(r.PaymentRef)
	r.GiftCardCode = copyString(r.GiftCardCode)
	if r.WaitlistPosition != nil {
		p := *r.WaitlistPosition
		r.WaitlistPosition = &p
	}
	return r
}

func copyGiftCard(g model.GiftCard) model.GiftCard {
	if g.ExpiryDate != nil {
		d := *g.ExpiryDate
		g.ExpiryDate = &d
	}
	return g
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
