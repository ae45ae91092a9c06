package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// LedgerRepo appends and reads ledger entries.  Rows are never updated or
// deleted; the unique idempotency_key column is what makes refund steps
// replay-safe across requests.
type LedgerRepo struct{}

// NewLedgerRepo returns a LedgerRepo.
func NewLedgerRepo() *LedgerRepo { return &LedgerRepo{} }

const ledgerColumns = `id, entity_kind, entity_id, gift_card_code, instrument, direction, amount,
	idempotency_key, external_ref, created_at`

// AppendTx inserts e.  An already committed idempotency key yields
// ErrDuplicateKey.
func (r *LedgerRepo) AppendTx(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error {
	ts := now()
	var kind sql.NullString
	var entityID sql.NullInt64
	if e.Entity.Kind != "" {
		kind = sql.NullString{String: string(e.Entity.Kind), Valid: true}
		entityID = sql.NullInt64{Int64: int64(e.Entity.ID), Valid: true}
	}
	const q = `INSERT INTO ledger_entries (entity_kind, entity_id, gift_card_code, instrument, direction, amount,
		idempotency_key, external_ref, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, kind, entityID, nullString(e.GiftCardCode), e.Instrument, e.Direction,
		e.Amount, e.IdempotencyKey, nullString(e.ExternalRef), ts)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	e.CreatedAt = ts
	return nil
}

// ByKeyTx returns the entry committed under key.
func (r *LedgerRepo) ByKeyTx(ctx context.Context, tx *sql.Tx, key string) (*model.LedgerEntry, error) {
	e, err := scanLedgerEntry(tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE idempotency_key = ?`, key))
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

// ListByEntityTx returns the entries of an order or reservation, oldest first.
func (r *LedgerRepo) ListByEntityTx(ctx context.Context, tx *sql.Tx, ref model.EntityRef) ([]model.LedgerEntry, error) {
	return r.list(ctx, tx, `WHERE entity_kind = ? AND entity_id = ?`, string(ref.Kind), ref.ID)
}

// ListByGiftCardTx returns the entries that moved money on a gift card.
func (r *LedgerRepo) ListByGiftCardTx(ctx context.Context, tx *sql.Tx, code string) ([]model.LedgerEntry, error) {
	return r.list(ctx, tx, `WHERE gift_card_code = ?`, code)
}

func (r *LedgerRepo) list(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanLedgerEntry(row rowScanner) (*model.LedgerEntry, error) {
	var (
		e           model.LedgerEntry
		kind        sql.NullString
		entityID    sql.NullInt64
		giftCode    sql.NullString
		externalRef sql.NullString
	)
	if err := row.Scan(&e.ID, &kind, &entityID, &giftCode, &e.Instrument, &e.Direction, &e.Amount,
		&e.IdempotencyKey, &externalRef, &e.CreatedAt); err != nil {
		return nil, err
	}
	if kind.Valid {
		e.Entity = model.EntityRef{Kind: model.EntityKind(kind.String), ID: uint64(entityID.Int64)}
	}
	e.GiftCardCode = stringPtr(giftCode)
	e.ExternalRef = stringPtr(externalRef)
	return &e, nil
}
