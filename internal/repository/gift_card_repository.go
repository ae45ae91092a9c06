package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// GiftCardRepo persists gift cards.  Balance updates are only safe while the
// caller holds the row lock taken by GetTx with forUpdate.
type GiftCardRepo struct{}

// NewGiftCardRepo returns a GiftCardRepo.
func NewGiftCardRepo() *GiftCardRepo { return &GiftCardRepo{} }

// CreateTx inserts a card.  A code collision yields ErrDuplicateKey.
func (r *GiftCardRepo) CreateTx(ctx context.Context, tx *sql.Tx, g *model.GiftCard) error {
	ts := now()
	const q = `INSERT INTO gift_cards (code, category, amount, balance, currency, status, expiry_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, g.Code, g.Category, g.Amount, g.Balance, g.Currency, g.Status,
		nullTime(g.ExpiryDate), ts, ts)
	if err != nil {
		return mapError(err)
	}
	g.CreatedAt, g.UpdatedAt = ts, ts
	return nil
}

// GetTx loads a card by code.
func (r *GiftCardRepo) GetTx(ctx context.Context, tx *sql.Tx, code string, forUpdate bool) (*model.GiftCard, error) {
	q := `SELECT code, category, amount, balance, currency, status, expiry_date, created_at, updated_at
		FROM gift_cards WHERE code = ?` + lockClause(forUpdate)
	var (
		g      model.GiftCard
		expiry sql.NullTime
	)
	err := tx.QueryRowContext(ctx, q, code).Scan(&g.Code, &g.Category, &g.Amount, &g.Balance, &g.Currency,
		&g.Status, &expiry, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	g.ExpiryDate = timePtr(expiry)
	return &g, nil
}

// UpdateTx writes balance and status.
func (r *GiftCardRepo) UpdateTx(ctx context.Context, tx *sql.Tx, g *model.GiftCard) error {
	ts := now()
	res, err := tx.ExecContext(ctx, `UPDATE gift_cards SET balance = ?, status = ?, updated_at = ? WHERE code = ?`,
		g.Balance, g.Status, ts, g.Code)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	g.UpdatedAt = ts
	return nil
}
