package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// SessionRepo persists workshop sessions.
type SessionRepo struct{}

// NewSessionRepo returns a SessionRepo.
func NewSessionRepo() *SessionRepo { return &SessionRepo{} }

// CreateTx inserts a session.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.WorkshopSession) error {
	ts := now()
	const q = `INSERT INTO workshop_sessions (workshop_id, starts_at, capacity, price_per_seat, currency,
		version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 1, ?, ?)`
	res, err := tx.ExecContext(ctx, q, s.WorkshopID, s.StartsAt.UTC(), s.Capacity, s.PricePerSeat, s.Currency, ts, ts)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.Version = 1
	s.CreatedAt, s.UpdatedAt = ts, ts
	return nil
}

// GetTx loads a session.  With forUpdate the row lock serializes every
// booking, capacity change and cancellation of the session.
func (r *SessionRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64, forUpdate bool) (*model.WorkshopSession, error) {
	q := `SELECT id, workshop_id, starts_at, capacity, price_per_seat, currency, version, created_at, updated_at
		FROM workshop_sessions WHERE id = ?` + lockClause(forUpdate)
	var s model.WorkshopSession
	err := tx.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.WorkshopID, &s.StartsAt, &s.Capacity,
		&s.PricePerSeat, &s.Currency, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	s.StartsAt = s.StartsAt.UTC()
	return &s, nil
}

// UpdateTx writes the capacity under the version guard.
func (r *SessionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.WorkshopSession) error {
	ts := now()
	const q = `UPDATE workshop_sessions SET capacity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q, s.Capacity, ts, s.ID, s.Version)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = ts
	return nil
}
