package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// AuditRepo stores the status change trail used for dispute resolution.
type AuditRepo struct{}

// NewAuditRepo returns an AuditRepo.
func NewAuditRepo() *AuditRepo { return &AuditRepo{} }

// AppendTx inserts a status change record.
func (r *AuditRepo) AppendTx(ctx context.Context, tx *sql.Tx, c *model.StatusChange) error {
	ts := now()
	const q = `INSERT INTO status_changes (entity_kind, entity_id, old_status, new_status, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, c.Entity.Kind, c.Entity.ID, c.OldStatus, c.NewStatus, c.Actor, ts)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	c.CreatedAt = ts
	return nil
}

// ListTx returns the trail of an entity, oldest first.
func (r *AuditRepo) ListTx(ctx context.Context, tx *sql.Tx, ref model.EntityRef) ([]model.StatusChange, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, entity_kind, entity_id, old_status, new_status, actor, created_at
		FROM status_changes WHERE entity_kind = ? AND entity_id = ? ORDER BY id`, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.StatusChange, 0)
	for rows.Next() {
		var c model.StatusChange
		if err := rows.Scan(&c.ID, &c.Entity.Kind, &c.Entity.ID, &c.OldStatus, &c.NewStatus, &c.Actor, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
