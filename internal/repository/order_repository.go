package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// OrderRepo persists orders and their line items.  Every method runs inside
// a caller-owned transaction.
type OrderRepo struct{}

// NewOrderRepo returns an OrderRepo.
func NewOrderRepo() *OrderRepo { return &OrderRepo{} }

const orderColumns = `id, currency, total, status, payment_status, payment_ref,
	gift_card_code, gift_card_amount, pending_status, refund_total, refund_attempt, refund_amount,
	refund_pending, version, created_at, updated_at`

// CreateTx inserts the order and its items and fills in ID, Version and
// timestamps.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	ts := now()
	const q = `INSERT INTO orders (currency, total, status, payment_status, payment_ref,
		gift_card_code, gift_card_amount, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`
	res, err := tx.ExecContext(ctx, q, o.Currency, o.Total, o.Status, o.PaymentStatus,
		nullString(o.PaymentRef), nullString(o.GiftCardCode), o.GiftCardAmount, ts, ts)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	o.Version = 1
	o.CreatedAt, o.UpdatedAt = ts, ts

	if len(o.Items) == 0 {
		return nil
	}
	query := `INSERT INTO order_items (order_id, product_id, unit_price, quantity) VALUES `
	args := make([]any, 0, len(o.Items)*4)
	for i, it := range o.Items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, o.ID, it.ProductID, it.UnitPrice, it.Quantity)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return mapError(err)
}

// GetTx loads an order with its items, locking the order row when
// forUpdate is set.
func (r *OrderRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64, forUpdate bool) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?` + lockClause(forUpdate)
	o, err := scanOrder(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapError(err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, unit_price, quantity FROM order_items WHERE order_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	o.Items = []model.OrderItem{}
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ProductID, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// UpdateTx writes status, payment and refund fields when the stored version
// still matches o.Version.
func (r *OrderRepo) UpdateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	ts := now()
	const q = `UPDATE orders SET status = ?, payment_status = ?, payment_ref = ?, pending_status = ?,
		refund_total = ?, refund_attempt = ?, refund_amount = ?, refund_pending = ?,
		version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q, o.Status, o.PaymentStatus, nullString(o.PaymentRef), o.PendingStatus,
		o.Refunds.Refunded, o.Refunds.Attempt, o.Refunds.Amount, o.Refunds.Pending, ts, o.ID, o.Version)
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
	o.Version++
	o.UpdatedAt = ts
	return nil
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o          model.Order
		paymentRef sql.NullString
		giftCode   sql.NullString
	)
	if err := row.Scan(&o.ID, &o.Currency, &o.Total, &o.Status, &o.PaymentStatus, &paymentRef,
		&giftCode, &o.GiftCardAmount, &o.PendingStatus, &o.Refunds.Refunded, &o.Refunds.Attempt,
		&o.Refunds.Amount, &o.Refunds.Pending, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.PaymentRef = stringPtr(paymentRef)
	o.GiftCardCode = stringPtr(giftCode)
	return &o, nil
}
