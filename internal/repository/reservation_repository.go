package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// ReservationRepo persists reservations.  A reservation belongs to exactly
// one workshop session; the holder is either a registered user id or guest
// contact details.  All timestamp fields are stored in UTC.
type ReservationRepo struct{}

// NewReservationRepo returns a ReservationRepo.
func NewReservationRepo() *ReservationRepo { return &ReservationRepo{} }

const reservationColumns = `id, session_id, user_id, guest_name, guest_email, guest_phone, quantity, status,
	waitlist_position, price_per_seat, currency, payment_status, payment_ref, gift_card_code,
	gift_card_amount, pending_status, refund_total, refund_attempt, refund_amount, refund_pending,
	version, created_at, updated_at`

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates the generated ID.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	ts := now()
	const q = `INSERT INTO reservations (session_id, user_id, guest_name, guest_email, guest_phone, quantity,
		status, waitlist_position, price_per_seat, currency, payment_status, payment_ref, gift_card_code,
		gift_card_amount, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		res.SessionID, nullString(res.Holder.UserID), res.Holder.Name, res.Holder.Email, res.Holder.Phone,
		res.Quantity, res.Status, nullPosition(res.WaitlistPosition), res.PricePerSeat, res.Currency,
		res.PaymentStatus, nullString(res.PaymentRef), nullString(res.GiftCardCode), res.GiftCardAmount, ts, ts)
	if err != nil {
		return mapError(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.Version = 1
	res.CreatedAt, res.UpdatedAt = ts, ts
	return nil
}

// GetTx loads a reservation, locking it when forUpdate is set.
func (r *ReservationRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64, forUpdate bool) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?` + lockClause(forUpdate)
	res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

// ListBySessionTx returns every reservation of a session ordered by id.
func (r *ReservationRepo) ListBySessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE session_id = ? ORDER BY id`
	rows, err := tx.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// UpdateTx writes status, waitlist position, payment and refund fields
// under the version guard.
func (r *ReservationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	ts := now()
	const q = `UPDATE reservations SET status = ?, waitlist_position = ?, payment_status = ?, payment_ref = ?,
		pending_status = ?, refund_total = ?, refund_attempt = ?, refund_amount = ?, refund_pending = ?,
		version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, q, res.Status, nullPosition(res.WaitlistPosition), res.PaymentStatus,
		nullString(res.PaymentRef), res.PendingStatus, res.Refunds.Refunded, res.Refunds.Attempt,
		res.Refunds.Amount, res.Refunds.Pending, ts, res.ID, res.Version)
	if err != nil {
		return mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	res.Version++
	res.UpdatedAt = ts
	return nil
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		res        model.Reservation
		userID     sql.NullString
		position   sql.NullInt64
		paymentRef sql.NullString
		giftCode   sql.NullString
	)
	if err := row.Scan(&res.ID, &res.SessionID, &userID, &res.Holder.Name, &res.Holder.Email, &res.Holder.Phone,
		&res.Quantity, &res.Status, &position, &res.PricePerSeat, &res.Currency, &res.PaymentStatus,
		&paymentRef, &giftCode, &res.GiftCardAmount, &res.PendingStatus, &res.Refunds.Refunded,
		&res.Refunds.Attempt, &res.Refunds.Amount, &res.Refunds.Pending,
		&res.Version, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	res.Holder.UserID = stringPtr(userID)
	res.PaymentRef = stringPtr(paymentRef)
	res.GiftCardCode = stringPtr(giftCode)
	if position.Valid {
		p := uint32(position.Int64)
		res.WaitlistPosition = &p
	}
	return &res, nil
}

func nullPosition(p *uint32) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
