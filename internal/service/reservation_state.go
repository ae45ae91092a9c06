package service

// This file implements the reservation lifecycle.  It follows the order
// state machine, claiming a permanent status before refunding, and adds the
// waitlist rebalance when seats are released.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// ReservationStateMachine drives workshop reservations through their
// lifecycle and hands freed seats to the waitlist.
type ReservationStateMachine struct {
	store     Store
	refunds   *RefundOrchestrator
	scheduler *Scheduler
	keywords  Keywords
	logger    *zap.Logger
	timeout   time.Duration
}

// NewReservationStateMachine wires the reservation lifecycle.
func NewReservationStateMachine(store Store, refunds *RefundOrchestrator, scheduler *Scheduler, keywords Keywords, logger *zap.Logger) *ReservationStateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationStateMachine{
		store:     store,
		refunds:   refunds,
		scheduler: scheduler,
		keywords:  keywords,
		logger:    logger,
		timeout:   time.Minute,
	}
}

// Transition moves the reservation to target.  Cancelling or refunding
// refunds what was captured first; releasing seats promotes waitlisted
// reservations in the same unit of work.
func (m *ReservationStateMachine) Transition(ctx context.Context, id uint64, target, confirmation, actor string) (*model.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	to, ok := model.ParseReservationStatus(strings.ToLower(strings.TrimSpace(target)))
	if !ok {
		return nil, &TransitionError{To: target, Reason: "unknown status"}
	}

	res, err := m.scheduler.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkReservationTransition(res, to); err != nil {
		return nil, err
	}
	if err := m.keywords.check(string(to), confirmation); err != nil {
		return nil, err
	}

	if to.Permanent() {
		if err := m.claim(ctx, id, to); err != nil {
			return nil, err
		}
		if _, err := m.refunds.RefundRemaining(ctx, model.ReservationRef(id)); err != nil {
			m.releaseClaim(ctx, id, to)
			return nil, err
		}
	}

	var (
		out      *model.Reservation
		sess     *model.WorkshopSession
		promoted []model.Reservation
	)
	err = withVersionRetry(func() error {
		promoted = nil
		return m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			// Session first, then reservation: the same order booking uses.
			var err error
			sess, err = tx.GetSession(ctx, res.SessionID, true)
			if err != nil {
				return wrapNotFound(err, "session")
			}
			cur, err := tx.GetReservation(ctx, id, true)
			if err != nil {
				return wrapNotFound(err, "reservation")
			}
			if err := checkReservationTransition(cur, to); err != nil {
				return err
			}
			if to.Permanent() && cur.PendingStatus != to {
				return fmt.Errorf("%w: reservation %d is no longer claimed for %s", ErrConflict, id, to)
			}

			from := cur.Status
			cur.Status = to
			cur.PendingStatus = ""
			cur.WaitlistPosition = nil
			if to == model.ReservationConfirmed && cur.PaymentStatus == model.PaymentUnpaid && cur.PaymentRef != nil {
				cur.PaymentStatus = model.PaymentPaid
			}
			if err := tx.UpdateReservation(ctx, cur); err != nil {
				return err
			}
			if err := tx.AppendStatusChange(ctx, &model.StatusChange{
				Entity:    model.ReservationRef(id),
				OldStatus: string(from),
				NewStatus: string(to),
				Actor:     actor,
			}); err != nil {
				return err
			}
			out = cur

			if !to.Permanent() {
				return nil
			}
			rs, err := tx.ListReservationsBySession(ctx, cur.SessionID)
			if err != nil {
				return err
			}
			promoted, err = applyRebalance(ctx, tx, sess.Capacity, rs)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("reservation transitioned",
		zap.Uint64("reservation_id", id),
		zap.String("status", string(out.Status)),
		zap.String("actor", actor),
		zap.Int("promoted", len(promoted)))
	m.scheduler.publishPromotions(ctx, sess, promoted)
	return out, nil
}

// claim records to as the pending status of the reservation.
func (m *ReservationStateMachine) claim(ctx context.Context, id uint64, to model.ReservationStatus) error {
	return withVersionRetry(func() error {
		return m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetReservation(ctx, id, true)
			if err != nil {
				return wrapNotFound(err, "reservation")
			}
			if err := checkReservationTransition(cur, to); err != nil {
				return err
			}
			if cur.PendingStatus == to {
				return nil
			}
			cur.PendingStatus = to
			return tx.UpdateReservation(ctx, cur)
		})
	})
}

func (m *ReservationStateMachine) releaseClaim(ctx context.Context, id uint64, to model.ReservationStatus) {
	err := withVersionRetry(func() error {
		return m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetReservation(ctx, id, true)
			if err != nil {
				return wrapNotFound(err, "reservation")
			}
			if cur.PendingStatus != to || cur.Refunds.Pending {
				return nil
			}
			cur.PendingStatus = ""
			return tx.UpdateReservation(ctx, cur)
		})
	})
	if err != nil {
		m.logger.Warn("release reservation claim", zap.Uint64("reservation_id", id), zap.Error(err))
	}
}

func checkReservationTransition(res *model.Reservation, to model.ReservationStatus) error {
	from := res.Status
	switch {
	case from == to:
		return &TransitionError{From: string(from), To: string(to), Reason: "already in this status"}
	case from.Permanent():
		return &TransitionError{From: string(from), To: string(to), Reason: "status is permanent"}
	case from == model.ReservationWaitlist && to == model.ReservationConfirmed:
		return &TransitionError{From: string(from), To: string(to), Reason: "waitlisted reservations are confirmed by promotion only"}
	case !from.CanTransitionTo(to):
		return &TransitionError{From: string(from), To: string(to)}
	case res.PendingStatus != "" && !to.Permanent():
		return fmt.Errorf("%w: reservation %d is being moved to %s", ErrConflict, res.ID, res.PendingStatus)
	}
	return nil
}

// History returns the audit trail of the reservation, oldest first.
func (m *ReservationStateMachine) History(ctx context.Context, id uint64) ([]model.StatusChange, error) {
	var out []model.StatusChange
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetReservation(ctx, id, false); err != nil {
			return wrapNotFound(err, "reservation")
		}
		changes, err := tx.ListStatusChanges(ctx, model.ReservationRef(id))
		out = changes
		return err
	})
	return out, err
}

// RefundReservation refunds amount without changing the reservation status.
// A nil amount refunds everything not refunded yet.
func (m *ReservationStateMachine) RefundReservation(ctx context.Context, id uint64, amount *decimal.Decimal) (*RefundResult, error) {
	ref := model.ReservationRef(id)
	if amount != nil {
		return m.refunds.Refund(ctx, ref, *amount)
	}
	res, err := m.refunds.RefundRemaining(ctx, ref)
	if err == nil && res == nil {
		return nil, fmt.Errorf("%w: nothing left to refund for reservation %d", ErrOverRefund, id)
	}
	return res, err
}
