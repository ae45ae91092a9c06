package service

// This file implements the order lifecycle.  Ordinary transitions are one
// locked read-modify-write.  A permanent transition runs in three steps: the
// target is claimed on the order, which makes every other transition fail
// with ErrConflict; the refund orchestrator gives back what is still
// captured; then the status change and its audit record are committed.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// OrderStateMachine drives purchase orders through their lifecycle.
type OrderStateMachine struct {
	store    Store
	refunds  *RefundOrchestrator
	keywords Keywords
	logger   *zap.Logger
	timeout  time.Duration
}

// NewOrderStateMachine wires the order lifecycle.
func NewOrderStateMachine(store Store, refunds *RefundOrchestrator, keywords Keywords, logger *zap.Logger) *OrderStateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderStateMachine{store: store, refunds: refunds, keywords: keywords, logger: logger, timeout: time.Minute}
}

// Transition moves the order to target.  Cancelling or refunding requires
// the matching confirmation keyword.  The permanent status is claimed on the
// order first, which holds off every other transition, and then everything
// still captured is refunded; when that refund fails the order keeps its
// status.
func (m *OrderStateMachine) Transition(ctx context.Context, id uint64, target, confirmation, actor string) (*model.Order, error) {
	// A started transition finishes even if the caller goes away, so that a
	// refund is never left without its status change.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	to, ok := model.ParseOrderStatus(strings.ToLower(strings.TrimSpace(target)))
	if !ok {
		return nil, &TransitionError{To: target, Reason: "unknown status"}
	}

	ord, err := m.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOrderTransition(ord, to); err != nil {
		return nil, err
	}
	if err := m.keywords.check(string(to), confirmation); err != nil {
		return nil, err
	}

	if to.Permanent() {
		if err := m.claim(ctx, id, to); err != nil {
			return nil, err
		}
		if _, err := m.refunds.RefundRemaining(ctx, model.OrderRef(id)); err != nil {
			m.releaseClaim(ctx, id, to)
			return nil, err
		}
	}

	var out *model.Order
	err = withVersionRetry(func() error {
		return m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetOrder(ctx, id, true)
			if err != nil {
				return wrapNotFound(err, "order")
			}
			if err := checkOrderTransition(cur, to); err != nil {
				return err
			}
			if to.Permanent() && cur.PendingStatus != to {
				return fmt.Errorf("%w: order %d is no longer claimed for %s", ErrConflict, id, to)
			}
			from := cur.Status
			cur.Status = to
			cur.PendingStatus = ""
			if err := tx.UpdateOrder(ctx, cur); err != nil {
				return err
			}
			if err := tx.AppendStatusChange(ctx, &model.StatusChange{
				Entity:    model.OrderRef(id),
				OldStatus: string(from),
				NewStatus: string(to),
				Actor:     actor,
			}); err != nil {
				return err
			}
			out = cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("order transitioned",
		zap.Uint64("order_id", id),
		zap.String("status", string(out.Status)),
		zap.String("actor", actor))
	return out, nil
}

// claim records to as the pending status of the order.  A second permanent
// transition takes the claim over; it resumes the same refund.
func (m *OrderStateMachine) claim(ctx context.Context, id uint64, to model.OrderStatus) error {
	return withVersionRetry(func() error {
		return m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetOrder(ctx, id, true)
			if err != nil {
				return wrapNotFound(err, "order")
			}
			if err := checkOrderTransition(cur, to); err != nil {
				return err
			}
			if cur.PendingStatus == to {
				return nil
			}
			cur.PendingStatus = to
			return tx.UpdateOrder(ctx, cur)
		})
	})
}

// releaseClaim drops the claim after a failed refund, unless the refund
// moved money and is waiting to be resumed.
func (m *OrderStateMachine) releaseClaim(ctx context.Context, id uint64, to model.OrderStatus) {
	err := withVersionRetry(func() error {
		return m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetOrder(ctx, id, true)
			if err != nil {
				return wrapNotFound(err, "order")
			}
			if cur.PendingStatus != to || cur.Refunds.Pending {
				return nil
			}
			cur.PendingStatus = ""
			return tx.UpdateOrder(ctx, cur)
		})
	})
	if err != nil {
		m.logger.Warn("release order claim", zap.Uint64("order_id", id), zap.Error(err))
	}
}

func checkOrderTransition(ord *model.Order, to model.OrderStatus) error {
	from := ord.Status
	switch {
	case from == to:
		return &TransitionError{From: string(from), To: string(to), Reason: "already in this status"}
	case from.Permanent():
		return &TransitionError{From: string(from), To: string(to), Reason: "status is permanent"}
	case !from.CanTransitionTo(to):
		return &TransitionError{From: string(from), To: string(to)}
	case ord.PendingStatus != "" && !to.Permanent():
		return fmt.Errorf("%w: order %d is being moved to %s", ErrConflict, ord.ID, ord.PendingStatus)
	}
	return nil
}

// GetOrder returns the order with the given id.
func (m *OrderStateMachine) GetOrder(ctx context.Context, id uint64) (*model.Order, error) {
	var ord *model.Order
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, id, false)
		if err != nil {
			return wrapNotFound(err, "order")
		}
		ord = o
		return nil
	})
	return ord, err
}

// History returns the audit trail of the order, oldest first.
func (m *OrderStateMachine) History(ctx context.Context, id uint64) ([]model.StatusChange, error) {
	var out []model.StatusChange
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetOrder(ctx, id, false); err != nil {
			return wrapNotFound(err, "order")
		}
		changes, err := tx.ListStatusChanges(ctx, model.OrderRef(id))
		out = changes
		return err
	})
	return out, err
}

// RefundOrder refunds amount without changing the order status.  A nil
// amount refunds everything not refunded yet.
func (m *OrderStateMachine) RefundOrder(ctx context.Context, id uint64, amount *decimal.Decimal) (*RefundResult, error) {
	ref := model.OrderRef(id)
	if amount != nil {
		return m.refunds.Refund(ctx, ref, *amount)
	}
	res, err := m.refunds.RefundRemaining(ctx, ref)
	if err == nil && res == nil {
		return nil, fmt.Errorf("%w: nothing left to refund for order %d", ErrOverRefund, id)
	}
	return res, err
}

// RecordPayment marks the card part of an unpaid order as captured under
// paymentRef.
func (m *OrderStateMachine) RecordPayment(ctx context.Context, id uint64, paymentRef string) (*model.Order, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, fmt.Errorf("%w: payment_ref is required", ErrInvalidInput)
	}
	var out *model.Order
	err := withVersionRetry(func() error {
		return m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			ord, err := tx.GetOrder(ctx, id, true)
			if err != nil {
				return wrapNotFound(err, "order")
			}
			if ord.Status.Permanent() {
				return &TransitionError{From: string(ord.Status), To: string(ord.Status), Reason: "status is permanent"}
			}
			if ord.PaymentStatus != model.PaymentUnpaid {
				if ord.PaymentRef != nil && *ord.PaymentRef == paymentRef {
					out = ord
					return nil
				}
				return fmt.Errorf("%w: order %d is already %s", ErrInvalidInput, id, ord.PaymentStatus)
			}
			ord.PaymentStatus = model.PaymentPaid
			ord.PaymentRef = &paymentRef
			if err := tx.UpdateOrder(ctx, ord); err != nil {
				return err
			}
			out = ord
			return nil
		})
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("record order payment", zap.Uint64("order_id", id), zap.Error(err))
	}
	return out, err
}
