package service

// This file implements refunds across the two payment instruments.  Each
// refund is an attempt recorded on the order or reservation: it is claimed
// under the row lock, split gift card first, executed one ledger-keyed step
// per instrument and then completed, which adds it to the refunded total and
// derives the payment status.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/payment"
	"github.com/iliyamo/studio-reservations/internal/queue"
	"github.com/iliyamo/studio-reservations/internal/repository"
)

// RefundOrchestrator gives money back across the two instruments an order
// or reservation may have been paid with: the gift card is credited first,
// the card processor refunds the rest.
type RefundOrchestrator struct {
	store   Store
	gifts   *GiftCardLedger
	gateway payment.Gateway
	events  EventPublisher
	logger  *zap.Logger
	timeout time.Duration
}

// RefundOptions configures a RefundOrchestrator.
type RefundOptions struct {
	// Timeout bounds a whole orchestration, independent of the caller.
	Timeout time.Duration
	Events  EventPublisher
	Logger  *zap.Logger
}

// NewRefundOrchestrator wires the orchestrator.
func NewRefundOrchestrator(store Store, gifts *GiftCardLedger, gateway payment.Gateway, opts RefundOptions) *RefundOrchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &RefundOrchestrator{
		store:   store,
		gifts:   gifts,
		gateway: gateway,
		events:  opts.Events,
		logger:  opts.Logger,
		timeout: opts.Timeout,
	}
}

// RefundResult lists the ledger entries backing a refund.  An entry is nil
// when its instrument had nothing to give back.
type RefundResult struct {
	Entity    model.EntityRef    `json:"entity"`
	Requested decimal.Decimal    `json:"requested"`
	GiftCard  *model.LedgerEntry `json:"gift_card,omitempty"`
	Card      *model.LedgerEntry `json:"card,omitempty"`
}

// Refunded sums what the entries actually moved.
func (r *RefundResult) Refunded() decimal.Decimal {
	total := decimal.Zero
	if r.GiftCard != nil {
		total = total.Add(r.GiftCard.Amount)
	}
	if r.Card != nil {
		total = total.Add(r.Card.Amount)
	}
	return total
}

type refundPlan struct {
	capture   model.Capture
	currency  string
	attempt   uint32
	amount    decimal.Decimal
	giftShare decimal.Decimal
	cardShare decimal.Decimal
	// resumed is set when the plan continues an attempt that did not
	// complete, replay when it repeats one that did.
	resumed bool
	replay  bool
}

// Refund gives amountOwed back for ref.  Every call claims a numbered
// attempt on the entity before money moves, and each instrument step is
// keyed by model.RefundKey for that attempt:
//
//   - an attempt left pending by a timeout or a failed card step is resumed
//     by calling again with the same amount; its committed steps replay
//   - asking for more than is still refundable fails with ErrOverRefund,
//     unless the amount repeats the latest completed attempt, which is
//     replayed
//
// The attempt runs to completion even if ctx is cancelled; it is bounded by
// the orchestrator's own timeout instead.
func (o *RefundOrchestrator) Refund(ctx context.Context, ref model.EntityRef, amountOwed decimal.Decimal) (*RefundResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	if !amountOwed.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidInput)
	}
	plan, err := o.claim(ctx, ref, &amountOwed)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, ref, plan)
}

// RefundRemaining gives back everything captured for ref that was not
// refunded yet, finishing a pending attempt first.  It returns a nil result
// when nothing is left.
func (o *RefundOrchestrator) RefundRemaining(ctx context.Context, ref model.EntityRef) (*RefundResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	var res *RefundResult
	// At most one pending attempt precedes the attempt for the rest.
	for i := 0; i < 2; i++ {
		plan, err := o.claim(ctx, ref, nil)
		if err != nil || plan == nil {
			return res, err
		}
		res, err = o.run(ctx, ref, plan)
		if err != nil || !plan.resumed {
			return res, err
		}
	}
	return res, nil
}

// claim plans the next attempt under the entity lock.  A nil amount asks for
// whatever is still refundable; the plan is nil when that is nothing.
func (o *RefundOrchestrator) claim(ctx context.Context, ref model.EntityRef, amount *decimal.Decimal) (*refundPlan, error) {
	var plan *refundPlan
	err := withVersionRetry(func() error {
		plan = nil
		return o.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			t, err := lockRefundTarget(ctx, tx, ref)
			if err != nil {
				return err
			}
			p := t.progress
			captured := t.capture.Total()
			prior := p.Refunded
			next := &refundPlan{capture: t.capture, currency: t.currency}

			switch {
			case p.Pending:
				if amount != nil && !amount.Equal(p.Amount) {
					return fmt.Errorf("%w: refund of %s is still pending for %s %d",
						ErrConflict, p.Amount.StringFixed(2), ref.Kind, ref.ID)
				}
				next.attempt, next.amount, next.resumed = p.Attempt, p.Amount, true

			case amount == nil:
				remaining := p.Remaining(captured)
				if !remaining.IsPositive() {
					return nil
				}
				next.amount = remaining

			case amount.GreaterThan(p.Remaining(captured)):
				if p.Attempt == 0 || !amount.Equal(p.Amount) {
					return fmt.Errorf("%w: requested %s, still refundable %s of %s captured", ErrOverRefund,
						amount.StringFixed(2), p.Remaining(captured).StringFixed(2), captured.StringFixed(2))
				}
				next.attempt, next.amount, next.replay = p.Attempt, p.Amount, true
				prior = p.Refunded.Sub(p.Amount)

			default:
				next.amount = *amount
			}

			if !next.resumed && !next.replay {
				p.Attempt++
				p.Amount = next.amount
				p.Pending = true
				if err := t.save(ctx); err != nil {
					return err
				}
				next.attempt = p.Attempt
			}
			next.giftShare, next.cardShare = t.capture.Split(prior, next.amount)
			plan = next
			return nil
		})
	})
	return plan, err
}

func (o *RefundOrchestrator) run(ctx context.Context, ref model.EntityRef, plan *refundPlan) (*RefundResult, error) {
	res := &RefundResult{Entity: ref, Requested: plan.amount}

	var err error
	if plan.giftShare.IsPositive() {
		res.GiftCard, err = o.gifts.Credit(ctx, plan.capture.GiftCardCode, plan.giftShare,
			model.RefundKey(ref, model.InstrumentGiftCard, plan.attempt), ref)
		if err != nil {
			o.release(ctx, ref, plan.attempt)
			return nil, fmt.Errorf("gift card credit: %w", err)
		}
	}

	if plan.cardShare.IsPositive() {
		res.Card, err = o.refundCard(ctx, ref, plan)
		if err != nil {
			if errors.Is(err, ErrGatewayTimeout) {
				// The processor may still have moved the money; the attempt
				// stays pending so a retry reuses its key.
				return res, err
			}
			credited := decimal.Zero
			if res.GiftCard != nil {
				credited = res.GiftCard.Amount
			}
			o.release(ctx, ref, plan.attempt)
			perr := &PartialRefundError{GiftCardCredited: credited, Outstanding: plan.cardShare, Cause: err}
			o.logger.Error("card refund failed",
				zap.String("entity_kind", string(ref.Kind)),
				zap.Uint64("entity_id", ref.ID),
				zap.Uint32("attempt", plan.attempt),
				zap.String("outstanding", plan.cardShare.StringFixed(2)),
				zap.Error(err))
			o.publishPartialFailure(ctx, ref, perr)
			return res, perr
		}
	}

	if !plan.replay {
		if err := o.complete(ctx, ref, plan.attempt); err != nil {
			return res, err
		}
	}

	o.logger.Info("refund completed",
		zap.String("entity_kind", string(ref.Kind)),
		zap.Uint64("entity_id", ref.ID),
		zap.Uint32("attempt", plan.attempt),
		zap.Bool("replay", plan.replay),
		zap.String("requested", plan.amount.StringFixed(2)),
		zap.String("refunded", res.Refunded().StringFixed(2)))
	return res, nil
}

func (o *RefundOrchestrator) refundCard(ctx context.Context, ref model.EntityRef, plan *refundPlan) (*model.LedgerEntry, error) {
	key := model.RefundKey(ref, model.InstrumentCard, plan.attempt)
	if prev, err := o.gifts.entryByKey(ctx, key); err == nil {
		return prev, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if plan.capture.PaymentRef == "" {
		return nil, fmt.Errorf("%w: no card payment reference", payment.ErrDeclined)
	}

	receipt, err := o.gateway.Refund(ctx, payment.RefundRequest{
		PaymentRef:     plan.capture.PaymentRef,
		Amount:         plan.cardShare,
		Currency:       plan.currency,
		Reason:         "requested_by_customer",
		IdempotencyKey: key,
		Metadata: map[string]string{
			"entity_kind": string(ref.Kind),
			"entity_id":   fmt.Sprint(ref.ID),
		},
	})
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return nil, err
	}

	entry := &model.LedgerEntry{
		Entity:         ref,
		Instrument:     model.InstrumentCard,
		Direction:      model.Credit,
		Amount:         plan.cardShare,
		IdempotencyKey: key,
		ExternalRef:    &receipt.ID,
	}
	err = o.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.AppendLedgerEntry(ctx, entry)
	})
	if errors.Is(err, repository.ErrDuplicateKey) {
		return o.gifts.entryByKey(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("record card refund %s: %w", receipt.ID, err)
	}
	return entry, nil
}

// complete adds the attempt to the refunded total and derives the payment
// status from it.  A concurrent caller may already have completed it.
func (o *RefundOrchestrator) complete(ctx context.Context, ref model.EntityRef, attempt uint32) error {
	return withVersionRetry(func() error {
		return o.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			t, err := lockRefundTarget(ctx, tx, ref)
			if err != nil {
				return err
			}
			p := t.progress
			if !p.Pending || p.Attempt != attempt {
				return nil
			}
			p.Refunded = p.Refunded.Add(p.Amount)
			p.Pending = false
			*t.paymentStatus = p.PaymentStatus(t.capture.Total(), *t.paymentStatus)
			return t.save(ctx)
		})
	})
}

// release abandons an attempt that committed no ledger entry so that a
// different amount may be requested.  Its number is not reused.  An attempt
// that already moved money stays pending until it is resumed.
func (o *RefundOrchestrator) release(ctx context.Context, ref model.EntityRef, attempt uint32) {
	err := withVersionRetry(func() error {
		return o.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			t, err := lockRefundTarget(ctx, tx, ref)
			if err != nil {
				return err
			}
			p := t.progress
			if !p.Pending || p.Attempt != attempt {
				return nil
			}
			for _, in := range []model.Instrument{model.InstrumentGiftCard, model.InstrumentCard} {
				_, err := tx.LedgerEntryByKey(ctx, model.RefundKey(ref, in, attempt))
				if err == nil {
					return nil
				}
				if !errors.Is(err, repository.ErrNotFound) {
					return err
				}
			}
			p.Pending = false
			p.Amount = decimal.Zero
			return t.save(ctx)
		})
	})
	if err != nil {
		o.logger.Warn("release refund attempt",
			zap.String("entity_kind", string(ref.Kind)),
			zap.Uint64("entity_id", ref.ID),
			zap.Uint32("attempt", attempt),
			zap.Error(err))
	}
}

func (o *RefundOrchestrator) publishPartialFailure(ctx context.Context, ref model.EntityRef, perr *PartialRefundError) {
	if o.events == nil {
		return
	}
	ev := queue.RefundEvent{
		ID:               uuid.NewString(),
		Type:             queue.RefundPartialFailure,
		EntityKind:       string(ref.Kind),
		EntityID:         ref.ID,
		GiftCardCredited: perr.GiftCardCredited.StringFixed(2),
		CardOutstanding:  perr.Outstanding.StringFixed(2),
		Reason:           perr.Cause.Error(),
		OccurredAt:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := o.events.PublishRefundEvent(ctx, ev); err != nil {
		o.logger.Warn("publish refund event", zap.Error(err))
	}
}

// refundTarget is the locked order or reservation a refund works on.
type refundTarget struct {
	capture       model.Capture
	currency      string
	paymentStatus *model.PaymentStatus
	progress      *model.RefundProgress
	save          func(ctx context.Context) error
}

func lockRefundTarget(ctx context.Context, tx Tx, ref model.EntityRef) (*refundTarget, error) {
	switch ref.Kind {
	case model.EntityOrder:
		ord, err := tx.GetOrder(ctx, ref.ID, true)
		if err != nil {
			return nil, wrapNotFound(err, "order")
		}
		return &refundTarget{
			capture:       ord.Captured(),
			currency:      ord.Currency,
			paymentStatus: &ord.PaymentStatus,
			progress:      &ord.Refunds,
			save:          func(ctx context.Context) error { return tx.UpdateOrder(ctx, ord) },
		}, nil
	case model.EntityReservation:
		res, err := tx.GetReservation(ctx, ref.ID, true)
		if err != nil {
			return nil, wrapNotFound(err, "reservation")
		}
		return &refundTarget{
			capture:       res.Captured(),
			currency:      res.Currency,
			paymentStatus: &res.PaymentStatus,
			progress:      &res.Refunds,
			save:          func(ctx context.Context) error { return tx.UpdateReservation(ctx, res) },
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidInput, ref.Kind)
}

const versionRetries = 3

// withVersionRetry reruns fn while it loses optimistic version checks.
func withVersionRetry(fn func() error) error {
	var err error
	for i := 0; i < versionRetries; i++ {
		err = fn()
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

func isTimeout(err error) bool {
	return errors.Is(err, payment.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
