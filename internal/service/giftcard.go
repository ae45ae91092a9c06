package service

// This file implements the gift card ledger.  Every balance change writes an
// immutable ledger entry under a unique idempotency key in the same
// transaction as the balance update.

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/repository"
)

const (
	giftCardCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	giftCardIssueRetries = 5
)

// GiftCardLedger owns gift card balances.  Every balance movement is logged
// as a ledger entry in the same transaction as the balance update.
type GiftCardLedger struct {
	store    Store
	currency string
	logger   *zap.Logger
	now      func() time.Time
}

// NewGiftCardLedger returns a ledger issuing cards in currency.
func NewGiftCardLedger(store Store, currency string, logger *zap.Logger) *GiftCardLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GiftCardLedger{
		store:    store,
		currency: strings.ToUpper(currency),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IssueRequest describes a new gift card.
type IssueRequest struct {
	Amount     decimal.Decimal
	Category   string
	ExpiryDate *time.Time
}

// Issue creates an active card with a fresh code and a full balance.
func (l *GiftCardLedger) Issue(ctx context.Context, req IssueRequest) (*model.GiftCard, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if req.ExpiryDate != nil && req.ExpiryDate.Before(l.now().Truncate(24*time.Hour)) {
		return nil, fmt.Errorf("%w: expiry date is in the past", ErrInvalidInput)
	}

	for attempt := 0; attempt < giftCardIssueRetries; attempt++ {
		code, err := newGiftCardCode()
		if err != nil {
			return nil, err
		}
		card := &model.GiftCard{
			Code:       code,
			Category:   strings.TrimSpace(req.Category),
			Amount:     req.Amount,
			Balance:    req.Amount,
			Currency:   l.currency,
			Status:     model.GiftCardActive,
			ExpiryDate: req.ExpiryDate,
		}
		err = l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateGiftCard(ctx, card)
		})
		if errors.Is(err, repository.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("issue gift card: %w", err)
		}
		l.logger.Info("gift card issued",
			zap.String("code", card.Code),
			zap.String("amount", card.Amount.StringFixed(2)),
			zap.String("category", card.Category))
		return card, nil
	}
	return nil, fmt.Errorf("issue gift card: no unique code after %d attempts", giftCardIssueRetries)
}

// Redemption is the outcome of a redeem call.
type Redemption struct {
	Card  *model.GiftCard    `json:"gift_card"`
	Entry *model.LedgerEntry `json:"entry"`
}

// Redeem debits amount from the card.  When ref is given the debit is keyed
// to that entity and a repeated call replays the committed entry.
func (l *GiftCardLedger) Redeem(ctx context.Context, code string, amount decimal.Decimal, ref *model.EntityRef) (*Redemption, error) {
	code = normalizeCode(code)
	key := "gift_card:" + code + ":redeem:" + uuid.NewString()
	if ref != nil {
		key = model.RedeemKey(*ref)
	}

	var out *Redemption
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := l.redeemTx(ctx, tx, code, amount, ref, key)
		out = r
		return err
	})
	if errors.Is(err, ErrGiftCardExpired) {
		l.markExpired(ctx, code)
	}
	if err != nil {
		return nil, err
	}
	l.logger.Info("gift card redeemed",
		zap.String("code", code),
		zap.String("amount", out.Entry.Amount.StringFixed(2)),
		zap.String("balance", out.Card.Balance.StringFixed(2)))
	return out, nil
}

func (l *GiftCardLedger) redeemTx(ctx context.Context, tx Tx, code string, amount decimal.Decimal, ref *model.EntityRef, key string) (*Redemption, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: redeem amount must be positive", ErrInvalidInput)
	}
	if prev, err := tx.LedgerEntryByKey(ctx, key); err == nil {
		card, err := tx.GetGiftCard(ctx, code, false)
		if err != nil {
			return nil, wrapNotFound(err, "gift card")
		}
		return &Redemption{Card: card, Entry: prev}, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	card, err := tx.GetGiftCard(ctx, code, true)
	if err != nil {
		return nil, wrapNotFound(err, "gift card")
	}
	if card.Status == model.GiftCardExpired || card.ExpiredAt(l.now()) {
		return nil, fmt.Errorf("%w: %s", ErrGiftCardExpired, code)
	}
	if card.Status != model.GiftCardActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrGiftCardInactive, code, card.Status)
	}
	if amount.GreaterThan(card.Balance) {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance,
			card.Balance.StringFixed(2), amount.StringFixed(2))
	}

	card.Balance = card.Balance.Sub(amount)
	if card.Balance.IsZero() {
		card.Status = model.GiftCardDepleted
	}
	if err := tx.UpdateGiftCard(ctx, card); err != nil {
		return nil, err
	}

	entry := &model.LedgerEntry{
		GiftCardCode:   &card.Code,
		Instrument:     model.InstrumentGiftCard,
		Direction:      model.Debit,
		Amount:         amount,
		IdempotencyKey: key,
	}
	if ref != nil {
		entry.Entity = *ref
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &Redemption{Card: card, Entry: entry}, nil
}

// markExpired persists the expired status discovered during a failed
// redemption.  The redemption itself already failed, so errors are only
// logged.
func (l *GiftCardLedger) markExpired(ctx context.Context, code string) {
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		card, err := tx.GetGiftCard(ctx, code, true)
		if err != nil || card.Status == model.GiftCardExpired {
			return err
		}
		card.Status = model.GiftCardExpired
		return tx.UpdateGiftCard(ctx, card)
	})
	if err != nil {
		l.logger.Warn("mark gift card expired", zap.String("code", code), zap.Error(err))
	}
}

// Credit gives amount back to the card for ref, never lifting the balance
// above the face value.  It is a refund-only operation: key must be the
// refund idempotency key and a repeated call replays the committed entry.
func (l *GiftCardLedger) Credit(ctx context.Context, code string, amount decimal.Decimal, key string, ref model.EntityRef) (*model.LedgerEntry, error) {
	var out *model.LedgerEntry
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err := l.creditTx(ctx, tx, normalizeCode(code), amount, key, ref)
		out = e
		return err
	})
	if errors.Is(err, repository.ErrDuplicateKey) {
		return l.entryByKey(ctx, key)
	}
	return out, err
}

func (l *GiftCardLedger) creditTx(ctx context.Context, tx Tx, code string, amount decimal.Decimal, key string, ref model.EntityRef) (*model.LedgerEntry, error) {
	if prev, err := tx.LedgerEntryByKey(ctx, key); err == nil {
		return prev, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: credit amount must not be negative", ErrInvalidInput)
	}

	card, err := tx.GetGiftCard(ctx, code, true)
	if err != nil {
		return nil, wrapNotFound(err, "gift card")
	}

	credited := decimal.Min(amount, card.Amount.Sub(card.Balance))
	if credited.IsNegative() {
		credited = decimal.Zero
	}
	if credited.IsPositive() {
		card.Balance = card.Balance.Add(credited)
		if card.Status == model.GiftCardDepleted {
			card.Status = model.GiftCardActive
		}
		if err := tx.UpdateGiftCard(ctx, card); err != nil {
			return nil, err
		}
	}

	// The entry is written even for a zero credit so that the step is
	// recorded as done.
	entry := &model.LedgerEntry{
		Entity:         ref,
		GiftCardCode:   &card.Code,
		Instrument:     model.InstrumentGiftCard,
		Direction:      model.Credit,
		Amount:         credited,
		IdempotencyKey: key,
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns the card with the given code.
func (l *GiftCardLedger) Get(ctx context.Context, code string) (*model.GiftCard, error) {
	var card *model.GiftCard
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetGiftCard(ctx, normalizeCode(code), false)
		if err != nil {
			return wrapNotFound(err, "gift card")
		}
		card = c
		return nil
	})
	return card, err
}

// Entries returns every ledger entry that moved money on the card.
func (l *GiftCardLedger) Entries(ctx context.Context, code string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		code := normalizeCode(code)
		if _, err := tx.GetGiftCard(ctx, code, false); err != nil {
			return wrapNotFound(err, "gift card")
		}
		es, err := tx.ListGiftCardEntries(ctx, code)
		entries = es
		return err
	})
	return entries, err
}

func (l *GiftCardLedger) entryByKey(ctx context.Context, key string) (*model.LedgerEntry, error) {
	var e *model.LedgerEntry
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		e, err = tx.LedgerEntryByKey(ctx, key)
		return err
	})
	return e, err
}

// newGiftCardCode returns a code of the form GC-XXXX-XXXX-XXXX.
func newGiftCardCode() (string, error) {
	var raw [12]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate gift card code: %w", err)
	}
	var b strings.Builder
	b.WriteString("GC")
	for i, c := range raw {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(giftCardCodeAlphabet[int(c)%len(giftCardCodeAlphabet)])
	}
	return b.String(), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
