package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is the means of payment a ledger entry moved money through.
type Instrument string

const (
	InstrumentGiftCard Instrument = "gift_card"
	InstrumentCard     Instrument = "card"
)

// Direction is seen from the customer's instrument: a debit takes money from
// it, a credit gives money back.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// LedgerEntry is an immutable record of one money movement.  The
// idempotency key is unique; writing an entry whose key already exists is a
// replay and must not move money again.
type LedgerEntry struct {
	ID             uint64          `json:"id"`                       // ledger_entries.id
	Entity         EntityRef       `json:"entity"`                   // ledger_entries.entity_kind / entity_id
	GiftCardCode   *string         `json:"gift_card_code,omitempty"` // ledger_entries.gift_card_code (nullable)
	Instrument     Instrument      `json:"instrument"`               // ledger_entries.instrument
	Direction      Direction       `json:"direction"`                // ledger_entries.direction
	Amount         decimal.Decimal `json:"amount"`                   // ledger_entries.amount
	IdempotencyKey string          `json:"idempotency_key"`          // ledger_entries.idempotency_key
	ExternalRef    *string         `json:"external_ref,omitempty"`   // ledger_entries.external_ref (nullable)
	CreatedAt      time.Time       `json:"created_at"`               // ledger_entries.created_at
}

// RefundKey is the deterministic idempotency key of the refund step for one
// instrument of an entity.  The first attempt has no suffix; later attempts
// append their number.
func RefundKey(ref EntityRef, instrument Instrument, attempt uint32) string {
	if attempt <= 1 {
		return fmt.Sprintf("%s:%d:%s:refund", ref.Kind, ref.ID, instrument)
	}
	return fmt.Sprintf("%s:%d:%s:refund:%d", ref.Kind, ref.ID, instrument, attempt)
}

// RedeemKey is the idempotency key of a gift card redemption tied to an entity.
func RedeemKey(ref EntityRef) string {
	return fmt.Sprintf("%s:%d:%s:redeem", ref.Kind, ref.ID, InstrumentGiftCard)
}
