package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// GiftCardStatus is the state of a gift card.
type GiftCardStatus string

const (
	GiftCardActive   GiftCardStatus = "active"
	GiftCardExpired  GiftCardStatus = "expired"
	GiftCardDepleted GiftCardStatus = "depleted"
)

// GiftCard is internally issued stored value.  Balance is authoritative
// money: it only decreases through redemptions and only increases through
// refund credits, and never rises above Amount.
type GiftCard struct {
	Code       string          `json:"code"`                  // gift_cards.code
	Category   string          `json:"category"`              // gift_cards.category
	Amount     decimal.Decimal `json:"amount"`                // gift_cards.amount (face value)
	Balance    decimal.Decimal `json:"balance"`               // gift_cards.balance
	Currency   string          `json:"currency"`              // gift_cards.currency
	Status     GiftCardStatus  `json:"status"`                // gift_cards.status
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"` // gift_cards.expiry_date (nullable)
	CreatedAt  time.Time       `json:"created_at"`            // gift_cards.created_at
	UpdatedAt  time.Time       `json:"updated_at"`            // gift_cards.updated_at
}

// ExpiredAt reports whether the card is past its expiry date at now.  A card
// stays usable through the whole expiry day.
func (g *GiftCard) ExpiredAt(now time.Time) bool {
	if g.ExpiryDate == nil {
		return false
	}
	end := g.ExpiryDate.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return !now.UTC().Before(end)
}
