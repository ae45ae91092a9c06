package handler

// This file defines gift card handlers.  Balance lookup is public because the
// code itself is the credential; issuing cards, listing ledger entries and
// manual redemptions are staff operations.

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/studio-reservations/internal/service"
)

// GiftCardHandler exposes gift card issuance, lookup and redemption.
type GiftCardHandler struct {
	Gifts *service.GiftCardLedger
}

// NewGiftCardHandler panics when gifts is nil.
func NewGiftCardHandler(gifts *service.GiftCardLedger) *GiftCardHandler {
	if gifts == nil {
		panic("nil ledger passed to NewGiftCardHandler")
	}
	return &GiftCardHandler{Gifts: gifts}
}

type issueRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"`
	ExpiryDate string          `json:"expiry_date"` // YYYY-MM-DD, optional
}

// Issue handles POST /v1/gift-cards.
func (h *GiftCardHandler) Issue(c echo.Context) error {
	var req issueRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := checkMoney("amount", req.Amount); err != nil {
		return writeError(c, err)
	}
	var expiry *time.Time
	if s := strings.TrimSpace(req.ExpiryDate); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return writeError(c, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", service.ErrInvalidInput))
		}
		expiry = &t
	}
	card, err := h.Gifts.Issue(c.Request().Context(), service.IssueRequest{
		Amount:     req.Amount,
		Category:   strings.TrimSpace(req.Category),
		ExpiryDate: expiry,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, card)
}

// GetGiftCard handles GET /v1/gift-cards/:code.
func (h *GiftCardHandler) GetGiftCard(c echo.Context) error {
	card, err := h.Gifts.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, card)
}

// Entries handles GET /v1/gift-cards/:code/entries.
func (h *GiftCardHandler) Entries(c echo.Context) error {
	entries, err := h.Gifts.Entries(c.Request().Context(), c.Param("code"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries, "count": len(entries)})
}

type redeemRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Redeem handles POST /v1/gift-cards/:code/redeem for purchases made
// outside orders and reservations.
func (h *GiftCardHandler) Redeem(c echo.Context) error {
	var req redeemRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := checkMoney("amount", req.Amount); err != nil {
		return writeError(c, err)
	}
	res, err := h.Gifts.Redeem(c.Request().Context(), c.Param("code"), req.Amount, nil)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
