package handler

// common.go holds the helpers every handler shares: path parsing, money
// validation and the translation of service errors into HTTP responses.

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/studio-reservations/internal/service"
)

// retryAfterSeconds is sent with 504 so clients back off before retrying
// a refund or checkout that hit a gateway timeout.
const retryAfterSeconds = 5

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s", service.ErrInvalidInput, name)
	}
	return id, nil
}

// checkMoney rejects negative amounts and sub-cent precision.
func checkMoney(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", service.ErrInvalidInput, field)
	}
	if !v.Equal(v.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimals", service.ErrInvalidInput, field)
	}
	return nil
}

// bind decodes the JSON body and maps decoding failures to 400.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", service.ErrInvalidInput)
	}
	return nil
}

// writeError answers with the status that matches err.  Unknown errors are
// returned to echo as a 500 carrying err as the internal cause so that the
// request logger records it.
func writeError(c echo.Context, err error) error {
	var (
		perr *service.PartialRefundError
		cerr *service.ConfirmationError
	)
	switch {
	case errors.As(err, &perr):
		return c.JSON(http.StatusBadGateway, echo.Map{
			"error":              perr.Error(),
			"gift_card_credited": perr.GiftCardCredited.StringFixed(2),
			"outstanding":        perr.Outstanding.StringFixed(2),
		})
	case errors.As(err, &cerr):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": cerr.Error(), "expected": cerr.Expected})
	case errors.Is(err, service.ErrGatewayTimeout):
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrSessionFull),
		errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrGiftCardExpired),
		errors.Is(err, service.ErrGiftCardInactive),
		errors.Is(err, service.ErrOverRefund):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

// statusRequest is the body of the status transition endpoints.
type statusRequest struct {
	Target       string `json:"target"`
	Confirmation string `json:"confirmation"`
}

// refundRequest is the body of the refund endpoints.  A missing amount
// refunds everything that was captured.
type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (r refundRequest) validate() error {
	if r.Amount == nil {
		return nil
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", service.ErrInvalidInput)
	}
	return checkMoney("amount", *r.Amount)
}

// refundResponse flattens a RefundResult for clients.
func refundResponse(res *service.RefundResult) echo.Map {
	return echo.Map{
		"entity":    res.Entity,
		"requested": res.Requested.StringFixed(2),
		"refunded":  res.Refunded().StringFixed(2),
		"gift_card": res.GiftCard,
		"card":      res.Card,
	}
}
