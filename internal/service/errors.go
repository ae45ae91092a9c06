package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrConfirmationMismatch = errors.New("confirmation mismatch")
	ErrSessionFull          = errors.New("session full")
	ErrInsufficientBalance  = errors.New("insufficient gift card balance")
	ErrGiftCardExpired      = errors.New("gift card expired")
	ErrGiftCardInactive     = errors.New("gift card inactive")
	ErrOverRefund           = errors.New("refund exceeds captured amount")
	ErrPartialRefundFailure = errors.New("partial refund failure")
	ErrGatewayTimeout       = errors.New("payment gateway timeout")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	// ErrConflict is returned when a concurrent writer kept winning the
	// version check.
	ErrConflict = errors.New("concurrent update")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot transition from %q to %q: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot transition from %q to %q", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ConfirmationError is returned when a destructive transition was requested
// without echoing the expected keyword.
type ConfirmationError struct {
	Target   string
	Expected string
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("type %q to confirm", e.Expected)
}

func (e *ConfirmationError) Is(target error) bool { return target == ErrConfirmationMismatch }

// PartialRefundError reports a refund where the gift card part was given back
// but the card part was not.  Outstanding must be reconciled by an operator.
type PartialRefundError struct {
	GiftCardCredited decimal.Decimal
	Outstanding      decimal.Decimal
	Cause            error
}

func (e *PartialRefundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "partial refund: gift card credited %s, card refund of %s outstanding",
		e.GiftCardCredited.StringFixed(2), e.Outstanding.StringFixed(2))
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *PartialRefundError) Is(target error) bool { return target == ErrPartialRefundFailure }

func (e *PartialRefundError) Unwrap() error { return e.Cause }
