package service

import (
	"strings"
)

// Keywords holds the words an operator must type to confirm a destructive
// transition.  The first word of each list is the one quoted back in error
// messages.
type Keywords struct {
	Cancel []string
	Refund []string
}

// DefaultKeywords accepts the English keywords and the studio's French ones.
func DefaultKeywords() Keywords {
	return Keywords{
		Cancel: []string{"CANCEL", "ANNULER"},
		Refund: []string{"REFUND", "REMBOURSER"},
	}
}

// check verifies confirmation against the keyword list for target.  target
// is "cancelled" or "refunded"; any other target needs no confirmation.
func (k Keywords) check(target, confirmation string) error {
	var words []string
	switch target {
	case "cancelled":
		words = k.Cancel
	case "refunded":
		words = k.Refund
	default:
		return nil
	}
	if len(words) == 0 {
		words = DefaultKeywords().forTarget(target)
	}
	got := strings.ToUpper(strings.TrimSpace(confirmation))
	for _, w := range words {
		if got != "" && got == strings.ToUpper(strings.TrimSpace(w)) {
			return nil
		}
	}
	return &ConfirmationError{Target: target, Expected: strings.ToUpper(words[0])}
}

func (k Keywords) forTarget(target string) []string {
	if target == "cancelled" {
		return k.Cancel
	}
	return k.Refund
}
