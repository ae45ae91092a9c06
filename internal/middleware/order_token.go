package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CheckoutTokenHeader carries the token returned when an order is created.
const CheckoutTokenHeader = "X-Checkout-Token"

const checkoutAudience = "checkout"

// ErrInvalidOrderToken is returned when a checkout token does not grant
// access to the order.
var ErrInvalidOrderToken = errors.New("invalid checkout token")

// OrderTokens signs the token handed to whoever created an order, so that
// only they can open a payment page for it.  The signing key is derived from
// the access token secret and never verifies as an access token.
type OrderTokens struct {
	key []byte
	ttl time.Duration
}

// NewOrderTokens returns OrderTokens valid for ttl (24h when zero).
func NewOrderTokens(secret string, ttl time.Duration) *OrderTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OrderTokens{key: []byte(checkoutAudience + ":" + secret), ttl: ttl}
}

// Issue signs a token for orderID.
func (t *OrderTokens) Issue(orderID uint64) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   orderSubject(orderID),
		Audience:  jwt.ClaimStrings{checkoutAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	})
	return tok.SignedString(t.key)
}

// Verify checks that raw was issued for orderID and has not expired.
func (t *OrderTokens) Verify(raw string, orderID uint64) error {
	if raw == "" {
		return ErrInvalidOrderToken
	}
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(checkoutAudience))
	if err != nil || !tok.Valid || claims.Subject != orderSubject(orderID) {
		return ErrInvalidOrderToken
	}
	return nil
}

func orderSubject(id uint64) string { return fmt.Sprintf("order:%d", id) }
