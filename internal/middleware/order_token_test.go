package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTokensBindToOneOrder(t *testing.T) {
	tokens := NewOrderTokens(secret, time.Hour)
	tok, err := tokens.Issue(7)
	require.NoError(t, err)

	assert.NoError(t, tokens.Verify(tok, 7))
	assert.ErrorIs(t, tokens.Verify(tok, 8), ErrInvalidOrderToken)
	assert.ErrorIs(t, tokens.Verify("", 7), ErrInvalidOrderToken)
	assert.ErrorIs(t, NewOrderTokens("other", time.Hour).Verify(tok, 7), ErrInvalidOrderToken)
}

func TestOrderTokenExpires(t *testing.T) {
	tokens := NewOrderTokens(secret, time.Hour)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "order:7",
		Audience:  jwt.ClaimStrings{checkoutAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	raw, err := expired.SignedString(tokens.key)
	require.NoError(t, err)
	assert.ErrorIs(t, tokens.Verify(raw, 7), ErrInvalidOrderToken)
}

func TestOrderTokenIsNotAnAccessToken(t *testing.T) {
	tok, err := NewOrderTokens(secret, time.Hour).Issue(7)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := JWTAuth(secret)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
