package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123"

func TestIssueAndValidate(t *testing.T) {
	tok, err := IssueToken(secret, "operator@inumet", "operator", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "operator@inumet", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejects(t *testing.T) {
	good, err := IssueToken(secret, "op", "", time.Minute)
	require.NoError(t, err)

	past := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "op",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, past).SignedString([]byte(secret))
	require.NoError(t, err)

	otherIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:  "someone-else",
		Subject: "op",
	}}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "another-secret-value", good},
		{"expired", secret, expired},
		{"wrong issuer", secret, otherIssuer},
		{"garbage", secret, "not.a.token"},
		{"no secret", "", good},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(tt.secret, tt.token)
			assert.Error(t, err)
		})
	}
}

func TestIssueRequiresSecretAndSubject(t *testing.T) {
	_, err := IssueToken("", "op", "", 0)
	assert.ErrorIs(t, err, ErrSecretRequired)
	_, err = IssueToken(secret, "", "", 0)
	assert.Error(t, err)
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "anonymous", Subject(ctx))

	ctx = WithClaims(ctx, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "op"}})
	c, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "op", c.Subject)
	assert.Equal(t, "op", Subject(ctx))
}
