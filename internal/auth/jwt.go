// Package auth issues and validates the HS256 bearer tokens that guard the
// alert mutation routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultTokenTTL = time.Hour
	Issuer          = "climate-alerts"
)

var ErrSecretRequired = errors.New("jwt secret is required")

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// IssueToken returns a signed token for subject valid for ttl.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrSecretRequired
	}
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// ValidateToken parses and validates the token string; returns claims or error.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims stores validated claims on the context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by WithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// Subject returns the authenticated subject, or "anonymous".
func Subject(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok && c.Subject != "" {
		return c.Subject
	}
	return "anonymous"
}
