// Package verification guards the public issuance flow: a document lookup,
// an optional birthdate challenge behind the shared lockout ledger, and a
// short-lived signed token proving the challenge passed.
package verification

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired marks a token older than the redemption window.
	ErrExpired = errors.New("verification token expired")
	// ErrMalformed marks a token that fails parsing or signature checks.
	ErrMalformed = errors.New("verification token malformed")
)

type tokenClaims struct {
	CitizenID string `json:"citizen_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and redeems verification tokens (HS256). Tokens carry
// only an issued-at instant; the age limit is enforced at redemption so the
// window is a redeem-side policy, not baked into the token.
type TokenIssuer struct {
	signingKey []byte
}

func NewTokenIssuer(signingSecret string) *TokenIssuer {
	return &TokenIssuer{signingKey: []byte(signingSecret)}
}

// Issue creates a token for the given citizen public id.
func (t *TokenIssuer) Issue(citizenID uuid.UUID, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		CitizenID: citizenID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	})
	return token.SignedString(t.signingKey)
}

// Redeem validates a token and returns the citizen public id it carries.
// Tokens are multi-redeemable within maxAge of issuance.
func (t *TokenIssuer) Redeem(tokenString string, maxAge time.Duration, now time.Time) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.signingKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrMalformed
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.IssuedAt == nil {
		return uuid.Nil, ErrMalformed
	}
	if now.Sub(claims.IssuedAt.Time) > maxAge {
		return uuid.Nil, ErrExpired
	}

	citizenID, err := uuid.Parse(claims.CitizenID)
	if err != nil {
		return uuid.Nil, ErrMalformed
	}
	return citizenID, nil
}
