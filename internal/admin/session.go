package admin

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "cabildo/pkg/domain-errors"
)

// SessionClaims is the JWT payload for admin bearer tokens.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Sessions issues and validates admin bearer tokens (HS256).
type Sessions struct {
	signingKey []byte
	ttl        time.Duration
}

func NewSessions(signingSecret string, ttl time.Duration) *Sessions {
	return &Sessions{
		signingKey: []byte(signingSecret),
		ttl:        ttl,
	}
}

// Issue creates a signed session token for the given operator.
func (s *Sessions) Issue(username string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session token")
	}
	return signed, nil
}

// Verify validates a session token and returns the operator username.
func (s *Sessions) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || claims.Username == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	return claims.Username, nil
}
