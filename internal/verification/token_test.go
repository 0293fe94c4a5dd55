package verification

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")
	citizenID := uuid.New()
	issued := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	maxAge := 300 * time.Second

	t.Run("round trip within the window", func(t *testing.T) {
		token, err := issuer.Issue(citizenID, issued)
		require.NoError(t, err)

		got, err := issuer.Redeem(token, maxAge, issued.Add(60*time.Second))
		require.NoError(t, err)
		assert.Equal(t, citizenID, got)
	})

	t.Run("tokens stay redeemable until the window closes", func(t *testing.T) {
		token, err := issuer.Issue(citizenID, issued)
		require.NoError(t, err)

		for _, offset := range []time.Duration{0, 100 * time.Second, 299 * time.Second} {
			got, err := issuer.Redeem(token, maxAge, issued.Add(offset))
			require.NoError(t, err)
			assert.Equal(t, citizenID, got)
		}
	})

	t.Run("expired tokens are rejected", func(t *testing.T) {
		token, err := issuer.Issue(citizenID, issued)
		require.NoError(t, err)

		_, err = issuer.Redeem(token, maxAge, issued.Add(301*time.Second))
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("garbage is malformed", func(t *testing.T) {
		_, err := issuer.Redeem("not-a-token", maxAge, issued)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("tokens signed with another secret are malformed", func(t *testing.T) {
		other := NewTokenIssuer("other-secret")
		token, err := other.Issue(citizenID, issued)
		require.NoError(t, err)

		_, err = issuer.Redeem(token, maxAge, issued)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}
