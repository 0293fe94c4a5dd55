package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key returns nil without error", func(t *testing.T) {
		store := NewMemoryStore()
		state, err := store.Get(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("execute creates the key on first use", func(t *testing.T) {
		store := NewMemoryStore()
		state, err := store.Execute(ctx, "k", func(st *State) error {
			st.FailedAttempts = 2
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "k", state.Key)
		assert.Equal(t, 2, state.FailedAttempts)

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 2, got.FailedAttempts)
	})

	t.Run("mutate error leaves stored state untouched", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Execute(ctx, "k", func(st *State) error {
			st.FailedAttempts = 1
			return nil
		})
		require.NoError(t, err)

		_, err = store.Execute(ctx, "k", func(st *State) error {
			st.FailedAttempts = 99
			return assert.AnError
		})
		require.Error(t, err)

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 1, got.FailedAttempts)
	})

	t.Run("returned state is a copy", func(t *testing.T) {
		store := NewMemoryStore()
		until := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
		_, err := store.Execute(ctx, "k", func(st *State) error {
			st.LockUntil = &until
			return nil
		})
		require.NoError(t, err)

		first, err := store.Get(ctx, "k")
		require.NoError(t, err)
		first.FailedAttempts = 42
		*first.LockUntil = until.Add(time.Hour)

		second, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 0, second.FailedAttempts)
		assert.Equal(t, until, *second.LockUntil)
	})

	t.Run("clear removes the key", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Execute(ctx, "k", func(st *State) error { return nil })
		require.NoError(t, err)

		require.NoError(t, store.Clear(ctx, "k"))
		state, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, state)
	})
}
