package localday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	t.Run("same local day yields the same key across UTC dates", func(t *testing.T) {
		// 23:59 UTC is 18:59 in UTC-5; 01:30 UTC the next day is 20:30 the
		// same local evening.
		first := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
		second := time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC)

		assert.Equal(t, "2024-01-01", Key(first, bogota))
		assert.Equal(t, "2024-01-01", Key(second, bogota))
	})

	t.Run("the local midnight boundary rolls the key", func(t *testing.T) {
		// Local midnight is 05:00 UTC; the boundary instant belongs to the
		// new day.
		before := time.Date(2024, 1, 2, 4, 59, 59, 0, time.UTC)
		boundary := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)

		assert.Equal(t, "2024-01-01", Key(before, bogota))
		assert.Equal(t, "2024-01-02", Key(boundary, bogota))
	})

	t.Run("UTC zone is the identity case", func(t *testing.T) {
		now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, "2024-06-15", Key(now, time.UTC))
	})
}

func TestFormat(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	utc := time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-01 20:30", Format(utc, bogota, "2006-01-02 15:04"))
}
