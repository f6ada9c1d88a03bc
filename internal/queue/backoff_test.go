package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRandomizedBackoff(t *testing.T) {
	t.Run("starts near the base and doubles", func(t *testing.T) {
		b := newRandomizedBackoff()

		first := b.Next()
		require.GreaterOrEqual(t, first, backoffBase-backoffJitter/2)
		require.LessOrEqual(t, first, backoffBase+backoffJitter/2)

		second := b.Next()
		require.GreaterOrEqual(t, second, 2*backoffBase-backoffJitter/2)
		require.LessOrEqual(t, second, 2*backoffBase+backoffJitter/2)
	})

	t.Run("caps at the maximum", func(t *testing.T) {
		b := newRandomizedBackoff()
		var backoff time.Duration
		for i := 0; i < 20; i++ {
			backoff = b.Next()
		}
		require.LessOrEqual(t, backoff, backoffMax+backoffJitter/2)
		require.GreaterOrEqual(t, backoff, backoffMax-backoffJitter/2)
	})

	t.Run("never goes negative", func(t *testing.T) {
		b := newRandomizedBackoff()
		for i := 0; i < 100; i++ {
			require.GreaterOrEqual(t, b.Next(), time.Duration(0))
		}
	})

	t.Run("reset restarts the progression", func(t *testing.T) {
		b := newRandomizedBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		b.Reset()

		backoff := b.Next()
		require.LessOrEqual(t, backoff, backoffBase+backoffJitter/2)
	})
}
