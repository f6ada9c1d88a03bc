package internal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minnowchess/minnow/internal"
)

func TestScore(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		t.Run("renders centipawns", func(t *testing.T) {
			cp := 24
			require.Equal(t, "cp 24", internal.Score{Cp: &cp}.String())
		})

		t.Run("renders mate distances", func(t *testing.T) {
			mate := -3
			require.Equal(t, "mate -3", internal.Score{Mate: &mate}.String())
		})

		t.Run("renders the zero value as unknown", func(t *testing.T) {
			require.Equal(t, "?", internal.Score{}.String())
		})

		t.Run("prefers mate when both are set", func(t *testing.T) {
			cp, mate := 9900, 2
			require.Equal(t, "mate 2", internal.Score{Cp: &cp, Mate: &mate}.String())
		})
	})
}
