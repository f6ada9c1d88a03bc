package internal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minnowchess/minnow/internal"
)

func TestSession(t *testing.T) {
	t.Run("GenerateSession", func(t *testing.T) {
		t.Run("generates unique sessions", func(t *testing.T) {
			sessions := make(map[string]struct{})
			iterations := 1000

			for i := 0; i < iterations; i++ {
				session := internal.GenerateSession()
				sessions[session.String()] = struct{}{}
			}

			require.Len(t, sessions, iterations, "expected unique session identifiers")
		})

		t.Run("formats session IDs", func(t *testing.T) {
			for i := 0; i < 100; i++ {
				session := internal.GenerateSession()

				require.Regexp(t, `^minnow-[0-9a-f]{8}$`, session.String())
				require.Equal(t, session.ID(), session.String())
			}
		})
	})

	t.Run("UserAgent", func(t *testing.T) {
		t.Run("includes version and session", func(t *testing.T) {
			session := internal.GenerateSession()

			agent := session.UserAgent("9.9.9")
			require.Contains(t, agent, "minnow/9.9.9")
			require.Contains(t, agent, session.ID())
		})
	})
}
