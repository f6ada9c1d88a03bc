package api_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minnowchess/minnow/internal"
	"github.com/minnowchess/minnow/internal/api"
)

func TestMoveList(t *testing.T) {
	t.Run("unmarshals a space-separated string", func(t *testing.T) {
		var moves api.MoveList
		require.NoError(t, json.Unmarshal([]byte(`"e2e4 c7c5 g1f3"`), &moves))
		require.Equal(t, api.MoveList{"e2e4", "c7c5", "g1f3"}, moves)
	})

	t.Run("unmarshals an empty string as nil", func(t *testing.T) {
		var moves api.MoveList
		require.NoError(t, json.Unmarshal([]byte(`""`), &moves))
		require.Nil(t, moves)
	})

	t.Run("marshals back to a space-separated string", func(t *testing.T) {
		data, err := json.Marshal(api.MoveList{"e2e4", "e7e5"})
		require.NoError(t, err)
		require.Equal(t, `"e2e4 e7e5"`, string(data))
	})
}

func TestSeconds(t *testing.T) {
	t.Run("decodes numbers of seconds", func(t *testing.T) {
		var s api.Seconds
		require.NoError(t, json.Unmarshal([]byte(`90`), &s))
		require.Equal(t, 90*time.Second, s.Duration())
	})

	t.Run("decodes fractional seconds", func(t *testing.T) {
		var s api.Seconds
		require.NoError(t, json.Unmarshal([]byte(`1.5`), &s))
		require.Equal(t, 1500*time.Millisecond, s.Duration())
	})
}

func TestAnalysisParts(t *testing.T) {
	t.Run("CompletePart carries the engine result", func(t *testing.T) {
		cp := 31
		part := api.CompletePart(internal.PositionResponse{
			PV:    []string{"e2e4", "e7e5"},
			Depth: 22,
			Score: internal.Score{Cp: &cp},
			Time:  1500 * time.Millisecond,
			Nodes: 4_000_000,
			NPS:   2_600_000,
		})

		data, err := json.Marshal(part)
		require.NoError(t, err)
		require.JSONEq(t, `{
			"pv": "e2e4 e7e5",
			"depth": 22,
			"score": {"cp": 31},
			"time": 1500,
			"nodes": 4000000,
			"nps": 2600000
		}`, string(data))
	})

	t.Run("SkippedPart marks the ply skipped", func(t *testing.T) {
		data, err := json.Marshal(api.SkippedPart())
		require.NoError(t, err)
		require.JSONEq(t, `{"skipped": true}`, string(data))
	})
}
