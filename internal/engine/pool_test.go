package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minnowchess/minnow/internal"
)

// scriptedSource hands out a fixed list of positions, then closes. It
// records every outcome the worker reports back.
type scriptedSource struct {
	mu        sync.Mutex
	positions []internal.Position
	outcomes  []*internal.Outcome
}

func (s *scriptedSource) Pull(ctx context.Context, previous *internal.Outcome) (internal.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if previous != nil {
		s.outcomes = append(s.outcomes, previous)
	}
	if len(s.positions) == 0 {
		return internal.Position{}, ErrSourceClosed
	}
	pos := s.positions[0]
	s.positions = s.positions[1:]
	return pos, nil
}

func TestPool(t *testing.T) {
	t.Run("replaces a crashed engine and quits the replacement on exit", func(t *testing.T) {
		// The first engine dies mid-search; the second finishes a position.
		transcripts := []string{
			"readyok\n",
			"readyok\nbestmove e2e4\n",
		}
		var sent []*bytes.Buffer

		pool := NewPool(1, internal.EngineConfig{Path: "fake"}, nil)
		pool.start = func(ctx context.Context, config internal.EngineConfig, logger *zap.Logger) (*Engine, error) {
			require.Less(t, len(sent), len(transcripts), "unexpected extra engine start")
			eng, out := scriptedEngine(transcripts[len(sent)])
			sent = append(sent, out)
			return eng, nil
		}

		src := &scriptedSource{positions: []internal.Position{
			{Work: internal.Work{Type: internal.WorkAnalysis, ID: "abc123"}, Nodes: 1000},
			{Work: internal.Work{Type: internal.WorkAnalysis, ID: "def456"}, Nodes: 1000},
		}}

		require.NoError(t, pool.Run(context.Background(), src))
		require.Len(t, sent, 2)

		// The position that killed the first engine fails its batch; the
		// second position succeeds on the replacement.
		require.Len(t, src.outcomes, 2)
		require.NotNil(t, src.outcomes[0].Failed)
		require.Equal(t, internal.BatchID("abc123"), src.outcomes[0].Failed.BatchID)
		require.NotNil(t, src.outcomes[1].Response)
		require.Equal(t, "e2e4", src.outcomes[1].Response.BestMove)

		// Both engines must be asked to quit: the crashed one when it is
		// replaced, the replacement when the worker exits.
		require.Contains(t, sent[0].String(), "quit\n")
		require.Contains(t, sent[1].String(), "quit\n")
	})

	t.Run("stops cleanly when the source closes", func(t *testing.T) {
		var out *bytes.Buffer

		pool := NewPool(1, internal.EngineConfig{Path: "fake"}, nil)
		pool.start = func(ctx context.Context, config internal.EngineConfig, logger *zap.Logger) (*Engine, error) {
			var eng *Engine
			eng, out = scriptedEngine("")
			return eng, nil
		}

		require.NoError(t, pool.Run(context.Background(), &scriptedSource{}))
		require.Contains(t, out.String(), "quit\n")
	})

	t.Run("reports an engine that cannot start", func(t *testing.T) {
		pool := NewPool(2, internal.EngineConfig{Path: "missing"}, nil)
		pool.start = func(ctx context.Context, config internal.EngineConfig, logger *zap.Logger) (*Engine, error) {
			return nil, errors.New("no such binary")
		}

		err := pool.Run(context.Background(), &scriptedSource{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to start an engine")
	})
}
