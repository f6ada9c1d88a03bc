//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/minnowchess/minnow/internal"
	"github.com/minnowchess/minnow/internal/api"
	"github.com/minnowchess/minnow/internal/engine"
	"github.com/minnowchess/minnow/internal/logger"
	"github.com/minnowchess/minnow/internal/queue"
)

// fakeEngineScript is a minimal UCI engine for exercising the full
// acquire-analyse-submit pipeline without a real chess engine.
const fakeEngineScript = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    uci)
      echo "id name FakeFish 1.0"
      echo "uciok"
      ;;
    isready)
      echo "readyok"
      ;;
    go*)
      echo "info depth 20 seldepth 24 score cp 12 nodes 4000 nps 1000000 time 4 pv e2e4 e7e5"
      echo "bestmove e2e4"
      ;;
    quit)
      exit 0
      ;;
  esac
done
`

func writeFakeEngine(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fakefish")
	require.NoError(t, os.WriteFile(path, []byte(fakeEngineScript), 0755))
	return path
}

// queueServer is an in-process analysis queue that hands out a single
// batch and records what comes back.
type queueServer struct {
	mu       sync.Mutex
	acquired bool
	analyses [][]*api.AnalysisPart
	complete chan struct{}
}

func newQueueServer() *queueServer {
	return &queueServer{complete: make(chan struct{})}
}

func (q *queueServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/acquire", func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		defer q.mu.Unlock()

		if q.acquired {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		q.acquired = true

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{
			"work": {"type": "analysis", "id": "int123"},
			"game_id": "intgame",
			"position": "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
			"moves": "e2e4",
			"nodes": 4000
		}`)
	})

	mux.HandleFunc("/analysis/int123", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Analysis []*api.AnalysisPart `json:"analysis"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		q.mu.Lock()
		defer q.mu.Unlock()
		q.analyses = append(q.analyses, body.Analysis)
		if len(body.Analysis) > 0 && body.Analysis[0] != nil {
			close(q.complete)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}

func (q *queueServer) finalAnalysis() []*api.AnalysisPart {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, parts := range q.analyses {
		if len(parts) > 0 && parts[0] != nil {
			return parts
		}
	}
	return nil
}

func TestWorkerPipeline(t *testing.T) {
	enginePath := writeFakeEngine(t)

	qs := newQueueServer()
	server := httptest.NewServer(qs.handler())
	defer server.Close()

	endpoint, err := url.Parse(server.URL)
	require.NoError(t, err)

	log := logger.New(false)
	client := api.NewClient(api.Options{
		Endpoint:   endpoint,
		Version:    version,
		UserAgent:  "minnow-test",
		EngineName: "fakefish",
		Logger:     log.Zap(),
	})

	stub, actor := queue.New(client, queue.Options{
		Endpoint: endpoint,
		Slots:    1,
	}, log)

	pool := engine.NewPool(1, internal.EngineConfig{
		Path:    enginePath,
		Hash:    16,
		Threads: 1,
	}, log.Zap())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		actor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return pool.Run(gctx, stub)
	})
	g.Go(func() error {
		select {
		case <-qs.complete:
			stub.ShutdownSoon()
		case <-gctx.Done():
		}
		return nil
	})

	require.NoError(t, g.Wait())
	require.NoError(t, stub.Drain(context.Background()))

	final := qs.finalAnalysis()
	require.Len(t, final, 2)
	for _, part := range final {
		require.NotNil(t, part)
		require.Equal(t, api.MoveList{"e2e4", "e7e5"}, part.PV)
		require.Equal(t, 20, part.Depth)
		require.NotNil(t, part.Score)
		require.NotNil(t, part.Score.Cp)
		require.Equal(t, 12, *part.Score.Cp)
	}
}
