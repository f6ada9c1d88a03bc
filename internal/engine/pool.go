package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/minnowchess/minnow/internal"
)

// Source supplies positions to engine workers. Pull hands back the outcome
// of the previous position (nil on the first call) and blocks until the next
// position is available. It returns an error when the worker should stop.
type Source interface {
	Pull(ctx context.Context, previous *internal.Outcome) (internal.Position, error)
}

// ErrSourceClosed tells workers that no more positions will ever arrive.
var ErrSourceClosed = errors.New("position source closed")

// Pool runs a fixed number of engine workers, each owning its own engine
// subprocess. A crashed engine is replaced and the position that killed it
// is reported as failed.
type Pool struct {
	size   int
	config internal.EngineConfig
	logger *zap.Logger

	// start launches one engine. Swapped out in tests.
	start func(ctx context.Context, config internal.EngineConfig, logger *zap.Logger) (*Engine, error)
}

// NewPool creates a pool of size engine workers.
func NewPool(size int, config internal.EngineConfig, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{size: size, config: config, logger: logger, start: StartEngine}
}

// Run starts the workers and blocks until all of them have stopped. Workers
// stop when ctx is cancelled or the source closes.
func (p *Pool) Run(ctx context.Context, src Source) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.size; i++ {
		i := i
		g.Go(func() error {
			return p.worker(gctx, i, src)
		})
	}

	return g.Wait()
}

func (p *Pool) worker(ctx context.Context, id int, src Source) error {
	logger := p.logger.With(zap.Int("worker", id))

	eng, err := p.start(ctx, p.config, logger)
	if err != nil {
		return fmt.Errorf("worker %d failed to start an engine: %w", id, err)
	}
	// eng is rebound when a crashed engine is replaced; the deferred close
	// must quit whichever engine is current, not the first one.
	defer func() { eng.Close() }()

	logger.Debug("engine worker started", zap.String("engine", eng.Name()))

	var outcome *internal.Outcome
	for {
		pos, err := src.Pull(ctx, outcome)
		if err != nil {
			// Context cancellation and source shutdown are expected, not errors.
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return err
		}

		res, err := eng.Analyse(ctx, pos)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logger.Warn("engine failed, replacing it",
				zap.String("batch", string(pos.Work.ID)),
				zap.Error(err))
			outcome = &internal.Outcome{Failed: &internal.PositionFailed{BatchID: pos.Work.ID}}

			eng.Close()
			eng, err = p.start(ctx, p.config, logger)
			if err != nil {
				return fmt.Errorf("worker %d failed to replace a crashed engine: %w", id, err)
			}
			continue
		}

		outcome = &internal.Outcome{Response: &res}
	}
}
