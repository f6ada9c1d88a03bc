package journal

import (
	"time"

	"go.uber.org/zap"

	"github.com/minnowchess/minnow/internal"
)

// Observer records completed batches from the queue into the journal. It
// satisfies the queue's Observer interface; recording failures are logged
// and swallowed so analysis is never disturbed.
type Observer struct {
	journal *Journal
	logger  *zap.Logger
}

// NewObserver wires the journal into the queue's event stream.
func NewObserver(j *Journal, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{journal: j, logger: logger}
}

func (o *Observer) BatchCompleted(id internal.BatchID, positions, nodes uint64, nps uint32, elapsed time.Duration) {
	err := o.journal.Record(BatchRecord{
		BatchID:    string(id),
		Positions:  positions,
		Nodes:      nodes,
		NPS:        nps,
		DurationMS: elapsed.Milliseconds(),
		FinishedAt: time.Now(),
	})
	if err != nil {
		o.logger.Warn("journal write failed", zap.Error(err))
	}
}

func (o *Observer) PendingPositions(int) {}

func (o *Observer) SubmitFailed() {}
