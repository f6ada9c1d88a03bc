package queue

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/minnowchess/minnow/internal"
	"github.com/minnowchess/minnow/internal/api"
	"github.com/minnowchess/minnow/internal/logger"
)

// defaultNodes is the search budget per position when the queue does not
// specify one.
const defaultNodes = 4_000_000

// submitTimeout bounds fire-and-forget submissions so shutdown cannot hang
// on a dead queue.
const submitTimeout = 60 * time.Second

// API is the set of queue operations the actor performs, implemented by
// *api.Client. It is an interface to allow for testing with mocks.
type API interface {
	Acquire(ctx context.Context, query api.AcquireQuery) (*api.AcquireResponse, error)
	SubmitAnalysis(ctx context.Context, id internal.BatchID, parts []*api.AnalysisPart) error
	SubmitMove(ctx context.Context, id internal.BatchID, bestMove string) error
	Abort(ctx context.Context, id internal.BatchID) error
	Status(ctx context.Context) (*api.QueueStatus, error)
}

// Observer receives queue lifecycle events for metrics and journalling.
// All methods must be safe for concurrent use.
type Observer interface {
	BatchCompleted(id internal.BatchID, positions, nodes uint64, nps uint32, elapsed time.Duration)
	PendingPositions(n int)
	SubmitFailed()
}

type noopObserver struct{}

func (noopObserver) BatchCompleted(internal.BatchID, uint64, uint64, uint32, time.Duration) {}
func (noopObserver) PendingPositions(int)                                                   {}
func (noopObserver) SubmitFailed()                                                          {}

type multiObserver []Observer

func (m multiObserver) BatchCompleted(id internal.BatchID, positions, nodes uint64, nps uint32, elapsed time.Duration) {
	for _, o := range m {
		o.BatchCompleted(id, positions, nodes, nps, elapsed)
	}
}

func (m multiObserver) PendingPositions(n int) {
	for _, o := range m {
		o.PendingPositions(n)
	}
}

func (m multiObserver) SubmitFailed() {
	for _, o := range m {
		o.SubmitFailed()
	}
}

// CombineObservers fans events out to several observers.
func CombineObservers(observers ...Observer) Observer {
	return multiObserver(observers)
}

// core is the shared state behind the Stub/Actor pair.
type core struct {
	api      API
	logger   *logger.Logger
	observer Observer
	endpoint *url.URL

	mu            sync.Mutex
	shutdownSoon  bool
	slots         int
	incoming      []internal.Position
	pending       map[internal.BatchID]*pendingBatch
	stats         *StatsRecorder
	userBacklog   time.Duration
	systemBacklog time.Duration

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	// wg tracks in-flight submissions and aborts so shutdown can drain them.
	wg sync.WaitGroup
}

func (c *core) setShutdownSoon() {
	c.mu.Lock()
	c.shutdownSoon = true
	c.mu.Unlock()
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
}

func (c *core) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownSoon
}

// respond handles the outcome of a previously pulled position, then tries
// to hand out the next one. It reports false when no position is queued.
func (c *core) respond(outcome *internal.Outcome) (internal.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handleOutcomeLocked(outcome)

	if len(c.incoming) == 0 {
		return internal.Position{}, false
	}

	pos := c.incoming[0]
	c.incoming = c.incoming[1:]
	return pos, true
}

func (c *core) handleOutcomeLocked(outcome *internal.Outcome) {
	if outcome == nil {
		return
	}

	switch {
	case outcome.Response != nil:
		res := outcome.Response
		if pending, ok := c.pending[res.Work.ID]; ok {
			pending.record(*res)
		}
		c.logger.Progress(c.statusBarLocked(), logger.ProgressAt{
			BatchID: res.Work.ID,
			URL:     res.BatchURL,
		})
		c.maybeFinishedLocked(res.Work.ID)

	case outcome.Failed != nil:
		id := outcome.Failed.BatchID
		delete(c.pending, id)

		kept := c.incoming[:0]
		for _, pos := range c.incoming {
			if pos.Work.ID != id {
				kept = append(kept, pos)
			}
		}
		c.incoming = kept

		c.goAbort(id)
	}

	c.observer.PendingPositions(c.pendingCountLocked())
}

// pushFront returns a position a worker gave up on to the head of the
// incoming queue.
func (c *core) pushFront(pos internal.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incoming = append([]internal.Position{pos}, c.incoming...)
}

func (c *core) addIncomingBatch(batch *incomingBatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[batch.work.ID]; ok {
		c.logger.Error("dropping duplicate incoming batch", zap.String("batch", string(batch.work.ID)))
		return
	}

	pending := &pendingBatch{
		work:      batch.work,
		url:       batch.url,
		startedAt: time.Now(),
		slots:     make([]pendingSlot, len(batch.positions)),
	}
	for i, pos := range batch.positions {
		if pos == nil {
			pending.slots[i].skipped = true
			continue
		}
		c.incoming = append(c.incoming, *pos)
	}
	c.pending[batch.work.ID] = pending

	c.logger.Progress(c.statusBarLocked(), logger.ProgressAt{
		BatchID: batch.work.ID,
		URL:     batch.url,
	})
	c.observer.PendingPositions(c.pendingCountLocked())
	c.maybeFinishedLocked(batch.work.ID)
}

// maybeFinishedLocked submits the batch if every slot is settled; otherwise
// it posts a progress report at cores*2 completion intervals.
func (c *core) maybeFinishedLocked(id internal.BatchID) {
	pending, ok := c.pending[id]
	if !ok {
		return
	}

	if !pending.complete() {
		report := pending.progressReport()
		var analysed int
		for _, part := range report {
			if part != nil {
				analysed++
			}
		}
		interval := c.slots * 2
		if interval > 0 && analysed%interval == 0 {
			c.goSubmitAnalysis(id, report)
		}
		return
	}

	delete(c.pending, id)

	elapsed := time.Since(pending.startedAt)
	positions, nodes := pending.totals()

	npsString := "?"
	if secs := elapsed.Seconds(); secs >= 1 && nodes > 0 {
		nps := uint32(float64(nodes) / secs)
		c.stats.recordBatch(positions, nodes, nps)
		c.observer.BatchCompleted(id, positions, nodes, nps, elapsed)
		npsString = fmt.Sprint(nps)
	}

	at := pending.url
	if at == "" {
		at = string(id)
	}
	c.logger.Info("batch finished",
		zap.String("queue", c.statusBarLocked().String()),
		zap.String("batch", at),
		zap.String("nps", npsString))

	if pending.work.Type == internal.WorkMove {
		c.goSubmitMove(id, pending.bestMove())
	} else {
		c.goSubmitAnalysis(id, pending.analysis())
	}
}

func (c *core) statusBarLocked() logger.StatusBar {
	return logger.StatusBar{
		Pending: c.pendingCountLocked(),
		Slots:   c.slots,
	}
}

func (c *core) pendingCountLocked() int {
	var n int
	for _, pending := range c.pending {
		n += pending.awaiting()
	}
	return n
}

func (c *core) backlogThresholds() (user, system time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userBacklog, c.systemBacklog
}

func (c *core) goSubmitAnalysis(id internal.BatchID, parts []*api.AnalysisPart) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()

		if err := c.api.SubmitAnalysis(ctx, id, parts); err != nil {
			c.observer.SubmitFailed()
			c.logger.Warn("failed to submit analysis", zap.String("batch", string(id)), zap.Error(err))
		}
	}()
}

func (c *core) goSubmitMove(id internal.BatchID, bestMove string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()

		if err := c.api.SubmitMove(ctx, id, bestMove); err != nil {
			c.observer.SubmitFailed()
			c.logger.Warn("failed to submit move", zap.String("batch", string(id)), zap.Error(err))
		}
	}()
}

func (c *core) goAbort(id internal.BatchID) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()

		if err := c.api.Abort(ctx, id); err != nil {
			c.logger.Warn("failed to abort batch", zap.String("batch", string(id)), zap.Error(err))
		}
	}()
}

// incomingBatch is an acquired batch expanded into per-ply positions. A nil
// entry marks a ply the queue asked to skip.
type incomingBatch struct {
	work      internal.Work
	url       string
	positions []*internal.Position
}

// newIncomingBatch expands an acquire response into positions. Analysis
// work yields one position per ply (the root plus one per move); move work
// yields a single position with all moves played.
func newIncomingBatch(endpoint *url.URL, body *api.AcquireResponse) *incomingBatch {
	batchURL := gameURL(endpoint, body.GameID, -1)
	nodes := uint64(defaultNodes)
	if body.Nodes != nil {
		nodes = *body.Nodes
	}

	batch := &incomingBatch{
		work: body.Work,
		url:  batchURL,
	}

	if body.Work.Type == internal.WorkMove {
		batch.positions = []*internal.Position{{
			Work:     body.Work,
			ID:       0,
			BatchURL: batchURL,
			Variant:  body.Variant,
			FEN:      body.Position,
			Moves:    body.Moves,
			Nodes:    nodes,
		}}
		return batch
	}

	positions := make([]*internal.Position, 0, len(body.Moves)+1)
	positions = append(positions, &internal.Position{
		Work:     body.Work,
		ID:       0,
		BatchURL: gameURL(endpoint, body.GameID, 0),
		Variant:  body.Variant,
		FEN:      body.Position,
		Nodes:    nodes,
	})

	for i := range body.Moves {
		positions = append(positions, &internal.Position{
			Work:     body.Work,
			ID:       internal.PositionID(i + 1),
			BatchURL: gameURL(endpoint, body.GameID, i+1),
			Variant:  body.Variant,
			FEN:      body.Position,
			Moves:    append([]string(nil), body.Moves[:i+1]...),
			Nodes:    nodes,
		})
	}

	for _, skip := range body.SkipPositions {
		if skip >= 0 && skip < len(positions) {
			positions[skip] = nil
		}
	}

	batch.positions = positions
	return batch
}

// gameURL builds the human-facing URL for a batch, with the ply as the
// fragment. It is cosmetic: used in logs and progress lines only.
func gameURL(endpoint *url.URL, gameID string, ply int) string {
	if gameID == "" {
		return ""
	}

	u := *endpoint
	u.Path = "/" + gameID
	u.RawQuery = ""
	if ply >= 0 {
		u.Fragment = fmt.Sprint(ply)
	}
	return u.String()
}

type pendingSlot struct {
	skipped  bool
	response *internal.PositionResponse
}

func (s pendingSlot) done() bool {
	return s.skipped || s.response != nil
}

// pendingBatch tracks a batch whose positions are being analysed.
type pendingBatch struct {
	work      internal.Work
	url       string
	startedAt time.Time
	slots     []pendingSlot
}

func (p *pendingBatch) record(res internal.PositionResponse) {
	if int(res.ID) >= 0 && int(res.ID) < len(p.slots) {
		p.slots[res.ID].response = &res
	}
}

func (p *pendingBatch) complete() bool {
	for _, slot := range p.slots {
		if !slot.done() {
			return false
		}
	}
	return true
}

func (p *pendingBatch) awaiting() int {
	var n int
	for _, slot := range p.slots {
		if !slot.done() {
			n++
		}
	}
	return n
}

// progressReport serializes the batch for an interim submission. The first
// part is always nil: that is how the queue distinguishes progress reports
// from complete analysis.
func (p *pendingBatch) progressReport() []*api.AnalysisPart {
	parts := make([]*api.AnalysisPart, len(p.slots))
	for i, slot := range p.slots {
		if i == 0 || slot.response == nil {
			continue
		}
		parts[i] = api.CompletePart(*slot.response)
	}
	return parts
}

// analysis serializes a completed batch for final submission.
func (p *pendingBatch) analysis() []*api.AnalysisPart {
	parts := make([]*api.AnalysisPart, len(p.slots))
	for i, slot := range p.slots {
		if slot.skipped {
			parts[i] = api.SkippedPart()
			continue
		}
		parts[i] = api.CompletePart(*slot.response)
	}
	return parts
}

// bestMove returns the engine's move for move work.
func (p *pendingBatch) bestMove() string {
	for _, slot := range p.slots {
		if slot.response != nil {
			return slot.response.BestMove
		}
	}
	return ""
}

func (p *pendingBatch) totals() (positions, nodes uint64) {
	for _, slot := range p.slots {
		if slot.response != nil {
			positions++
			nodes += slot.response.Nodes
		}
	}
	return positions, nodes
}
