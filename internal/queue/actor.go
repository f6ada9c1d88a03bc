package queue

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/minnowchess/minnow/internal"
	"github.com/minnowchess/minnow/internal/api"
	"github.com/minnowchess/minnow/internal/engine"
	"github.com/minnowchess/minnow/internal/logger"
)

// Options configures the queue.
type Options struct {
	// Endpoint is the queue base URL, used to build cosmetic batch URLs.
	Endpoint *url.URL

	// Slots is the number of engine workers fed by this queue.
	Slots int

	// UserBacklog and SystemBacklog gate acquisition on queue depth.
	UserBacklog   time.Duration
	SystemBacklog time.Duration

	// Observer receives metrics events. Optional.
	Observer Observer
}

// New creates the Stub/Actor pair sharing one queue state. The Stub is
// handed to engine workers and the shutdown path; the Actor's Run loop must
// be started by the caller.
func New(apiClient API, opts Options, log *logger.Logger) (*Stub, *Actor) {
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	c := &core{
		api:           apiClient,
		logger:        log,
		observer:      observer,
		endpoint:      opts.Endpoint,
		slots:         opts.Slots,
		pending:       make(map[internal.BatchID]*pendingBatch),
		stats:         newStatsRecorder(),
		userBacklog:   opts.UserBacklog,
		systemBacklog: opts.SystemBacklog,
		shutdownCh:    make(chan struct{}),
	}

	pulls := make(chan *pullRequest)
	interrupt := make(chan struct{}, 1)

	stub := &Stub{core: c, pulls: pulls, interrupt: interrupt}
	actor := &Actor{
		core:      c,
		pulls:     pulls,
		interrupt: interrupt,
		backoff:   newRandomizedBackoff(),
	}
	return stub, actor
}

type pullRequest struct {
	c    chan internal.Position
	done <-chan struct{}
}

// Stub is the queue handle shared by engine workers and the shutdown path.
type Stub struct {
	core      *core
	pulls     chan *pullRequest
	interrupt chan struct{}
}

var _ engine.Source = (*Stub)(nil)

// Pull reports the outcome of the previous position and blocks until the
// next one is available. It returns engine.ErrSourceClosed once the queue
// is shutting down and no further work will be handed out.
func (s *Stub) Pull(ctx context.Context, previous *internal.Outcome) (internal.Position, error) {
	if pos, ok := s.core.respond(previous); ok {
		return pos, nil
	}

	req := &pullRequest{
		c:    make(chan internal.Position, 1),
		done: ctx.Done(),
	}

	select {
	case s.pulls <- req:
	case <-s.core.shutdownCh:
		return internal.Position{}, engine.ErrSourceClosed
	case <-ctx.Done():
		return internal.Position{}, ctx.Err()
	}

	select {
	case pos := <-req.c:
		return pos, nil
	case <-s.core.shutdownCh:
		return internal.Position{}, engine.ErrSourceClosed
	case <-ctx.Done():
		// The actor may have satisfied the pull concurrently; return the
		// position to the queue rather than losing it.
		select {
		case pos := <-req.c:
			s.core.pushFront(pos)
		default:
		}
		return internal.Position{}, ctx.Err()
	}
}

// SetBacklog updates the acquisition thresholds at runtime.
func (s *Stub) SetBacklog(user, system time.Duration) {
	s.core.mu.Lock()
	s.core.userBacklog = user
	s.core.systemBacklog = system
	s.core.mu.Unlock()
	s.kick()
}

// ShutdownSoon stops batch acquisition. Positions already queued keep being
// analysed and submitted.
func (s *Stub) ShutdownSoon() {
	s.core.setShutdownSoon()
	s.kick()
}

// Shutdown stops acquisition and aborts every pending batch upstream so
// other workers can pick them up.
func (s *Stub) Shutdown() {
	s.ShutdownSoon()

	s.core.mu.Lock()
	ids := make([]internal.BatchID, 0, len(s.core.pending))
	for id := range s.core.pending {
		ids = append(ids, id)
	}
	s.core.pending = make(map[internal.BatchID]*pendingBatch)
	s.core.incoming = nil
	s.core.mu.Unlock()

	for _, id := range ids {
		s.core.goAbort(id)
	}
}

// Drain waits for in-flight submissions and aborts to finish, or for ctx to
// expire.
func (s *Stub) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the accumulated counters.
func (s *Stub) Stats() Stats {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return s.core.stats.snapshot()
}

func (s *Stub) kick() {
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
}

// Actor runs the acquisition loop: it serves pulls that found the local
// queue empty by fetching new batches, pacing itself with the backlog
// heuristic and a randomized backoff.
type Actor struct {
	core      *core
	pulls     chan *pullRequest
	interrupt chan struct{}
	backoff   *randomizedBackoff
}

// Run serves pull requests until ctx is cancelled.
func (a *Actor) Run(ctx context.Context) {
	a.core.logger.Debug("queue actor started")
	defer a.core.logger.Debug("queue actor exited")

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.pulls:
			a.serve(ctx, req)
		}
	}
}

// serve satisfies one pull request, acquiring batches as needed. It gives
// up when the puller goes away, the queue shuts down, or ctx is cancelled.
func (a *Actor) serve(ctx context.Context, req *pullRequest) {
	for {
		if pos, ok := a.core.respond(nil); ok {
			select {
			case req.c <- pos:
			case <-req.done:
				a.core.pushFront(pos)
			}
			return
		}

		if a.core.isShutdown() {
			return
		}

		wait, query := a.backlogWaitTime(ctx)
		if wait >= time.Minute {
			a.core.logger.Info("going idle", zap.Duration("wait", wait))
		} else if wait >= time.Second {
			a.core.logger.Debug("going idle", zap.Duration("wait", wait))
		}

		if !a.sleep(ctx, req, wait) {
			return
		}

		acquired, err := a.core.api.Acquire(ctx, query)
		switch {
		case err == nil:
			a.backoff.Reset()
			a.core.addIncomingBatch(newIncomingBatch(a.core.endpoint, acquired))

		case errors.Is(err, api.ErrNoWork):
			backoff := a.backoff.Next()
			a.core.logger.Debug("no work received, backing off", zap.Duration("backoff", backoff))
			if !a.sleep(ctx, req, backoff) {
				return
			}

		case errors.Is(err, api.ErrUpdateRequired):
			a.core.logger.Error("queue rejected this client, stopping acquisition\nRun the update command or install a newer release")
			a.core.setShutdownSoon()
			return

		case errors.Is(err, context.Canceled):
			return

		default:
			backoff := a.backoff.Next()
			a.core.logger.Warn("failed to acquire work", zap.Error(err), zap.Duration("backoff", backoff))
			if !a.sleep(ctx, req, backoff) {
				return
			}
		}
	}
}

// sleep waits for the given duration unless interrupted. It reports false
// when the pull should be abandoned.
func (a *Actor) sleep(ctx context.Context, req *pullRequest, wait time.Duration) bool {
	if wait <= 0 {
		// Still consume a pending interrupt so backlog updates are not
		// carried over to the next wait.
		select {
		case <-a.interrupt:
		default:
		}
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-req.done:
		return false
	case <-ctx.Done():
		return false
	case <-a.core.shutdownCh:
		return false
	case <-a.interrupt:
		return true
	case <-timer.C:
		return true
	}
}

// backlogWaitTime decides how long to hold off before acquiring, and
// whether to ask for slow work. With backlog thresholds configured it
// consults the public queue status and waits until the oldest queued job is
// older than the threshold. Slow work is requested when the user wait
// dominates the system wait by at least a second, or, without thresholds,
// when this worker's own speed estimate says it cannot keep up with
// interactive analysis.
func (a *Actor) backlogWaitTime(ctx context.Context) (time.Duration, api.AcquireQuery) {
	sec := time.Second

	a.core.mu.Lock()
	minUserBacklog := a.core.stats.minUserBacklog()
	a.core.mu.Unlock()

	userBacklog, systemBacklog := a.core.backlogThresholds()
	userBacklog = max(userBacklog, minUserBacklog)

	if userBacklog >= sec || systemBacklog >= sec {
		if status, err := a.core.api.Status(ctx); err == nil {
			userWait := max(0, userBacklog-status.User.Oldest.Duration())
			systemWait := max(0, systemBacklog-status.System.Oldest.Duration())
			a.core.logger.Debug("backlog wait",
				zap.Duration("user_wait", userWait),
				zap.Duration("user_backlog", userBacklog),
				zap.Duration("user_oldest", status.User.Oldest.Duration()),
				zap.Duration("system_wait", systemWait),
				zap.Duration("system_backlog", systemBacklog),
				zap.Duration("system_oldest", status.System.Oldest.Duration()))
			slow := userWait >= systemWait+sec
			return min(userWait, systemWait), api.AcquireQuery{Slow: slow}
		}
	}

	return 0, api.AcquireQuery{Slow: minUserBacklog >= sec}
}
