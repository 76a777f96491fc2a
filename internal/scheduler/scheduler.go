package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nao1215/torcheck/internal/coordinator"
)

// DefaultInterval is the period between scheduled refreshes.
const DefaultInterval = 5 * time.Minute

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Refresher runs one refresh cycle. *coordinator.Coordinator satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (coordinator.Result, error)
}

// Observer is notified after every published refresh. prev is the zero
// Status for the first refresh. Errors are logged and otherwise ignored.
type Observer interface {
	Observe(ctx context.Context, prev, cur Status) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, prev, cur Status) error

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, prev, cur Status) error {
	return f(ctx, prev, cur)
}

// Scheduler runs refreshes on a fixed interval and on demand.
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	observers []Observer

	// runMu serializes refreshes.
	runMu sync.Mutex

	mu        sync.RWMutex
	status    Status
	published bool
	seq       uint64

	// notifyMu and notifyCond hand observer turns out in publish order.
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	notified   uint64

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the refresh period. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the clock used for the ticker and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObservers appends observers. They are called in order.
func WithObservers(observers ...Observer) Option {
	return func(s *Scheduler) {
		for _, o := range observers {
			if o != nil {
				s.observers = append(s.observers, o)
			}
		}
	}
}

// New creates a Scheduler. It does nothing until Start or RefreshNow.
func New(refresher Refresher, opts ...Option) *Scheduler {
	s := &Scheduler{
		refresher: refresher,
		interval:  DefaultInterval,
		clock:     clock.New(),
		logger:    slog.Default(),
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the refresh period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start refreshes once immediately and then once per interval. It blocks
// until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.cancel != nil {
		s.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.lifeMu.Unlock()

	defer func() {
		cancel()
		close(done)
		s.logger.Info("scheduler stopped")
	}()

	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.RefreshNow(runCtx)

	for {
		select {
		case <-ticker.C:
			s.RefreshNow(runCtx)
		case <-runCtx.Done():
			return nil
		}
	}
}

// Stop cancels a running Start and waits for it to return.
// It is a no-op when the scheduler was never started.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	cancel, done := s.cancel, s.done
	s.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns the last published status. The boolean is false until the
// first refresh completes.
func (s *Scheduler) Status() (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.published
}

// RefreshNow runs a refresh, publishes the outcome and notifies observers.
// It waits for any refresh already in flight.
//
// Observers run after the refresh lock is released, so the next refresh can
// start while they are still busy. They see statuses in publish order, and
// RefreshNow returns once its own observers have finished.
//
// A refresh interrupted by ctx is returned but not published.
func (s *Scheduler) RefreshNow(ctx context.Context) Status {
	cur, prev, turn, ok := s.refresh(ctx)
	if ok {
		s.notify(ctx, turn, prev, cur)
	}
	return cur
}

// refresh runs and publishes one refresh under runMu. turn orders the
// observer notification; ok is false when nothing was published.
func (s *Scheduler) refresh(ctx context.Context) (cur, prev Status, turn uint64, ok bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.clock.Now()
	result, err := s.refresher.Refresh(ctx)
	prev, _ = s.Status()

	cur = Status{
		RunID:     uuid.New(),
		State:     stateFor(err),
		CheckedAt: start,
		Duration:  s.clock.Since(start),
	}
	if err == nil {
		cur.Result = result
	} else {
		cur.Result = prev.Result.Clone()
		cur.Err = err
		cur.Message = err.Error()
	}

	if err != nil && ctx.Err() != nil {
		s.logger.Debug("refresh interrupted", "run_id", cur.RunID, "error", err)
		return cur, prev, 0, false
	}

	s.mu.Lock()
	s.status = cur
	s.published = true
	s.seq++
	turn = s.seq
	s.mu.Unlock()

	s.logTransition(prev, cur)
	return cur, prev, turn, true
}

// notify calls the observers once every earlier turn has been notified.
func (s *Scheduler) notify(ctx context.Context, turn uint64, prev, cur Status) {
	s.notifyMu.Lock()
	for s.notified+1 != turn {
		s.notifyCond.Wait()
	}
	s.notifyMu.Unlock()

	defer func() {
		s.notifyMu.Lock()
		s.notified = turn
		s.notifyCond.Broadcast()
		s.notifyMu.Unlock()
	}()

	for _, o := range s.observers {
		if err := o.Observe(ctx, prev, cur); err != nil {
			s.logger.Warn("observer failed", "run_id", cur.RunID, "error", err)
		}
	}
}

func (s *Scheduler) logTransition(prev, cur Status) {
	attrs := []any{
		"run_id", cur.RunID,
		"state", cur.State,
		"routed", cur.Result.RoutedViaOverlay,
		"duration", cur.Duration,
	}
	if cur.Err != nil {
		attrs = append(attrs, "error", cur.Err)
	}

	switch {
	case !prev.IsZero() && prev.State == cur.State:
		s.logger.Debug("refresh finished", attrs...)
	case cur.State == StateReauthRequired:
		s.logger.Error("endpoint rejected credentials, reconfiguration required", attrs...)
	case cur.State == StateUnavailable:
		s.logger.Warn("check unavailable", attrs...)
	default:
		s.logger.Info("check available", attrs...)
	}
}
