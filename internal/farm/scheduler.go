package farm

import (
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/farmd/internal/clock"
	"pkt.systems/farmd/internal/svcfields"
)

// DefaultTickInterval is the consumption period when none is configured.
const DefaultTickInterval = 2 * time.Second

// Scheduler drives the ledger's consumption ticks on a fixed period. It runs
// a single background goroutine with a deterministic stop.
type Scheduler struct {
	ledger   *Ledger
	interval time.Duration
	clk      clock.Clock
	logger   pslog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock injects a custom clock implementation.
func WithSchedulerClock(c clock.Clock) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithSchedulerLogger supplies a custom logger.
func WithSchedulerLogger(logger pslog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs a scheduler ticking ledger every interval.
func NewScheduler(ledger *Ledger, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	s := &Scheduler{
		ledger:   ledger,
		interval: interval,
		clk:      clock.Real{},
		logger:   pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = svcfields.WithSubsystem(s.logger, "farm.scheduler")
	return s
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	s.stop = stopCh
	s.done.Add(1)
	s.mu.Unlock()
	s.logger.Debug("scheduler started", "interval", s.interval)
	go func() {
		defer s.done.Done()
		for {
			select {
			case <-stopCh:
				return
			case <-s.clk.After(s.interval):
				s.ledger.Tick()
			}
		}
	}()
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	if stopCh != nil {
		close(stopCh)
		s.stop = nil
	}
	s.mu.Unlock()
	if stopCh != nil {
		s.done.Wait()
		s.logger.Debug("scheduler stopped")
	}
}
