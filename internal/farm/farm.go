// Package farm implements the shared resource pool: a mutex-guarded ledger of
// accumulated food and water, and the periodic scheduler that consumes it.
package farm

import (
	"math/rand"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/clock"
	"pkt.systems/farmd/internal/svcfields"
)

// Config tunes the farm state machine. Zero values are replaced by defaults in
// NewLedger.
type Config struct {
	// BaseRate is the floor of the consumption coefficient.
	BaseRate float64
	// GrowthRate scales how fast the coefficient grows with farm size.
	GrowthRate float64
	// MaxCoefficient caps the consumption coefficient.
	MaxCoefficient float64
	// MaxFailRounds is the consecutive-failure threshold that collapses the farm.
	MaxFailRounds int
	// MaxFarmSize is the farm size at which the selling lockout begins.
	MaxFarmSize float64
	// SellingDuration is the length of the selling lockout window.
	SellingDuration time.Duration
}

// Defaults for Config fields.
const (
	DefaultBaseRate        = 1.0
	DefaultGrowthRate      = 0.5
	DefaultMaxCoefficient  = 2.0
	DefaultMaxFailRounds   = 2
	DefaultMaxFarmSize     = 1.5
	DefaultSellingDuration = 5 * time.Second
)

func (c *Config) applyDefaults() {
	if c.BaseRate <= 0 {
		c.BaseRate = DefaultBaseRate
	}
	if c.GrowthRate <= 0 {
		c.GrowthRate = DefaultGrowthRate
	}
	if c.MaxCoefficient <= 0 {
		c.MaxCoefficient = DefaultMaxCoefficient
	}
	if c.MaxFailRounds <= 0 {
		c.MaxFailRounds = DefaultMaxFailRounds
	}
	if c.MaxFarmSize <= 0 {
		c.MaxFarmSize = DefaultMaxFarmSize
	}
	if c.SellingDuration <= 0 {
		c.SellingDuration = DefaultSellingDuration
	}
}

// Metrics receives farm state transitions. Implementations must be safe for
// concurrent use; they are invoked under the ledger lock and must not block.
type Metrics interface {
	SubmissionAccepted(kind Kind, amount float64)
	SubmissionRejected(kind Kind, reason string)
	Consumed(kind Kind, amount float64)
	ConsumptionFailed(kind Kind)
	Collapsed()
	SellingStarted()
}

// NopMetrics discards all metric events.
type NopMetrics struct{}

func (NopMetrics) SubmissionAccepted(Kind, float64) {}
func (NopMetrics) SubmissionRejected(Kind, string)  {}
func (NopMetrics) Consumed(Kind, float64)           {}
func (NopMetrics) ConsumptionFailed(Kind)           {}
func (NopMetrics) Collapsed()                       {}
func (NopMetrics) SellingStarted()                  {}

// Ledger is the authoritative farm state. Submit, Tick, and Snapshot all
// serialize through a single mutex; the lock is never held across a wait.
type Ledger struct {
	cfg     Config
	clk     clock.Clock
	logger  pslog.Logger
	metrics Metrics
	draw    func() float64

	mu sync.Mutex
	st state
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clk = c
		}
	}
}

// WithLogger supplies a custom logger.
func WithLogger(logger pslog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithDraw overrides the uniform [0,100) random source used to compute
// candidate consumption. Intended for deterministic tests.
func WithDraw(draw func() float64) Option {
	return func(l *Ledger) {
		if draw != nil {
			l.draw = draw
		}
	}
}

// NewLedger constructs a farm ledger with cfg, filling unset fields with
// defaults.
func NewLedger(cfg Config, opts ...Option) *Ledger {
	cfg.applyDefaults()
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	var srcMu sync.Mutex
	l := &Ledger{
		cfg:     cfg,
		clk:     clock.Real{},
		logger:  pslog.NoopLogger(),
		metrics: NopMetrics{},
		draw: func() float64 {
			srcMu.Lock()
			defer srcMu.Unlock()
			return src.Float64() * 100
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = svcfields.WithSubsystem(l.logger, "farm.ledger")
	l.st.reset(cfg.BaseRate)
	return l
}

// Submit credits amount to the kind's accumulator. It rejects with
// RejectReasonSelling while the selling lockout is active and accepts
// unconditionally otherwise; negative amounts are allowed and decrease the
// balance.
func (l *Ledger) Submit(kind Kind, amount float64) api.SubmitResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.st.selling {
		l.metrics.SubmissionRejected(kind, RejectReasonSelling)
		l.logger.Debug("submission rejected", "kind", string(kind), "amount", amount, "reason", RejectReasonSelling)
		return api.SubmitResult{IsAccepted: false, FailReason: RejectReasonSelling}
	}
	l.st.addBalance(kind, amount)
	l.metrics.SubmissionAccepted(kind, amount)
	l.logger.Debug("submission accepted", "kind", string(kind), "amount", amount, "balance", l.st.balance(kind))
	return api.SubmitResult{IsAccepted: true}
}

// Snapshot returns a point-in-time copy of the farm state.
func (l *Ledger) Snapshot() api.FarmStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := api.FarmStatus{
		AccumulatedFood:        l.st.accumulatedFood,
		AccumulatedWater:       l.st.accumulatedWater,
		FarmSize:               l.st.farmSize,
		ConsumptionCoefficient: l.st.coefficient,
		TotalConsumed:          l.st.totalConsumed,
		StarveRounds:           l.st.starveRounds,
		ThirstRounds:           l.st.thirstRounds,
		Selling:                l.st.selling,
	}
	if l.st.selling {
		status.SellingUntil = l.st.sellingUntil.Unix()
	}
	return status
}

// Tick runs one consumption round. The scheduler calls it on a fixed period;
// tests may call it directly.
func (l *Ledger) Tick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()

	if l.st.selling {
		if !now.Before(l.st.sellingUntil) {
			l.st.reset(l.cfg.BaseRate)
			l.logger.Info("selling window elapsed, farm reset")
		}
		return
	}

	l.consume(Food)
	l.consume(Water)
	l.st.recomputeDerived(l.cfg.BaseRate, l.cfg.GrowthRate, l.cfg.MaxCoefficient)

	if l.st.starveRounds >= l.cfg.MaxFailRounds || l.st.thirstRounds >= l.cfg.MaxFailRounds {
		l.st.reset(l.cfg.BaseRate)
		l.metrics.Collapsed()
		l.logger.Info("farm collapsed after sustained scarcity")
		return
	}

	if l.st.farmSize >= l.cfg.MaxFarmSize {
		l.st.selling = true
		l.st.sellingUntil = now.Add(l.cfg.SellingDuration)
		l.metrics.SellingStarted()
		l.logger.Info("farm entered selling mode",
			"farm_size", l.st.farmSize,
			"until", l.st.sellingUntil,
		)
	}
}

// consume draws a candidate amount for kind and applies it. A draw that meets
// or exceeds the balance counts as a failed round and leaves the balance
// untouched; a smaller draw is subtracted and clears the failure counter.
func (l *Ledger) consume(kind Kind) {
	candidate := l.draw() * l.st.coefficient
	balance := l.st.balance(kind)
	if candidate >= balance {
		l.st.setFailRounds(kind, l.st.failRounds(kind)+1)
		l.metrics.ConsumptionFailed(kind)
		l.logger.Debug("consumption failed",
			"kind", string(kind),
			"candidate", candidate,
			"balance", balance,
			"fail_rounds", l.st.failRounds(kind),
		)
		return
	}
	l.st.addBalance(kind, -candidate)
	l.st.setFailRounds(kind, 0)
	l.st.totalConsumed += candidate
	l.metrics.Consumed(kind, candidate)
	l.logger.Debug("consumed",
		"kind", string(kind),
		"amount", candidate,
		"balance", l.st.balance(kind),
	)
}
