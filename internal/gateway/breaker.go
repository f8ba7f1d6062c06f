package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/shopline/internal/clock"
	"github.com/user/shopline/internal/metrics"
)

// BreakerState is the circuit breaker mode.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// BreakerConfig tunes the breaker.
type BreakerConfig struct {
	// Threshold is the failure count that opens the circuit. Rate limits,
	// server faults and timeouts use lower thresholds.
	Threshold      int
	OpenTimeout    time.Duration
	HalfOpenTrials int
}

// DefaultBreakerConfig returns threshold 3, a 30s open timeout and 2
// half-open trials.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:      3,
		OpenTimeout:    30 * time.Second,
		HalfOpenTrials: 2,
	}
}

// BreakerMetrics counts calls through the breaker.
type BreakerMetrics struct {
	Requests   int64 `json:"requests"`
	Successes  int64 `json:"successes"`
	Failures   int64 `json:"failures"`
	Rejections int64 `json:"rejections"`
}

// BreakerSnapshot is a point-in-time view of the breaker.
type BreakerSnapshot struct {
	State       string         `json:"state"`
	Failures    int            `json:"failures"`
	LastFailure time.Time      `json:"last_failure,omitzero"`
	Metrics     BreakerMetrics `json:"metrics"`
}

// Breaker isolates the engine after repeated failures.
type Breaker struct {
	mu             sync.Mutex
	cfg            BreakerConfig
	state          BreakerState
	failures       int
	lastFailure    time.Time
	openedAt       time.Time
	trials         int
	trialSuccesses int
	counters       BreakerMetrics

	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(cfg BreakerConfig, c clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = d.HalfOpenTrials
	}
	if c == nil {
		c = clock.Real{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		cfg:     cfg,
		clock:   c,
		metrics: m,
		logger:  logger.With("component", "breaker"),
	}
}

// Call runs fn if the breaker admits it and records the outcome. A
// rejected call returns *UnavailableError without running fn. fn's error
// is returned unchanged.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current state. The OPEN to HALF_OPEN move happens on
// the first call after the open timeout, so State can report OPEN past it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns the call counters.
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// Snapshot returns state, failure counter and metrics together.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		Metrics:     b.counters,
	}
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counters.Requests++
	if b.state == StateOpen {
		elapsed := b.clock.Now().Sub(b.openedAt)
		if elapsed < b.cfg.OpenTimeout {
			b.counters.Rejections++
			return &UnavailableError{RetryAfter: b.cfg.OpenTimeout - elapsed}
		}
		b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.trials >= b.cfg.HalfOpenTrials {
			b.counters.Rejections++
			return &UnavailableError{RetryAfter: time.Second}
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.counters.Successes++
		switch b.state {
		case StateClosed:
			if b.failures > 0 {
				b.failures--
			}
		case StateHalfOpen:
			b.trialSuccesses++
			if b.trialSuccesses >= b.cfg.HalfOpenTrials {
				b.transition(StateClosed)
			}
		}
		return
	}

	// A cancelled call says nothing about engine health; free its trial slot.
	if errors.Is(err, context.Canceled) {
		if b.state == StateHalfOpen && b.trials > 0 {
			b.trials--
		}
		return
	}

	now := b.clock.Now()
	b.counters.Failures++
	b.lastFailure = now
	kind := Classify(err)

	switch b.state {
	case StateHalfOpen:
		b.logger.Warn("half-open trial failed", "kind", kind, "error", err)
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold(kind) {
			b.logger.Warn("failure threshold reached", "kind", kind, "failures", b.failures, "error", err)
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) threshold(kind Kind) int {
	switch kind {
	case KindRateLimited:
		return 1
	case KindServerFault, KindTimeout:
		return min(2, b.cfg.Threshold)
	default:
		return b.cfg.Threshold
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.clock.Now()
	case StateHalfOpen:
		b.trials = 0
		b.trialSuccesses = 0
	case StateClosed:
		b.failures = 0
		b.trials = 0
		b.trialSuccesses = 0
	}
	b.metrics.BreakerState.Set(float64(to))
	b.metrics.BreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
	b.logger.Info("circuit breaker state change", "from", from.String(), "to", to.String())
}
