package tools

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDashboardUnavailable is returned by breaker-guarded fetches while the
// breaker is open. The registry turns it into a spoken-friendly tool error
// instead of hammering a dashboard that is already down.
var ErrDashboardUnavailable = errors.New("dashboard temporarily unavailable")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed is the normal state — fetches are forwarded.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects fetches immediately with [ErrDashboardUnavailable]
	// until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe fetches through; if
	// they succeed the breaker closes, otherwise it re-opens.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive fetch failures before the
	// breaker opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before allowing probe
	// fetches. Default: 30s.
	Cooldown time.Duration

	// ProbeMax is the number of probe fetches allowed in the half-open
	// state before the breaker decides whether to close or re-open.
	// Default: 3.
	ProbeMax int
}

// Breaker shields the dashboard API from fetch storms when it is down.
// A run of failed fetches opens the breaker; tool calls then fail fast
// until a cooldown passes and probe fetches prove the dashboard healthy
// again.
//
// Safe for concurrent use.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	probeMax    int

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	lastFailure     time.Time
	probeCalls      int
	probeFails      int
}

// NewBreaker creates a [Breaker]. Zero-value config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeMax <= 0 {
		cfg.ProbeMax = 3
	}
	return &Breaker{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeMax:    cfg.ProbeMax,
		state:       BreakerClosed,
	}
}

// Do runs fetch if the breaker allows it. In the open state it returns
// [ErrDashboardUnavailable] without calling fetch. In the half-open state a
// limited number of probe fetches are permitted.
func (b *Breaker) Do(fetch func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("dashboard breaker probing after cooldown")
		} else {
			b.mu.Unlock()
			return ErrDashboardUnavailable
		}

	case BreakerHalfOpen:
		if b.probeCalls >= b.probeMax {
			// Probe budget exhausted; stay open.
			b.mu.Unlock()
			return ErrDashboardUnavailable
		}
	}

	probing := b.state == BreakerHalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fetch()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.recordFailure(probing)
	} else {
		b.recordSuccess(probing)
	}
	return err
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		// Any probe failure immediately re-opens.
		b.state = BreakerOpen
		b.consecutiveFail = b.maxFailures
		slog.Warn("dashboard breaker re-opened after failed probe")
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures {
		b.state = BreakerOpen
		slog.Warn("dashboard breaker opened",
			"consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	if probing {
		successes := b.probeCalls - b.probeFails
		if successes >= b.probeMax {
			b.state = BreakerClosed
			b.consecutiveFail = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("dashboard breaker closed after successful probes")
		}
		return
	}

	b.consecutiveFail = 0
}

// State returns the current [BreakerState]. If the breaker is open and the
// cooldown has elapsed, the returned state is [BreakerHalfOpen]; the actual
// transition happens on the next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [BreakerClosed], clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.consecutiveFail = 0
	b.probeCalls = 0
	b.probeFails = 0
}
