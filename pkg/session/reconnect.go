package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// DialFunc produces a fresh relay transport. Each call must return a new
// connection; relay channels are single-use.
type DialFunc func(ctx context.Context) (Transport, error)

// Reconnector monitors the relay transport and automatically redials after
// an abnormal drop.
//
// Callers obtain the initial transport via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that watches for
// disconnections. When a drop is signalled (via
// [Reconnector.NotifyDisconnect], typically from the orchestrator's error
// hook), the monitor redials with exponential backoff and invokes the
// configured OnReconnect callback with the new transport so the session can
// be rebuilt around it.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dial        DialFunc
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(Transport)

	mu           sync.Mutex
	transport    Transport
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dial establishes a new relay transport.
	Dial DialFunc

	// MaxRetries is the maximum number of redial attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful redial with the new
	// transport. May be nil.
	OnReconnect func(Transport)
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		dial:         cfg.Dial,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect performs the initial dial to the relay.
func (r *Reconnector) Connect(ctx context.Context) (Transport, error) {
	t, err := r.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial dial: %w", err)
	}

	r.mu.Lock()
	r.transport = t
	r.mu.Unlock()

	return t, nil
}

// Monitor starts monitoring the transport in a background goroutine.
// If a disconnection is signalled via [Reconnector.NotifyDisconnect], it
// redials with exponential backoff.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the transport has been lost
// and a redial should be attempted. Safe to call multiple times; only
// the first call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and closes the current transport.
// Safe to call multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	t := r.transport
	r.transport = nil
	r.mu.Unlock()

	if t != nil {
		return t.Close()
	}
	return nil
}

// Transport returns the current active transport. May return nil during
// reconnection.
func (r *Reconnector) Transport() Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport
}

// monitorLoop waits for disconnect notifications and attempts redials.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to redial with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("attempting relay reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		t, err := r.dial(ctx)
		if err == nil {
			r.mu.Lock()
			old := r.transport
			r.transport = t
			r.mu.Unlock()

			// Close the old (failed) transport to release its resources.
			if old != nil {
				_ = old.Close()
			}

			slog.Info("relay reconnection successful", "attempt", attempt)

			if r.onReconnect != nil {
				r.onReconnect(t)
			}
			return
		}

		slog.Warn("relay reconnection attempt failed",
			"attempt", attempt,
			"error", err,
		)

		// Wait before retrying.
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("relay reconnection failed after max retries",
		"max_retries", r.maxRetries,
	)
}
