// Package session orchestrates one voice conversation: it owns the
// microphone capture engine, the playback engine and the relay transport,
// and wires the three together for the duration of a session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awhina-ai/kaitiaki/pkg/audio/capture"
	"github.com/awhina-ai/kaitiaki/pkg/realtime"
)

// bargeInTimeout bounds how long a barge-in may hold the receive loop
// while the fade completes.
const bargeInTimeout = 250 * time.Millisecond

// Capture is the microphone side of the pipeline.
type Capture interface {
	Start(ctx context.Context) error
	Stop()
	OnFrame(fn capture.FrameFunc) (detach func())
	Level() float64
}

// Playback is the speaker side of the pipeline.
type Playback interface {
	Resume(ctx context.Context) error
	PlayChunk(wire string) error
	StopAllWithFade(ctx context.Context) error
	StopAllImmediate()
	SetMuted(muted bool)
}

// Transport is the duplex relay connection.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	SendAudio(wire string)
	OnAudioDelta(fn func(wire string))
	OnBargeIn(fn func())
	OnTranscript(fn func(realtime.Transcript))
	OnError(fn func(error))
	State() realtime.State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator ties capture, playback and transport into one session.
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	capture   Capture
	playback  Playback
	transport Transport
	logger    *slog.Logger

	muted atomic.Bool

	mu           sync.Mutex
	active       bool
	startedAt    time.Time
	detach       func()
	transcript   []realtime.Transcript
	onTranscript func(realtime.Transcript)
	onError      func(error)
}

// New creates an Orchestrator over the three pipeline components. Nothing
// runs until [Orchestrator.StartSession].
func New(mic Capture, play Playback, transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		capture:   mic,
		playback:  play,
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnTranscript registers a hook receiving each finalized transcript after
// it has been appended to the session log.
func (o *Orchestrator) OnTranscript(fn func(realtime.Transcript)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTranscript = fn
}

// OnError registers a hook for transport errors.
func (o *Orchestrator) OnError(fn func(error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = fn
}

// StartSession brings the pipeline up: playback resumed, transport
// handlers registered, relay connected, microphone acquired, and frame
// flow attached. Starting an active session is a no-op.
//
// The barge-in handler is registered before the transport connects, so the
// very first speech_started event already finds it in place.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return nil
	}
	// A fresh session starts with an empty conversation log and a fresh
	// timer.
	o.transcript = nil
	o.startedAt = time.Now()
	o.mu.Unlock()

	o.transport.OnBargeIn(o.bargeIn)
	o.transport.OnAudioDelta(func(wire string) {
		if err := o.playback.PlayChunk(wire); err != nil {
			o.logger.Warn("dropping undecodable audio chunk", "err", err)
		}
	})
	o.transport.OnTranscript(o.appendTranscript)
	o.transport.OnError(func(err error) {
		o.logger.Error("transport error", "err", err)
		o.mu.Lock()
		handler := o.onError
		o.mu.Unlock()
		if handler != nil {
			handler(err)
		}
	})

	if err := o.playback.Resume(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := o.transport.Connect(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := o.capture.Start(ctx); err != nil {
		o.transport.Close()
		return fmt.Errorf("session: %w", err)
	}

	// Frames captured while muted keep the level meter alive but never
	// leave the process.
	detach := o.capture.OnFrame(func(wire string) {
		if o.muted.Load() {
			return
		}
		o.transport.SendAudio(wire)
	})

	o.mu.Lock()
	o.active = true
	o.detach = detach
	o.mu.Unlock()

	o.logger.Info("voice session started")
	return nil
}

// EndSession tears the pipeline down: frame flow detached, microphone
// released, playback cut, transport closed. Idempotent.
func (o *Orchestrator) EndSession() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.active = false
	detach := o.detach
	o.detach = nil
	o.mu.Unlock()

	if detach != nil {
		detach()
	}
	o.capture.Stop()
	if err := o.transport.Close(); err != nil {
		o.logger.Warn("transport close", "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), bargeInTimeout)
	defer cancel()
	if err := o.playback.StopAllWithFade(ctx); err != nil {
		o.logger.Warn("teardown fade interrupted", "err", err)
	}
	o.logger.Info("voice session ended")
}

// ToggleMute flips the mute state and returns the new value. Muting acts as
// a user interrupt: queued playback is fade-stopped, the master gain goes
// to silence, and microphone frames stop leaving the process. Capture
// itself keeps running so the level meter stays live.
func (o *Orchestrator) ToggleMute() bool {
	muted := !o.muted.Load()
	o.muted.Store(muted)
	o.playback.SetMuted(muted)
	if muted {
		ctx, cancel := context.WithTimeout(context.Background(), bargeInTimeout)
		defer cancel()
		if err := o.playback.StopAllWithFade(ctx); err != nil {
			o.logger.Warn("mute fade interrupted", "err", err)
		}
	}
	o.logger.Info("mute toggled", "muted", muted)
	return muted
}

// Muted reports the current mute state.
func (o *Orchestrator) Muted() bool {
	return o.muted.Load()
}

// Active reports whether a session is running.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// SessionDuration returns how long the current session has been running,
// or zero when no session has started.
func (o *Orchestrator) SessionDuration() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startedAt.IsZero() {
		return 0
	}
	return time.Since(o.startedAt)
}

// Level returns the current microphone level for display.
func (o *Orchestrator) Level() float64 {
	return o.capture.Level()
}

// TranscriptLog returns a copy of the conversation so far, in arrival
// order.
func (o *Orchestrator) TranscriptLog() []realtime.Transcript {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]realtime.Transcript, len(o.transcript))
	copy(out, o.transcript)
	return out
}

// bargeIn runs synchronously in the transport receive loop, so the fade is
// fully scheduled before any later audio delta can reach playback.
func (o *Orchestrator) bargeIn() {
	ctx, cancel := context.WithTimeout(context.Background(), bargeInTimeout)
	defer cancel()
	if err := o.playback.StopAllWithFade(ctx); err != nil {
		o.logger.Warn("barge-in fade interrupted", "err", err)
	}
}

func (o *Orchestrator) appendTranscript(tr realtime.Transcript) {
	o.mu.Lock()
	o.transcript = append(o.transcript, tr)
	hook := o.onTranscript
	o.mu.Unlock()

	if hook != nil {
		hook(tr)
	}
}
