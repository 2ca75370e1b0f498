package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awhina-ai/kaitiaki/pkg/audio"
)

const (
	// DefaultFadeDuration is how long the barge-in fade-out takes. Short
	// enough to feel instant, long enough to avoid an audible click.
	DefaultFadeDuration = 15 * time.Millisecond

	// stopGuard is added after the fade before sources are hard-stopped,
	// so the final curve point has rendered before the buffer is cut.
	stopGuard = time.Millisecond
)

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithFadeDuration overrides the barge-in fade length.
func WithFadeDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fade = d
		}
	}
}

// chunk is one scheduled buffer with its dedicated gain node.
type chunk struct {
	id   uint64
	src  Source
	gain Gain
}

// Engine schedules wire-encoded audio chunks back-to-back on a [Graph] and
// can cut the whole queue with an equal-power fade.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	graph Graph
	fade  time.Duration

	mu            sync.Mutex
	master        Gain
	active        map[uint64]*chunk
	nextID        uint64
	cursor        time.Duration
	samplesPlayed int64
	muted         bool
}

// New creates an Engine on graph. The shared master gain is created and
// connected to the graph destination immediately.
func New(graph Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:  graph,
		fade:   DefaultFadeDuration,
		active: make(map[uint64]*chunk),
	}
	for _, o := range opts {
		o(e)
	}
	e.master = graph.NewGain()
	e.master.Connect(graph.Destination())
	return e
}

// Resume starts the underlying graph if the platform created it suspended.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.graph.Resume(ctx); err != nil {
		return fmt.Errorf("playback: resume graph: %w", err)
	}
	return nil
}

// PlayChunk decodes one wire frame and schedules it to start exactly when
// the previously queued chunk ends, or immediately when the queue is empty
// or has fallen behind the clock. Chunks that decode to zero samples are
// dropped silently.
func (e *Engine) PlayChunk(wire string) error {
	samples, err := audio.DecodeWire(wire)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := &chunk{
		id:   e.nextID,
		src:  e.graph.NewSource(samples),
		gain: e.graph.NewGain(),
	}
	e.nextID++

	c.src.Connect(c.gain)
	c.gain.Connect(e.master)

	start := e.graph.Now()
	if e.cursor > start {
		start = e.cursor
	}
	c.src.Start(start)
	e.cursor = start + audio.Duration(len(samples))

	// The position counter is credited up front: it approximates elapsed
	// playback for display and keeps growing even when a chunk is later
	// cut short by a stop.
	e.samplesPlayed += int64(len(samples))

	e.active[c.id] = c
	id := c.id
	c.src.OnEnded(func() { e.chunkEnded(id) })
	return nil
}

// chunkEnded removes a chunk that ran to completion from the active set.
// Chunks removed by a stop have already left the set.
func (e *Engine) chunkEnded(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// StopAllImmediate cuts all queued and playing chunks at the current graph
// time with no fade. Safe to call with nothing playing.
func (e *Engine) StopAllImmediate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.graph.Now()
	for id, c := range e.active {
		c.gain.CancelScheduledValues(now)
		c.src.Stop(now)
		delete(e.active, id)
	}
	e.cursor = 0
}

// StopAllWithFade ramps every playing chunk down an equal-power curve and
// stops it just past the end of the ramp, then blocks until the ramp has
// completed. All chunks fade against the same clock instant so the queue
// goes silent together.
//
// Returns ctx.Err() if the context ends before cleanup finishes; the fade
// itself is already scheduled at that point and still completes.
func (e *Engine) StopAllWithFade(ctx context.Context) error {
	e.mu.Lock()
	if len(e.active) == 0 {
		e.cursor = 0
		e.mu.Unlock()
		return nil
	}

	now := e.graph.Now()
	stopAt := now + e.fade + stopGuard
	base := audio.EqualPowerFadeCurve(audio.FadeCurveLen)

	for id, c := range e.active {
		level := c.gain.Value()
		curve := make([]float64, len(base))
		for i, v := range base {
			curve[i] = float64(v) * level
		}
		c.gain.CancelScheduledValues(now)
		c.gain.SetValueCurveAtTime(curve, now, e.fade)
		c.src.Stop(stopAt)
		delete(e.active, id)
	}
	e.cursor = 0
	e.mu.Unlock()

	select {
	case <-time.After(e.fade + stopGuard):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetMuted ramps the master gain to silence, or back to unity, over the
// fade duration. Chunk scheduling continues while muted.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.muted == muted {
		return
	}
	e.muted = muted

	now := e.graph.Now()
	target := 1.0
	if muted {
		target = 0.0
	}
	from := e.master.Value()
	e.master.CancelScheduledValues(now)
	e.master.SetValueCurveAtTime([]float64{from, target}, now, e.fade)
}

// Muted reports whether the master gain is ramped to silence.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// ActiveChunks returns the number of chunks scheduled or playing.
func (e *Engine) ActiveChunks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// PlaybackPositionMs returns the total duration of all scheduled chunks in
// milliseconds. The counter only ever grows, even across stops; it is an
// approximation for display, not a wall-clock playback position.
func (e *Engine) PlaybackPositionMs() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.samplesPlayed) / float64(audio.SampleRate) * 1000
}
