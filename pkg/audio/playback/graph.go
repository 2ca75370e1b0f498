// Package playback schedules decoded audio chunks for gapless output and
// implements the fast fade-out used when the listener starts speaking over
// the assistant.
//
// Output is modelled as a small processing graph: each chunk gets its own
// source and gain node, all routed through a shared master gain. The graph
// itself is an interface so the engine can drive a platform audio backend
// in production and the in-process [SoftGraph] in tests.
package playback

import (
	"context"
	"time"
)

// Node is a connectable element of the output graph.
type Node interface {
	// Connect routes this node's output into dst.
	Connect(dst Node)
}

// Source plays a fixed buffer of mono samples exactly once.
type Source interface {
	Node

	// Start schedules playback to begin at the given graph time. Times in
	// the past play immediately.
	Start(at time.Duration)

	// Stop ends playback at the given graph time, truncating the buffer if
	// it has not finished.
	Stop(at time.Duration)

	// OnEnded registers fn to run once the source has finished, whether it
	// ran to completion or was stopped early.
	OnEnded(fn func())
}

// Gain scales the signal passing through it. Automation events are
// scheduled against the graph clock.
type Gain interface {
	Node

	// Value returns the gain at the current graph time, including any
	// automation in effect.
	Value() float64

	// SetValueAtTime schedules an instantaneous change to v at the given
	// graph time.
	SetValueAtTime(v float64, at time.Duration)

	// SetValueCurveAtTime schedules the gain to follow curve over dur,
	// starting at the given graph time. Points between curve entries are
	// interpolated linearly.
	SetValueCurveAtTime(curve []float64, at, dur time.Duration)

	// CancelScheduledValues removes all automation scheduled at or after
	// the given graph time.
	CancelScheduledValues(at time.Duration)
}

// Graph is an output backend: a clock, a destination, and node factories.
type Graph interface {
	// Now returns the current graph time. All scheduling uses this single
	// clock so that concurrent automation stays sample-aligned.
	Now() time.Duration

	// Resume starts the graph if the platform created it suspended.
	// Resuming a running graph is a no-op.
	Resume(ctx context.Context) error

	// NewSource creates a source for the given sample buffer.
	NewSource(samples []float32) Source

	// NewGain creates a gain node with an initial value of 1.
	NewGain() Gain

	// Destination returns the terminal output node.
	Destination() Node

	// Close releases the backend. The graph is unusable afterwards.
	Close() error
}
