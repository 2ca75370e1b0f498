// Package capture implements the microphone side of the Kaitiaki voice
// pipeline: it acquires an input device, converts each fixed-size sample
// block to the base64 PCM16 wire encoding, maintains the live level meter,
// and fans frames out to registered listeners.
//
// The device itself is abstracted behind the [Device] interface so that
// platform adapters (and tests) can supply their own implementation.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/awhina-ai/kaitiaki/pkg/audio"
)

// ErrDeviceUnavailable indicates that the input device could not be
// acquired: permission was denied or no device exists. Device
// implementations wrap this sentinel so callers can match with [errors.Is].
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// Constraints describes the input configuration requested from a [Device].
type Constraints struct {
	// SampleRate in Hz.
	SampleRate int

	// BlockSize is the number of samples delivered per block.
	BlockSize int

	// EchoCancellation, NoiseSuppression and AutoGainControl request the
	// corresponding platform input processing.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Stream is an open input stream delivering fixed-size sample blocks.
//
// The Blocks channel is closed by the implementation when the stream ends,
// either because [Stream.Close] was called or because the device was lost.
type Stream interface {
	// Blocks returns the channel on which mono float32 sample blocks arrive.
	Blocks() <-chan []float32

	// Close releases the device. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Device acquires an exclusive input stream. Implementations must return an
// error wrapping [ErrDeviceUnavailable] when permission is denied or no
// device exists.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// FrameFunc receives one wire-encoded frame per capture block. It is called
// synchronously from the capture loop and must not block: no network I/O,
// no large allocations.
type FrameFunc func(wire string)

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithBlockSize overrides the capture block size. The default is
// [audio.DefaultBlockSize].
func WithBlockSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.blockSize = n
		}
	}
}

// Engine owns one input device for the duration of a recording session and
// converts its blocks to wire frames.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	device    Device
	blockSize int

	mu        sync.Mutex
	stream    Stream
	listeners map[int]FrameFunc
	nextID    int

	// level holds the current meter value as math.Float64bits.
	level atomic.Uint64

	wg sync.WaitGroup
}

// New creates an Engine reading from device. The engine does not acquire
// the device until [Engine.Start].
func New(device Device, opts ...Option) *Engine {
	e := &Engine{
		device:    device,
		blockSize: audio.DefaultBlockSize,
		listeners: make(map[int]FrameFunc),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start acquires the input device with echo cancellation, noise suppression
// and automatic gain control at the pipeline sample rate, and begins
// invoking registered frame listeners once per block. Starting an engine
// that is already capturing is a no-op — the existing device handle is
// kept, a second one is never acquired.
//
// Returns an error wrapping [ErrDeviceUnavailable] when the device cannot
// be acquired; the engine stays stopped and may be started again.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		return nil
	}

	stream, err := e.device.Open(ctx, Constraints{
		SampleRate:       audio.SampleRate,
		BlockSize:        e.blockSize,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		return fmt.Errorf("capture: open device: %w", err)
	}

	e.stream = stream
	e.wg.Add(1)
	go e.run(stream)
	return nil
}

// Stop releases the device and resets the level meter to zero. Calling
// Stop when not capturing is a no-op, not an error.
func (e *Engine) Stop() {
	e.mu.Lock()
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()

	if stream == nil {
		return
	}
	_ = stream.Close()
	e.wg.Wait()
	e.level.Store(math.Float64bits(0))
}

// OnFrame registers fn to receive wire-encoded frames and returns a detach
// function that removes the registration. Multiple listeners may be active
// at once; each receives every frame.
func (e *Engine) OnFrame(fn FrameFunc) (detach func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Level returns the current microphone level in [0, 1]: the RMS of the most
// recent block scaled for display. Zero when not capturing.
func (e *Engine) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

// Capturing reports whether the engine currently owns an input stream.
func (e *Engine) Capturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream != nil
}

// run drains the stream until it closes. Each block is processed
// synchronously: level update, PCM16 quantization, base64 encoding,
// listener fan-out. The per-block work stays allocation-light so the
// upstream capture cadence is never blocked.
func (e *Engine) run(stream Stream) {
	defer e.wg.Done()

	for block := range stream.Blocks() {
		e.level.Store(math.Float64bits(audio.Level(block)))

		wire := audio.EncodeWire(block)

		e.mu.Lock()
		fns := make([]FrameFunc, 0, len(e.listeners))
		for _, fn := range e.listeners {
			fns = append(fns, fn)
		}
		e.mu.Unlock()

		for _, fn := range fns {
			fn(wire)
		}
	}
}
