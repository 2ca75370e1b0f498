// Package audio defines the sample formats and codec helpers shared by the
// Kaitiaki voice pipeline.
//
// The pipeline works on single-channel float32 sample blocks at a fixed
// rate. On the wire, audio travels as base64-encoded little-endian PCM16
// embedded in JSON envelopes; [EncodeWire] and [DecodeWire] implement that
// contract. The conversion is intentionally asymmetric (positive samples
// scale by 32767, negative by 32768) to stay bit-exact with the remote
// speech service.
package audio

import "time"

// SampleRate is the fixed sample rate of the voice pipeline in Hz. Both the
// capture path and the synthesised output use this rate; there is no
// resampling stage.
const SampleRate = 24000

// DefaultBlockSize is the number of samples delivered per capture block.
const DefaultBlockSize = 4096

// Frame is a single block of mono audio captured from the input device.
// Frames are ephemeral: they are converted to a wire frame and discarded
// immediately after transmission, never persisted.
type Frame struct {
	// Samples holds mono float32 samples in [-1, 1].
	Samples []float32

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of n samples at [SampleRate].
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
