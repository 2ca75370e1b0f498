package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// EncodePCM16 quantizes float32 samples to little-endian signed 16-bit PCM.
// Samples are clamped to [-1, 1] first. Positive values scale by 32767 and
// negative values by 32768; the asymmetry matches the int16 range and the
// encoding used by the remote speech service, so it must not be "fixed" to a
// symmetric scale.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s >= 0 {
			v = int16(s * 32767)
		} else {
			v = int16(s * 32768)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM bytes to float32
// samples in [-1, 1] by dividing by 32768. A trailing odd byte is dropped.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out
}

// EncodeWire converts a block of float32 samples to the base64 PCM16LE wire
// encoding used inside JSON envelopes.
func EncodeWire(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeWire decodes a base64 PCM16LE wire frame back to float32 samples.
func DecodeWire(encoded string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("audio: decode wire frame: %w", err)
	}
	return DecodePCM16(pcm), nil
}

// RMS computes the root-mean-square amplitude of a sample block. Returns 0
// for an empty block.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// levelGain scales the raw RMS into a UI-friendly range before clamping.
const levelGain = 10

// Level maps a sample block to the microphone level meter value in [0, 1]:
// RMS scaled by a fixed gain and clamped. Purely for display; not part of
// the wire contract.
func Level(samples []float32) float64 {
	l := RMS(samples) * levelGain
	if l > 1 {
		return 1
	}
	return l
}
