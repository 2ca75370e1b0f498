package audio

import "math"

// FadeCurveLen is the number of points in the precomputed fade-out curve.
const FadeCurveLen = 128

// EqualPowerFadeCurve returns an n-point gain ramp following cos(x·π/2) for
// x in [0, 1]: it starts at exactly 1.0 and eases to 0. An equal-power ramp
// keeps perceived loudness changing smoothly, unlike a linear fade which
// sounds like it drops faster at the end. The curve is non-increasing.
func EqualPowerFadeCurve(n int) []float32 {
	if n < 2 {
		n = 2
	}
	curve := make([]float32, n)
	for i := range n {
		x := float64(i) / float64(n-1)
		curve[i] = float32(math.Cos(x * math.Pi / 2))
	}
	return curve
}
