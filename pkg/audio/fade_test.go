package audio_test

import (
	"testing"

	"github.com/awhina-ai/kaitiaki/pkg/audio"
)

func TestEqualPowerFadeCurve_Endpoints(t *testing.T) {
	t.Parallel()

	curve := audio.EqualPowerFadeCurve(audio.FadeCurveLen)
	if len(curve) != audio.FadeCurveLen {
		t.Fatalf("len = %d; want %d", len(curve), audio.FadeCurveLen)
	}
	if curve[0] != 1.0 {
		t.Errorf("curve[0] = %v; want 1.0", curve[0])
	}
	if last := curve[len(curve)-1]; last > 1e-6 {
		t.Errorf("curve[last] = %v; want ≈ 0", last)
	}
}

func TestEqualPowerFadeCurve_NonIncreasing(t *testing.T) {
	t.Parallel()

	curve := audio.EqualPowerFadeCurve(audio.FadeCurveLen)
	for i := 1; i < len(curve); i++ {
		if curve[i] > curve[i-1] {
			t.Fatalf("curve increases at %d: %v > %v", i, curve[i], curve[i-1])
		}
	}
}

func TestEqualPowerFadeCurve_MinimumLength(t *testing.T) {
	t.Parallel()

	curve := audio.EqualPowerFadeCurve(0)
	if len(curve) < 2 {
		t.Fatalf("len = %d; want at least 2", len(curve))
	}
	if curve[0] != 1.0 {
		t.Errorf("curve[0] = %v; want 1.0", curve[0])
	}
}
