package playback

import (
	"math"
	"testing"
	"time"
)

func TestSoftGainAutomation(t *testing.T) {
	t.Parallel()

	g := NewSoftGraph()
	sg := g.NewGain().(*softGain)

	if got := sg.Value(); got != 1 {
		t.Fatalf("initial Value() = %v, want 1", got)
	}

	sg.SetValueAtTime(0.5, 10*time.Millisecond)
	sg.SetValueCurveAtTime([]float64{0.5, 0}, 20*time.Millisecond, 10*time.Millisecond)

	cases := []struct {
		at   time.Duration
		want float64
	}{
		{0, 1},
		{9 * time.Millisecond, 1},
		{10 * time.Millisecond, 0.5},
		{20 * time.Millisecond, 0.5},
		{25 * time.Millisecond, 0.25}, // halfway down the curve
		{30 * time.Millisecond, 0},
		{time.Second, 0},
	}
	for _, tc := range cases {
		if got := sg.valueAtLocked(tc.at); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("valueAt(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestSoftGainCancelScheduledValues(t *testing.T) {
	t.Parallel()

	g := NewSoftGraph()
	sg := g.NewGain().(*softGain)

	sg.SetValueAtTime(0.5, 10*time.Millisecond)
	sg.SetValueAtTime(0.1, 30*time.Millisecond)
	sg.CancelScheduledValues(20 * time.Millisecond)

	if got := sg.valueAtLocked(time.Second); got != 0.5 {
		t.Errorf("valueAt after cancel = %v, want 0.5", got)
	}
}

func TestSoftSourceStopTruncates(t *testing.T) {
	t.Parallel()

	g := NewSoftGraph()
	src := g.NewSource(make([]float32, 24000)).(*softSource)
	src.Connect(g.Destination())

	ended := false
	src.OnEnded(func() { ended = true })

	src.Start(0)
	src.Stop(10 * time.Millisecond)
	g.Advance(15 * time.Millisecond)

	if !ended {
		t.Error("OnEnded not fired after stop time passed")
	}
}
