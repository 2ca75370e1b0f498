package playback

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/awhina-ai/kaitiaki/pkg/audio"
)

// SoftGraph is an in-process [Graph] with a manually advanced clock. It
// renders sample-accurate PCM16 to an optional output callback, which makes
// scheduling and fade behavior fully deterministic under test.
type SoftGraph struct {
	mu      sync.Mutex
	pos     int64 // absolute sample position
	running bool
	closed  bool
	sources []*softSource
	dest    *softDest
	out     func([]int16)
}

// NewSoftGraph creates a suspended graph at time zero.
func NewSoftGraph() *SoftGraph {
	return &SoftGraph{dest: &softDest{}}
}

// SetOutput registers fn to receive rendered PCM16 blocks from [SoftGraph.Advance].
func (g *SoftGraph) SetOutput(fn func([]int16)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.out = fn
}

func (g *SoftGraph) Now() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sampleTime(g.pos)
}

func (g *SoftGraph) Resume(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = true
	return nil
}

// Running reports whether Resume has been called.
func (g *SoftGraph) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *SoftGraph) NewSource(samples []float32) Source {
	s := &softSource{g: g, samples: samples}
	g.mu.Lock()
	g.sources = append(g.sources, s)
	g.mu.Unlock()
	return s
}

func (g *SoftGraph) NewGain() Gain {
	return &softGain{g: g}
}

func (g *SoftGraph) Destination() Node { return g.dest }

func (g *SoftGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.sources = nil
	return nil
}

// Advance moves the clock forward by d, mixing all active sources sample
// by sample. Ended callbacks fire after the clock has moved past a
// source's final sample.
func (g *SoftGraph) Advance(d time.Duration) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}

	n := durationSamples(d)
	buf := make([]int16, n)
	var ended []func()

	for i := int64(0); i < n; i++ {
		t := g.pos
		at := sampleTime(t)
		var mix float64
		for _, s := range g.sources {
			v, done := s.sampleAt(t, at)
			mix += v
			if done && !s.ended {
				s.ended = true
				ended = append(ended, s.onEnded...)
			}
		}
		buf[i] = quantize(mix)
		g.pos++
	}

	// Sources whose last sample landed exactly on the new clock position.
	at := g.pos
	for _, s := range g.sources {
		if !s.ended && s.started && at >= s.endSample() {
			s.ended = true
			ended = append(ended, s.onEnded...)
		}
	}

	out := g.out
	g.mu.Unlock()

	if out != nil && n > 0 {
		out(buf)
	}
	for _, fn := range ended {
		fn()
	}
}

func quantize(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v >= 0 {
		return int16(v * 32767)
	}
	return int16(v * 32768)
}

func durationSamples(d time.Duration) int64 {
	return (int64(d)*int64(audio.SampleRate) + int64(time.Second)/2) / int64(time.Second)
}

func sampleTime(n int64) time.Duration {
	return time.Duration(n * int64(time.Second) / int64(audio.SampleRate))
}

type softDest struct{}

func (*softDest) Connect(Node) {}

type softSource struct {
	g       *SoftGraph
	samples []float32
	next    Node

	started     bool
	startSample int64
	stopSet     bool
	stopSample  int64
	ended       bool
	onEnded     []func()
}

func (s *softSource) Connect(dst Node) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.next = dst
}

func (s *softSource) Start(at time.Duration) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.startSample = durationSamples(at)
	if s.startSample < s.g.pos {
		s.startSample = s.g.pos
	}
}

func (s *softSource) Stop(at time.Duration) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	stop := durationSamples(at)
	if stop < s.g.pos {
		stop = s.g.pos
	}
	if !s.stopSet || stop < s.stopSample {
		s.stopSet = true
		s.stopSample = stop
	}
}

func (s *softSource) OnEnded(fn func()) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.onEnded = append(s.onEnded, fn)
}

// endSample returns the first sample position past the source's output.
// Callers hold the graph lock.
func (s *softSource) endSample() int64 {
	end := s.startSample + int64(len(s.samples))
	if s.stopSet && s.stopSample < end {
		end = s.stopSample
	}
	return end
}

// sampleAt returns the source's contribution at absolute sample t, and
// whether the source finished strictly before t. Callers hold the graph
// lock.
func (s *softSource) sampleAt(t int64, at time.Duration) (float64, bool) {
	if !s.started || s.ended {
		return 0, false
	}
	end := s.endSample()
	if t >= end {
		return 0, true
	}
	if t < s.startSample {
		return 0, false
	}

	v := float64(s.samples[t-s.startSample])
	for n := s.next; n != nil; {
		g, ok := n.(*softGain)
		if !ok {
			break
		}
		v *= g.valueAtLocked(at)
		n = g.next
	}
	return v, false
}

type gainEvent struct {
	at    time.Duration
	value float64
	curve []float64
	dur   time.Duration
}

type softGain struct {
	g      *SoftGraph
	next   Node
	events []gainEvent
}

func (sg *softGain) Connect(dst Node) {
	sg.g.mu.Lock()
	defer sg.g.mu.Unlock()
	sg.next = dst
}

func (sg *softGain) Value() float64 {
	sg.g.mu.Lock()
	defer sg.g.mu.Unlock()
	return sg.valueAtLocked(sampleTime(sg.g.pos))
}

func (sg *softGain) SetValueAtTime(v float64, at time.Duration) {
	sg.insert(gainEvent{at: at, value: v})
}

func (sg *softGain) SetValueCurveAtTime(curve []float64, at, dur time.Duration) {
	c := make([]float64, len(curve))
	copy(c, curve)
	sg.insert(gainEvent{at: at, curve: c, dur: dur})
}

func (sg *softGain) CancelScheduledValues(at time.Duration) {
	sg.g.mu.Lock()
	defer sg.g.mu.Unlock()
	kept := sg.events[:0]
	for _, ev := range sg.events {
		if ev.at < at {
			kept = append(kept, ev)
		}
	}
	sg.events = kept
}

func (sg *softGain) insert(ev gainEvent) {
	sg.g.mu.Lock()
	defer sg.g.mu.Unlock()
	sg.events = append(sg.events, ev)
	sort.SliceStable(sg.events, func(i, j int) bool {
		return sg.events[i].at < sg.events[j].at
	})
}

// valueAtLocked evaluates the automation timeline at t. Callers hold the
// graph lock.
func (sg *softGain) valueAtLocked(t time.Duration) float64 {
	v := 1.0
	for _, ev := range sg.events {
		if ev.at > t {
			break
		}
		if ev.curve == nil {
			v = ev.value
			continue
		}
		if len(ev.curve) == 0 {
			continue
		}
		if ev.dur <= 0 || t >= ev.at+ev.dur {
			v = ev.curve[len(ev.curve)-1]
			continue
		}
		frac := float64(t-ev.at) / float64(ev.dur)
		x := frac * float64(len(ev.curve)-1)
		i := int(math.Floor(x))
		if i >= len(ev.curve)-1 {
			v = ev.curve[len(ev.curve)-1]
			continue
		}
		v = ev.curve[i] + (ev.curve[i+1]-ev.curve[i])*(x-float64(i))
	}
	return v
}
