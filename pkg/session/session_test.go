package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/awhina-ai/kaitiaki/pkg/audio/capture"
	"github.com/awhina-ai/kaitiaki/pkg/realtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeCapture struct {
	mu        sync.Mutex
	started   bool
	stops     int
	listeners map[int]capture.FrameFunc
	nextID    int
	level     float64
	startErr  error
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{listeners: make(map[int]capture.FrameFunc), level: 0.4}
}

func (c *fakeCapture) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	c.stops++
}

func (c *fakeCapture) OnFrame(fn capture.FrameFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *fakeCapture) Level() float64 { return c.level }

func (c *fakeCapture) emit(wire string) {
	c.mu.Lock()
	fns := make([]capture.FrameFunc, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(wire)
	}
}

type fakePlayback struct {
	mu    sync.Mutex
	calls []string
	muted bool
}

func (p *fakePlayback) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlayback) Resume(context.Context) error { p.record("resume"); return nil }

func (p *fakePlayback) PlayChunk(wire string) error {
	p.record("play:" + wire)
	return nil
}

func (p *fakePlayback) StopAllWithFade(context.Context) error {
	p.record("fade")
	return nil
}

func (p *fakePlayback) StopAllImmediate() { p.record("stop") }

func (p *fakePlayback) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

func (p *fakePlayback) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

type fakeTransport struct {
	mu           sync.Mutex
	connects     int
	closes       int
	sent         []string
	connectErr   error
	onAudioDelta func(string)
	onBargeIn    func()
	onTranscript func(realtime.Transcript)
	onError      func(error)
}

func (tr *fakeTransport) Connect(context.Context) error {
	if tr.connectErr != nil {
		return tr.connectErr
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.connects++
	return nil
}

func (tr *fakeTransport) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.closes++
	return nil
}

func (tr *fakeTransport) SendAudio(wire string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sent = append(tr.sent, wire)
}

func (tr *fakeTransport) OnAudioDelta(fn func(string)) { tr.onAudioDelta = fn }

func (tr *fakeTransport) OnBargeIn(fn func()) { tr.onBargeIn = fn }

func (tr *fakeTransport) OnTranscript(fn func(realtime.Transcript)) { tr.onTranscript = fn }

func (tr *fakeTransport) OnError(fn func(error)) { tr.onError = fn }

func (tr *fakeTransport) State() realtime.State { return realtime.StateOpen }

func (tr *fakeTransport) sentFrames() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.sent))
	copy(out, tr.sent)
	return out
}

func newOrchestrator(t *testing.T) (*Orchestrator, *fakeCapture, *fakePlayback, *fakeTransport) {
	t.Helper()
	mic := newFakeCapture()
	play := &fakePlayback{}
	transport := &fakeTransport{}
	return New(mic, play, transport, WithLogger(discardLogger())), mic, play, transport
}

func TestStartSessionWiresPipeline(t *testing.T) {
	t.Parallel()

	o, mic, play, transport := newOrchestrator(t)
	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if !o.Active() {
		t.Fatal("Active() = false after start")
	}
	if !mic.started {
		t.Error("capture not started")
	}

	mic.emit("FRAME1")
	if got := transport.sentFrames(); len(got) != 1 || got[0] != "FRAME1" {
		t.Errorf("sent frames = %v, want [FRAME1]", got)
	}

	transport.onAudioDelta("CHUNK1")
	log := play.callLog()
	if log[len(log)-1] != "play:CHUNK1" {
		t.Errorf("playback calls = %v, want trailing play:CHUNK1", log)
	}

	if got := o.Level(); got != 0.4 {
		t.Errorf("Level() = %v, want capture level", got)
	}
}

func TestStartSessionTwiceIsNoop(t *testing.T) {
	t.Parallel()

	o, _, _, transport := newOrchestrator(t)
	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("second StartSession() error = %v", err)
	}
	if transport.connects != 1 {
		t.Errorf("transport connected %d times, want 1", transport.connects)
	}
}

func TestStartSessionConnectFailure(t *testing.T) {
	t.Parallel()

	o, mic, _, transport := newOrchestrator(t)
	transport.connectErr = errors.New("relay unreachable")

	if err := o.StartSession(context.Background()); err == nil {
		t.Fatal("StartSession() error = nil, want connect failure")
	}
	if o.Active() {
		t.Error("Active() = true after failed start")
	}
	if mic.started {
		t.Error("capture acquired despite failed connect")
	}
}

func TestStartSessionCaptureFailureClosesTransport(t *testing.T) {
	t.Parallel()

	o, mic, _, transport := newOrchestrator(t)
	mic.startErr = errors.New("no device")

	if err := o.StartSession(context.Background()); err == nil {
		t.Fatal("StartSession() error = nil, want capture failure")
	}
	if o.Active() {
		t.Error("Active() = true after failed start")
	}
	if transport.closes != 1 {
		t.Errorf("transport closed %d times after capture failure, want 1", transport.closes)
	}
}

func TestBargeInFadesBetweenDeltas(t *testing.T) {
	t.Parallel()

	o, _, play, transport := newOrchestrator(t)
	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	// Replay the receive loop's delivery order around a barge-in.
	transport.onAudioDelta("A")
	transport.onBargeIn()
	transport.onAudioDelta("B")

	var got []string
	for _, c := range play.callLog() {
		if c == "fade" || c == "play:A" || c == "play:B" {
			got = append(got, c)
		}
	}
	want := []string{"play:A", "fade", "play:B"}
	if len(got) != len(want) {
		t.Fatalf("playback order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("playback order = %v, want %v", got, want)
		}
	}
}

func TestToggleMute(t *testing.T) {
	t.Parallel()

	o, mic, play, transport := newOrchestrator(t)
	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	if muted := o.ToggleMute(); !muted {
		t.Fatal("ToggleMute() = false, want true")
	}
	if !play.muted {
		t.Error("playback not muted")
	}

	// Muting is a user interrupt: queued playback is fade-stopped so
	// nothing resumes audibly on unmute.
	faded := false
	for _, c := range play.callLog() {
		if c == "fade" {
			faded = true
		}
	}
	if !faded {
		t.Error("queued playback not fade-stopped on mute")
	}

	// Frames captured while muted never reach the transport, but the
	// microphone stays live for the level meter.
	mic.emit("SILENCED")
	if got := transport.sentFrames(); len(got) != 0 {
		t.Errorf("sent frames while muted = %v, want none", got)
	}
	if !mic.started {
		t.Error("capture stopped by mute")
	}
	if o.Level() == 0 {
		t.Error("Level() = 0 while muted, want live meter")
	}

	if muted := o.ToggleMute(); muted {
		t.Fatal("second ToggleMute() = true, want false")
	}
	mic.emit("AUDIBLE")
	if got := transport.sentFrames(); len(got) != 1 || got[0] != "AUDIBLE" {
		t.Errorf("sent frames after unmute = %v, want [AUDIBLE]", got)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	t.Parallel()

	o, mic, play, transport := newOrchestrator(t)
	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	o.EndSession()
	o.EndSession()

	if o.Active() {
		t.Error("Active() = true after end")
	}
	if mic.started {
		t.Error("capture still running after end")
	}
	if mic.stops != 1 {
		t.Errorf("capture stopped %d times, want 1", mic.stops)
	}
	if transport.closes != 1 {
		t.Errorf("transport closed %d times, want 1", transport.closes)
	}

	found := false
	for _, c := range play.callLog() {
		if c == "fade" {
			found = true
		}
	}
	if !found {
		t.Error("playback not faded out on session end")
	}

	// Frames after the session ended are discarded.
	mic.emit("LATE")
	if got := transport.sentFrames(); len(got) != 0 {
		t.Errorf("sent frames after end = %v, want none", got)
	}
}

func TestSessionDurationResetsOnStart(t *testing.T) {
	t.Parallel()

	o, _, _, _ := newOrchestrator(t)
	if got := o.SessionDuration(); got != 0 {
		t.Fatalf("SessionDuration() before start = %v, want 0", got)
	}

	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	first := o.SessionDuration()
	if first <= 0 {
		t.Fatalf("SessionDuration() = %v, want > 0", first)
	}

	// A new session restarts the timer.
	o.EndSession()
	time.Sleep(10 * time.Millisecond)
	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("restart StartSession() error = %v", err)
	}
	if got := o.SessionDuration(); got >= first+10*time.Millisecond {
		t.Errorf("SessionDuration() after restart = %v, want timer reset", got)
	}
}

func TestTranscriptLog(t *testing.T) {
	t.Parallel()

	o, _, _, transport := newOrchestrator(t)

	var hooked []realtime.Transcript
	o.OnTranscript(func(tr realtime.Transcript) { hooked = append(hooked, tr) })

	if err := o.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	transport.onTranscript(realtime.Transcript{Role: "user", Text: "how dry is Otago"})
	transport.onTranscript(realtime.Transcript{Role: "assistant", Text: "Otago sits at moderate risk."})

	log := o.TranscriptLog()
	if len(log) != 2 {
		t.Fatalf("TranscriptLog() has %d entries, want 2", len(log))
	}
	if log[0].Role != "user" || log[1].Role != "assistant" {
		t.Errorf("roles = %q, %q, want user then assistant", log[0].Role, log[1].Role)
	}
	if len(hooked) != 2 {
		t.Errorf("hook received %d transcripts, want 2", len(hooked))
	}
}
