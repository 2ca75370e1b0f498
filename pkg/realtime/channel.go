package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// State is the lifecycle state of a [Channel].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Channel.
type Option func(*Channel)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// ── Channel ────────────────────────────────────────────────────────────────────

// Channel is one duplex connection to the voice relay.
//
// Handlers are registered with the On* methods; registration is
// last-writer-wins and may happen before or after Connect. The barge-in
// handler runs synchronously inside the receive loop, so it is guaranteed
// to complete before any later audio delta on the same connection is
// dispatched.
type Channel struct {
	endpoint string
	logger   *slog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	speaking     Speaking
	errVal       error
	onAudioDelta func(wire string)
	onBargeIn    func()
	onTranscript func(Transcript)
	onDone       func()
	onError      func(error)

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Channel targeting the given relay endpoint, typically the
// result of [ResolveEndpoint]. The channel is idle until [Channel.Connect].
func New(endpoint string, opts ...Option) *Channel {
	c := &Channel{
		endpoint: endpoint,
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnAudioDelta registers a handler for incoming audio chunks. The argument
// is the base64 PCM16 payload of a response.audio.delta event.
func (c *Channel) OnAudioDelta(fn func(wire string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudioDelta = fn
}

// OnBargeIn registers a handler invoked when the relay signals that the
// listener started speaking. It runs synchronously in the receive loop and
// must return quickly.
func (c *Channel) OnBargeIn(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBargeIn = fn
}

// OnTranscript registers a handler for finalized transcripts.
func (c *Channel) OnTranscript(fn func(Transcript)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscript = fn
}

// OnResponseDone registers a handler invoked when a model response
// completes.
func (c *Channel) OnResponseDone(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDone = fn
}

// OnError registers a handler for remote error events and abnormal
// disconnects.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Connect dials the relay and starts the receive loop. Connecting a channel
// that is already open is a no-op and clears any recorded error; a closed
// or failed channel is single-use and cannot be redialed.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen {
		c.errVal = nil
		c.mu.Unlock()
		return nil
	}
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("realtime: connect in state %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateError
		c.errVal = err
		c.mu.Unlock()
		return fmt.Errorf("realtime: dial %s: %w", c.endpoint, err)
	}

	chCtx, chCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.ctx = chCtx
	c.cancel = chCancel
	c.state = StateOpen
	c.mu.Unlock()

	go c.receiveLoop(conn, chCtx)
	return nil
}

// SendAudio transmits one wire-encoded microphone frame as an
// input_audio_buffer.append event. Frames sent while the channel is not
// open are dropped silently: capture keeps running across reconnects and a
// lost frame is worth less than a blocked capture loop.
func (c *Channel) SendAudio(wire string) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	ctx := c.ctx
	c.mu.Unlock()

	if !open || conn == nil {
		return
	}
	if err := c.writeJSON(ctx, conn, Event{Type: TypeInputAudioAppend, Audio: wire}); err != nil {
		c.logger.Debug("audio frame dropped", "err", err)
	}
}

// State returns the channel's lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speaking reports which side of the conversation is currently speaking.
func (c *Channel) Speaking() Speaking {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Err returns the most recent recorded error: a remote error event, a dial
// failure, or an abnormal disconnect. A remote error alone does not change
// the channel state.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the connection with a normal closure. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	cancel := c.cancel
	c.state = StateClosed
	c.speaking = SpeakingNone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "channel closed")
	}
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *Channel) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events until the connection drops. Malformed frames
// are logged and skipped; the loop only exits on a read error.
func (c *Channel) receiveLoop(conn *websocket.Conn, ctx context.Context) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.readClosed(err)
			return
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Debug("discarding malformed event", "err", err)
			continue
		}

		c.handleEvent(ctx, conn, &evt)
	}
}

// readClosed records how the connection ended. A locally initiated close or
// a normal closure from the peer leaves the channel in StateClosed;
// anything else is an abnormal disconnect.
func (c *Channel) readClosed(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	abnormal := websocket.CloseStatus(err) != websocket.StatusNormalClosure
	if abnormal {
		c.state = StateError
		if c.errVal == nil {
			c.errVal = err
		}
	} else {
		c.state = StateClosed
	}
	c.speaking = SpeakingNone
	handler := c.onError
	c.mu.Unlock()

	if abnormal && handler != nil {
		handler(fmt.Errorf("realtime: connection lost: %w", err))
	}
}

func (c *Channel) handleEvent(ctx context.Context, conn *websocket.Conn, evt *Event) {
	switch evt.Type {
	case TypeHeartbeatPing:
		// Answer before anything else: the relay uses pong latency to
		// decide whether the client is alive.
		pong := Event{
			Type:       TypeHeartbeatPong,
			Timestamp:  evt.Timestamp,
			ClientTime: time.Now().UnixMilli(),
		}
		if err := c.writeJSON(ctx, conn, pong); err != nil {
			c.logger.Debug("heartbeat pong failed", "err", err)
		}

	case TypeSessionCreated, TypeSessionUpdated:
		c.logger.Debug("session ready", "type", evt.Type)

	case TypeSpeechStarted:
		c.mu.Lock()
		c.speaking = SpeakingUser
		handler := c.onBargeIn
		c.mu.Unlock()
		if handler != nil {
			handler()
		}

	case TypeSpeechStopped:
		c.mu.Lock()
		c.speaking = SpeakingNone
		c.mu.Unlock()

	case TypeResponseAudioDelta:
		if evt.Delta == "" {
			return
		}
		c.mu.Lock()
		c.speaking = SpeakingAI
		handler := c.onAudioDelta
		c.mu.Unlock()
		if handler != nil {
			handler(evt.Delta)
		}

	case TypeResponseAudioDone:
		c.mu.Lock()
		c.speaking = SpeakingNone
		c.mu.Unlock()

	case TypeInputTranscriptCompleted:
		c.dispatchTranscript("user", evt.Transcript)

	case TypeResponseTranscriptDone:
		c.dispatchTranscript("assistant", evt.Transcript)

	case TypeResponseDone:
		c.mu.Lock()
		c.speaking = SpeakingNone
		handler := c.onDone
		c.mu.Unlock()
		if handler != nil {
			handler()
		}

	case TypeError:
		c.handleErrorEvent(evt)
	}
}

func (c *Channel) dispatchTranscript(role, text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	handler := c.onTranscript
	c.mu.Unlock()
	if handler == nil {
		return
	}
	handler(Transcript{Role: role, Text: text, Timestamp: time.Now()})
}

// handleErrorEvent records a remote error event as observable state. The
// connection stays open and audio keeps flowing; whether to disconnect is
// the caller's call, not the channel's.
func (c *Channel) handleErrorEvent(evt *Event) {
	msg := "unknown error"
	if evt.Error != nil && evt.Error.Message != "" {
		msg = evt.Error.Message
	}
	err := fmt.Errorf("realtime: remote error: %s", msg)

	c.mu.Lock()
	c.errVal = err
	handler := c.onError
	c.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}
