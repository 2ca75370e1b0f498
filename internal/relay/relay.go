// Package relay bridges dashboard voice clients to the upstream realtime
// speech API. It accepts one WebSocket per client, dials the upstream,
// configures the model session, and pumps events in both directions.
// Function calls from the model are intercepted, executed against the
// dashboard tools, and answered inline; everything else passes through
// untouched so the client sees the raw upstream protocol.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/awhina-ai/kaitiaki/internal/observe"
	"github.com/awhina-ai/kaitiaki/internal/tools"
	"github.com/awhina-ai/kaitiaki/pkg/realtime"
)

const defaultHeartbeatInterval = 15 * time.Second

// defaultInstructions is the assistant persona sent in session.update when
// the configuration does not override it.
const defaultInstructions = `You are Kaitiaki Wai, the voice of the regional drought monitor. You provide real-time drought risk assessment, weather forecasts, and community resilience advice for New Zealand.

Tone: wise, grounded, protective, yet practical, like a knowledgeable local farmer or elder. Calm in crisis, encouraging in recovery.

You can access and discuss drought risk scores (0-100) for any NZ region, weather forecasts, rainfall and soil moisture, the latest rural news headlines, and council water restrictions.

Keep voice responses concise, 30 to 60 seconds at most. Use the provided tools to fetch real data; do not guess. Focus on New Zealand regions and context. Do not provide financial or legal advice.

Start with a direct answer, weave the data into a short narrative, then offer a relevant follow-up.`

// Config holds the upstream and session parameters for a [Server].
type Config struct {
	// UpstreamURL is the realtime API WebSocket base, without the model
	// query parameter.
	UpstreamURL string

	// APIKey authenticates against the upstream.
	APIKey string

	// Model is the realtime model identifier.
	Model string

	// Voice selects the synthesis voice.
	Voice string

	// Instructions overrides the default assistant persona when non-empty.
	Instructions string

	// HeartbeatInterval is the client liveness ping cadence. Zero selects
	// the default.
	HeartbeatInterval time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHeartbeatRTT registers fn to receive each measured client heartbeat
// round trip.
func WithHeartbeatRTT(fn func(time.Duration)) Option {
	return func(s *Server) { s.rttFn = fn }
}

// WithMetrics sets the telemetry sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the voice relay WebSocket endpoint. It implements
// http.Handler; mount it at [realtime.RelayPath].
type Server struct {
	registry *tools.Registry
	logger   *slog.Logger
	metrics  *observe.Metrics
	rttFn    func(time.Duration)

	mu  sync.RWMutex
	cfg Config
}

// New creates a relay Server executing tool calls against registry.
func New(cfg Config, registry *tools.Registry, opts ...Option) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Instructions == "" {
		cfg.Instructions = defaultInstructions
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetPersona swaps the voice and instructions sent in session.update. New
// sessions pick the values up; sessions already running keep the old ones.
// Empty values fall back to the configured defaults.
func (s *Server) SetPersona(voice, instructions string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if voice != "" {
		s.cfg.Voice = voice
	}
	if instructions == "" {
		instructions = defaultInstructions
	}
	s.cfg.Instructions = instructions
}

// SetHeartbeatInterval changes the ping cadence for new sessions. Values
// at or below zero select the default.
func (s *Server) SetHeartbeatInterval(d time.Duration) {
	if d <= 0 {
		d = defaultHeartbeatInterval
	}
	s.mu.Lock()
	s.cfg.HeartbeatInterval = d
	s.mu.Unlock()
}

// config returns a copy of the current session parameters.
func (s *Server) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ServeHTTP upgrades the request and runs one relay session until either
// side disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("client upgrade failed", "err", err)
		return
	}

	logger := s.logger.With("session", uuid.NewString())
	logger.Info("voice client connected", "remote", r.RemoteAddr)

	s.metrics.ActiveSessions.Add(r.Context(), 1)
	defer s.metrics.ActiveSessions.Add(r.Context(), -1)

	if err := s.run(r.Context(), client, logger); err != nil {
		logger.Info("voice session ended", "reason", err)
		client.Close(websocket.StatusInternalError, "relay session ended")
		return
	}
	client.Close(websocket.StatusNormalClosure, "session complete")
}

// run dials the upstream, configures the session, and pumps until a side
// drops. The returned error names the side that ended the session.
func (s *Server) run(ctx context.Context, client *websocket.Conn, logger *slog.Logger) error {
	cfg := s.config()
	upstreamURL := fmt.Sprintf("%s?model=%s", cfg.UpstreamURL, cfg.Model)
	upstream, _, err := websocket.Dial(ctx, upstreamURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + cfg.APIKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("relay: dial upstream: %w", err)
	}
	defer upstream.Close(websocket.StatusNormalClosure, "relay done")

	if err := writeJSON(ctx, upstream, sessionUpdate(cfg)); err != nil {
		return fmt.Errorf("relay: configure session: %w", err)
	}

	sess := &relaySession{
		server:   s,
		cfg:      cfg,
		logger:   logger,
		client:   client,
		upstream: upstream,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.clientToUpstream(gctx) })
	g.Go(func() error { return sess.upstreamToClient(gctx) })
	g.Go(func() error { return sess.heartbeat(gctx) })
	return g.Wait()
}

// sessionUpdate builds the initial upstream session configuration:
// bimodal output, server-side voice activity detection, PCM16 both ways,
// and the dashboard tools.
func sessionUpdate(cfg Config) realtime.SessionUpdateEvent {
	return realtime.SessionUpdateEvent{
		Type: realtime.TypeSessionUpdate,
		Session: realtime.SessionParams{
			Modalities:        []string{"text", "audio"},
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection: &realtime.TurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 600,
			},
			Tools:      tools.Definitions(),
			ToolChoice: "auto",
		},
	}
}

// relaySession is the per-connection pump state. cfg is a snapshot taken at
// session start so persona reloads never affect a running conversation.
type relaySession struct {
	server   *Server
	cfg      Config
	logger   *slog.Logger
	client   *websocket.Conn
	upstream *websocket.Conn

	mu         sync.Mutex
	pingSentAt time.Time
}

// clientToUpstream forwards client frames verbatim, except heartbeat pongs
// which terminate at the relay.
func (rs *relaySession) clientToUpstream(ctx context.Context) error {
	for {
		_, data, err := rs.client.Read(ctx)
		if err != nil {
			return fmt.Errorf("relay: client read: %w", err)
		}

		var evt realtime.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			rs.logger.Debug("discarding malformed client frame", "err", err)
			continue
		}
		if evt.Type == realtime.TypeHeartbeatPong {
			rs.recordPong(ctx)
			continue
		}

		if err := rs.upstream.Write(ctx, websocket.MessageText, data); err != nil {
			return fmt.Errorf("relay: upstream write: %w", err)
		}
		rs.server.metrics.RecordRelayedEvent(ctx, "upstream")
	}
}

// upstreamToClient forwards upstream frames verbatim. Function call
// completions are additionally executed against the tool registry and the
// result injected back upstream, so the model can speak the answer.
func (rs *relaySession) upstreamToClient(ctx context.Context) error {
	for {
		_, data, err := rs.upstream.Read(ctx)
		if err != nil {
			return fmt.Errorf("relay: upstream read: %w", err)
		}

		var evt realtime.Event
		if err := json.Unmarshal(data, &evt); err == nil && evt.Type == realtime.TypeFunctionCallDone {
			if err := rs.handleToolCall(ctx, &evt); err != nil {
				return err
			}
		}

		if err := rs.client.Write(ctx, websocket.MessageText, data); err != nil {
			return fmt.Errorf("relay: client write: %w", err)
		}
		rs.server.metrics.RecordRelayedEvent(ctx, "client")
	}
}

func (rs *relaySession) handleToolCall(ctx context.Context, evt *realtime.Event) error {
	start := time.Now()
	result := rs.server.registry.Call(ctx, evt.Name, evt.Arguments)

	status := "ok"
	if strings.HasPrefix(result, `{"error"`) {
		status = "error"
	}
	rs.server.metrics.RecordToolCall(ctx, evt.Name, status, time.Since(start))

	item := realtime.ConversationItemCreateEvent{
		Type: realtime.TypeConversationItemCreate,
		Item: realtime.ConversationItem{
			Type:   "function_call_output",
			CallID: evt.CallID,
			Output: result,
		},
	}
	if err := writeJSON(ctx, rs.upstream, item); err != nil {
		return fmt.Errorf("relay: send tool result: %w", err)
	}
	if err := writeJSON(ctx, rs.upstream, realtime.Event{Type: realtime.TypeResponseCreate}); err != nil {
		return fmt.Errorf("relay: trigger response: %w", err)
	}
	return nil
}

// heartbeat pings the client on the configured cadence. The pong is
// consumed by clientToUpstream, which records the round trip.
func (rs *relaySession) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(rs.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			rs.mu.Lock()
			rs.pingSentAt = now
			rs.mu.Unlock()
			ping := realtime.Event{
				Type:      realtime.TypeHeartbeatPing,
				Timestamp: now.UnixMilli(),
			}
			if err := writeJSON(ctx, rs.client, ping); err != nil {
				return fmt.Errorf("relay: heartbeat: %w", err)
			}
		}
	}
}

func (rs *relaySession) recordPong(ctx context.Context) {
	rs.mu.Lock()
	sent := rs.pingSentAt
	rs.pingSentAt = time.Time{}
	rs.mu.Unlock()

	if sent.IsZero() {
		return
	}
	rtt := time.Since(sent)
	rs.logger.Debug("heartbeat round trip", "rtt", rtt)
	rs.server.metrics.RecordHeartbeatRTT(ctx, rtt)
	if rs.server.rttFn != nil {
		rs.server.rttFn(rtt)
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
