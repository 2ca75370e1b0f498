// Package realtime implements the client side of the voice relay protocol:
// a duplex WebSocket channel carrying JSON events in the OpenAI Realtime
// wire format, plus the relay's own heartbeat extension.
//
// Microphone audio flows up as base64 PCM16 append events; synthesized
// audio, transcripts, and turn-detection signals flow down and are surfaced
// through callbacks on [Channel].
package realtime

import (
	"fmt"
	"time"
)

// Event type identifiers used on the wire.
const (
	TypeSessionUpdate            = "session.update"
	TypeSessionCreated           = "session.created"
	TypeSessionUpdated           = "session.updated"
	TypeInputAudioAppend         = "input_audio_buffer.append"
	TypeSpeechStarted            = "input_audio_buffer.speech_started"
	TypeSpeechStopped            = "input_audio_buffer.speech_stopped"
	TypeInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseTranscriptDone   = "response.audio_transcript.done"
	TypeResponseAudioDelta       = "response.audio.delta"
	TypeResponseAudioDone        = "response.audio.done"
	TypeResponseDone             = "response.done"
	TypeFunctionCallDone         = "response.function_call_arguments.done"
	TypeConversationItemCreate   = "conversation.item.create"
	TypeResponseCreate           = "response.create"
	TypeError                    = "error"

	// Relay heartbeat extension. The relay pings, the client pongs.
	TypeHeartbeatPing = "heartbeat_ping"
	TypeHeartbeatPong = "heartbeat_pong"
)

// Event is the superset decoding target for incoming protocol events. Only
// the fields relevant to the event's Type are populated.
type Event struct {
	Type string `json:"type"`

	// input_audio_buffer.append
	Audio string `json:"audio,omitempty"` // base64-encoded PCM16

	// response.audio.delta
	Delta string `json:"delta,omitempty"` // base64-encoded PCM16

	// conversation.item.input_audio_transcription.completed and
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// heartbeat_ping and heartbeat_pong. The pong echoes the ping's
	// timestamp and adds the client's local wall clock, both Unix ms. The
	// clientTime key is camelCase on the wire, unlike the event types.
	Timestamp  int64 `json:"timestamp,omitempty"`
	ClientTime int64 `json:"clientTime,omitempty"`

	// error event
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the nested error object of an error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// SessionUpdateEvent configures the upstream model session.
type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// SessionParams carries the session.update payload.
type SessionParams struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Tools                   []Tool               `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

// TranscriptionParams selects the model used for input transcription.
type TranscriptionParams struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ConversationItemCreateEvent returns a tool result into the conversation.
type ConversationItemCreateEvent struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is the payload of a conversation.item.create event.
type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// Transcript is one finalized utterance, from either side of the
// conversation.
type Transcript struct {
	Role      string // "user" or "assistant"
	Text      string
	Timestamp time.Time
}

// Speaking says which direction of the duplex link is currently hot. The
// conversation is logically half-duplex, so at most one side speaks at a
// time; when events race, the last one wins.
type Speaking int

const (
	SpeakingNone Speaking = iota
	SpeakingUser
	SpeakingAI
)

func (s Speaking) String() string {
	switch s {
	case SpeakingNone:
		return "none"
	case SpeakingUser:
		return "user"
	case SpeakingAI:
		return "ai"
	default:
		return fmt.Sprintf("speaking(%d)", int(s))
	}
}
