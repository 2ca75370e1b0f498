// Package config provides the configuration schema, loader, and file
// watcher for the Kaitiaki voice relay.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that decodes from YAML strings such as
// "15s" or "500ms".
type Duration time.Duration

// Std returns the value as a standard [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string such as %q: %w", "15s", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LogLevel controls log verbosity for the relay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Kaitiaki.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Audio     AudioConfig     `yaml:"audio"`
	Relay     RelayConfig     `yaml:"relay"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Client    ClientConfig    `yaml:"client"`
}

// ServerConfig holds network and logging settings for the relay server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// UpstreamConfig describes the realtime speech API the relay connects to.
type UpstreamConfig struct {
	// APIKey authenticates against the upstream. When empty, the
	// OPENAI_API_KEY environment variable is used.
	APIKey string `yaml:"api_key"`

	// BaseURL is the upstream WebSocket endpoint, without the model query
	// parameter.
	BaseURL string `yaml:"base_url"`

	// Model selects the realtime model.
	Model string `yaml:"model"`

	// Voice selects the synthesis voice.
	Voice string `yaml:"voice"`

	// Instructions overrides the built-in assistant persona.
	Instructions string `yaml:"instructions"`
}

// AudioConfig fixes the audio pipeline parameters. These must match what
// clients quantize and what the upstream expects.
type AudioConfig struct {
	// SampleRate in Hz for both capture and playback.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples per capture block.
	BlockSize int `yaml:"block_size"`
}

// RelayConfig holds relay session tuning.
type RelayConfig struct {
	// HeartbeatInterval is the client liveness ping cadence.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// DashboardConfig points the tool handlers at the dashboard backend.
type DashboardConfig struct {
	// BaseURL is the dashboard API base (e.g., "http://localhost:8000").
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each tool fetch.
	Timeout Duration `yaml:"timeout"`
}

// ClientConfig holds the endpoint resolution inputs handed to embedded
// voice clients.
type ClientConfig struct {
	// EndpointOverride, when set, is used verbatim as the relay URL.
	EndpointOverride string `yaml:"endpoint_override"`

	// DevPort selects the local development relay when non-zero.
	DevPort int `yaml:"dev_port"`

	// BaseURL is the deployed backend base URL, rewritten to WebSocket.
	BaseURL string `yaml:"base_url"`
}

// Defaults applied by [ApplyDefaults] when the corresponding field is zero.
const (
	DefaultListenAddr        = ":8080"
	DefaultUpstreamBaseURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel             = "gpt-4o-mini-realtime-preview-2024-12-17"
	DefaultVoice             = "alloy"
	DefaultSampleRate        = 24000
	DefaultBlockSize         = 4096
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultDashboardBaseURL  = "http://localhost:8000"
	DefaultDashboardTimeout  = 5 * time.Second
)

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.Upstream.Model == "" {
		cfg.Upstream.Model = DefaultModel
	}
	if cfg.Upstream.Voice == "" {
		cfg.Upstream.Voice = DefaultVoice
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Relay.HeartbeatInterval == 0 {
		cfg.Relay.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
	}
	if cfg.Dashboard.BaseURL == "" {
		cfg.Dashboard.BaseURL = DefaultDashboardBaseURL
	}
	if cfg.Dashboard.Timeout == 0 {
		cfg.Dashboard.Timeout = Duration(DefaultDashboardTimeout)
	}
}
