package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

// RelayPath is where the voice relay accepts WebSocket upgrades.
const RelayPath = "/api/ws/voice-relay"

// EndpointConfig holds the inputs for relay endpoint resolution.
type EndpointConfig struct {
	// Override, when set, is used verbatim. Must be a ws:// or wss:// URL.
	Override string

	// DevPort, when non-zero, selects the local development relay on
	// localhost at that port.
	DevPort int

	// BaseURL is the deployed backend's HTTP base URL.
	BaseURL string

	// Origin is the page origin used as a last-resort base.
	Origin string
}

// ResolveEndpoint determines the relay WebSocket URL. Resolution order:
// explicit override, local development port, deployed base URL with the
// protocol rewritten to WebSocket, then the same-origin fallback.
func ResolveEndpoint(c EndpointConfig) (string, error) {
	if c.Override != "" {
		if !strings.HasPrefix(c.Override, "ws://") && !strings.HasPrefix(c.Override, "wss://") {
			return "", fmt.Errorf("realtime: endpoint override %q is not a WebSocket URL", c.Override)
		}
		return c.Override, nil
	}
	if c.DevPort != 0 {
		return fmt.Sprintf("ws://localhost:%d%s", c.DevPort, RelayPath), nil
	}
	if c.BaseURL != "" {
		return rewriteToWS(c.BaseURL)
	}
	if c.Origin != "" {
		return rewriteToWS(c.Origin)
	}
	return "", fmt.Errorf("realtime: no relay endpoint configured")
}

// rewriteToWS swaps an http(s) scheme for ws(s) and appends the relay path.
func rewriteToWS(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("realtime: parse endpoint base %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("realtime: endpoint base %q has unsupported scheme %q", base, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + RelayPath
	return u.String(), nil
}
