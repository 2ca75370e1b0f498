package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 5 * time.Second

// Dashboard fetches live data from the drought dashboard backend. All
// methods return the backend's JSON payload verbatim so the model sees
// exactly what the dashboard shows. Fetches go through a [Breaker] so a
// dead backend fails fast instead of stalling every tool call.
type Dashboard struct {
	baseURL string
	client  *http.Client
	breaker *Breaker
}

// DashboardOption configures a [Dashboard].
type DashboardOption func(*Dashboard)

// WithHTTPClient replaces the HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) DashboardOption {
	return func(d *Dashboard) { d.client = c }
}

// WithBreaker replaces the default fetch breaker.
func WithBreaker(b *Breaker) DashboardOption {
	return func(d *Dashboard) { d.breaker = b }
}

// NewDashboard creates a client for the dashboard API at baseURL.
func NewDashboard(baseURL string, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		breaker: NewBreaker(BreakerConfig{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// DroughtRisk returns the risk assessment JSON for a region.
func (d *Dashboard) DroughtRisk(ctx context.Context, region string) (string, error) {
	return d.get(ctx, "/api/drought-risk", url.Values{"region": {region}})
}

// WeatherForecast returns the forecast JSON for a region.
func (d *Dashboard) WeatherForecast(ctx context.Context, region string) (string, error) {
	return d.get(ctx, "/api/weather", url.Values{"region": {region}})
}

// NewsHeadlines returns the latest rural news headlines JSON.
func (d *Dashboard) NewsHeadlines(ctx context.Context) (string, error) {
	return d.get(ctx, "/api/news", nil)
}

// CouncilAlerts returns active water restrictions and council alerts JSON.
func (d *Dashboard) CouncilAlerts(ctx context.Context) (string, error) {
	return d.get(ctx, "/api/alerts", nil)
}

func (d *Dashboard) get(ctx context.Context, path string, query url.Values) (string, error) {
	var body string
	err := d.breaker.Do(func() error {
		var err error
		body, err = d.fetch(ctx, path, query)
		return err
	})
	return body, err
}

func (d *Dashboard) fetch(ctx context.Context, path string, query url.Values) (string, error) {
	u := d.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("tools: build request %s: %w", path, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tools: fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tools: fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tools: read %s response: %w", path, err)
	}
	return string(body), nil
}
