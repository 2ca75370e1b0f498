package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDefinitionsDeclareAllTools(t *testing.T) {
	t.Parallel()

	defs := Definitions()
	want := map[string]bool{
		NameDroughtRisk:     false,
		NameWeatherForecast: false,
		NameNewsHeadlines:   false,
		NameCouncilAlerts:   false,
	}
	for _, d := range defs {
		if d.Type != "function" {
			t.Errorf("tool %s type = %q, want function", d.Name, d.Type)
		}
		if _, ok := want[d.Name]; !ok {
			t.Errorf("unexpected tool %q", d.Name)
			continue
		}
		want[d.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q not declared", name)
		}
	}
}

func TestRegistryCall(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger())
	r.Register("echoRegion", func(_ context.Context, args json.RawMessage) (string, error) {
		return `{"region": "` + parseRegion(args) + `"}`, nil
	})
	r.Register("alwaysFails", func(context.Context, json.RawMessage) (string, error) {
		return "", errors.New("backend offline")
	})

	cases := []struct {
		name string
		tool string
		args string
		want string
	}{
		{"known tool", "echoRegion", `{"region": "Waikato"}`, `{"region": "Waikato"}`},
		{"missing region falls back", "echoRegion", `{}`, `{"region": "Canterbury"}`},
		{"malformed args fall back", "echoRegion", `not json`, `{"region": "Canterbury"}`},
		{"handler error becomes json", "alwaysFails", `{}`, `{"error": "backend offline"}`},
		{"unknown tool becomes json", "nope", `{}`, `{"error": "unknown tool: nope"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := r.Call(context.Background(), tc.tool, tc.args)
			if got != tc.want {
				t.Errorf("Call(%s) = %s, want %s", tc.tool, got, tc.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("Call(%s) returned invalid JSON: %s", tc.tool, got)
			}
		})
	}
}

func TestDashboardRequests(t *testing.T) {
	t.Parallel()

	var gotPath, gotRegion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRegion = r.URL.Query().Get("region")
		w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(srv.Close)

	d := NewDashboard(srv.URL)
	ctx := context.Background()

	out, err := d.DroughtRisk(ctx, "Taranaki")
	if err != nil {
		t.Fatalf("DroughtRisk() error = %v", err)
	}
	if out != `{"ok": true}` {
		t.Errorf("DroughtRisk() = %s, want backend payload", out)
	}
	if gotPath != "/api/drought-risk" || gotRegion != "Taranaki" {
		t.Errorf("request = %s?region=%s, want /api/drought-risk?region=Taranaki", gotPath, gotRegion)
	}

	if _, err := d.NewsHeadlines(ctx); err != nil {
		t.Fatalf("NewsHeadlines() error = %v", err)
	}
	if gotPath != "/api/news" {
		t.Errorf("path = %s, want /api/news", gotPath)
	}
	if _, err := d.CouncilAlerts(ctx); err != nil {
		t.Fatalf("CouncilAlerts() error = %v", err)
	}
	if gotPath != "/api/alerts" {
		t.Errorf("path = %s, want /api/alerts", gotPath)
	}
	if _, err := d.WeatherForecast(ctx, "Otago"); err != nil {
		t.Fatalf("WeatherForecast() error = %v", err)
	}
	if gotPath != "/api/weather" || gotRegion != "Otago" {
		t.Errorf("request = %s?region=%s, want /api/weather?region=Otago", gotPath, gotRegion)
	}
}

func TestDashboardErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	d := NewDashboard(srv.URL)
	if _, err := d.DroughtRisk(context.Background(), "Canterbury"); err == nil {
		t.Fatal("DroughtRisk() error = nil, want status error")
	}
}

func TestForDashboardWiresAllTools(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(srv.Close)

	r := ForDashboard(NewDashboard(srv.URL), discardLogger())
	for _, name := range []string{NameDroughtRisk, NameWeatherForecast, NameNewsHeadlines, NameCouncilAlerts} {
		if got := r.Call(context.Background(), name, `{}`); got != `{"ok": true}` {
			t.Errorf("Call(%s) = %s, want backend payload", name, got)
		}
	}
}
