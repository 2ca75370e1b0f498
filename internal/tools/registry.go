package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// defaultRegion is used when the model omits the region argument.
const defaultRegion = "Canterbury"

// Handler executes one tool call. args is the raw JSON arguments object
// from the model. The returned string must be valid JSON.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Registry maps tool names to handlers and guarantees that every call
// produces a JSON result: a failed or unknown call yields an error object
// the model can read back, never a dropped response.
type Registry struct {
	logger   *slog.Logger
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Call dispatches one tool invocation. The result is always valid JSON.
func (r *Registry) Call(ctx context.Context, name, argsJSON string) string {
	h, ok := r.handlers[name]
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return fmt.Sprintf(`{"error": %q}`, "unknown tool: "+name)
	}

	r.logger.Info("executing tool", "tool", name)
	result, err := h(ctx, json.RawMessage(argsJSON))
	if err != nil {
		r.logger.Error("tool failed", "tool", name, "err", err)
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return result
}

// regionArgs is the argument shape of the region-scoped tools.
type regionArgs struct {
	Region string `json:"region"`
}

func parseRegion(args json.RawMessage) string {
	var a regionArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Region == "" {
		return defaultRegion
	}
	return a.Region
}

// ForDashboard builds a registry with all four dashboard tools wired to d.
func ForDashboard(d *Dashboard, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NameDroughtRisk, func(ctx context.Context, args json.RawMessage) (string, error) {
		return d.DroughtRisk(ctx, parseRegion(args))
	})
	r.Register(NameWeatherForecast, func(ctx context.Context, args json.RawMessage) (string, error) {
		return d.WeatherForecast(ctx, parseRegion(args))
	})
	r.Register(NameNewsHeadlines, func(ctx context.Context, _ json.RawMessage) (string, error) {
		return d.NewsHeadlines(ctx)
	})
	r.Register(NameCouncilAlerts, func(ctx context.Context, _ json.RawMessage) (string, error) {
		return d.CouncilAlerts(ctx)
	})
	return r
}
