// Package tools implements the function tools the voice assistant can
// call: drought risk lookups, weather forecasts, news headlines and
// council alerts, all served by the dashboard backend over HTTP.
package tools

import "github.com/awhina-ai/kaitiaki/pkg/realtime"

// Tool names, as declared to the model.
const (
	NameDroughtRisk     = "getDroughtRisk"
	NameWeatherForecast = "getWeatherForecast"
	NameNewsHeadlines   = "getNewsHeadlines"
	NameCouncilAlerts   = "getCouncilAlerts"
)

// Definitions returns the tool declarations sent in session.update.
func Definitions() []realtime.Tool {
	regionParam := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"region": map[string]any{
				"type":        "string",
				"description": "The New Zealand region (e.g., Canterbury, Waikato, Taranaki).",
			},
		},
		"required": []string{"region"},
	}
	noParams := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}

	return []realtime.Tool{
		{
			Type:        "function",
			Name:        NameDroughtRisk,
			Description: "Get current drought risk score and factors for a specific NZ region.",
			Parameters:  regionParam,
		},
		{
			Type:        "function",
			Name:        NameWeatherForecast,
			Description: "Get weather forecast and trend for a region.",
			Parameters:  regionParam,
		},
		{
			Type:        "function",
			Name:        NameNewsHeadlines,
			Description: "Get the latest rural and farming news headlines.",
			Parameters:  noParams,
		},
		{
			Type:        "function",
			Name:        NameCouncilAlerts,
			Description: "Get active water restrictions and council alerts.",
			Parameters:  noParams,
		},
	}
}
