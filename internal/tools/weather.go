package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Weather is a canned weather lookup. It answers every location with the
// same conditions.
type Weather struct{}

type WeatherReport struct {
	Temp      int    `json:"temp"`
	Condition string `json:"condition"`
	Location  string `json:"location"`
}

func (w *Weather) Name() string        { return "getWeather" }
func (w *Weather) Description() string { return "Get the weather for a location" }

func (w *Weather) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{
				"type":        "string",
				"description": "The city and state",
			},
		},
		"required": []string{"location"},
	}
}

func (w *Weather) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing weather input: %w", err)
	}
	if in.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	return WeatherReport{Temp: 72, Condition: "Sunny", Location: in.Location}, nil
}
