package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	bravesearch "github.com/cnosuke/go-brave-search"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 20
)

type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// searchFunc runs a web search returning at most count results.
type searchFunc func(ctx context.Context, query string, count int) ([]SearchResult, error)

// Web searches the web through Brave Search.
type Web struct {
	search searchFunc
}

func NewWeb(braveAPIKey string) (*Web, error) {
	client, err := bravesearch.NewClient(braveAPIKey)
	if err != nil {
		return nil, fmt.Errorf("creating brave client: %w", err)
	}
	return &Web{search: func(ctx context.Context, query string, count int) ([]SearchResult, error) {
		resp, err := client.WebSearch(ctx, query, &bravesearch.WebSearchParams{Count: count})
		if err != nil {
			return nil, fmt.Errorf("brave search: %w", err)
		}
		items := resp.GetWebResults()
		out := make([]SearchResult, 0, len(items))
		for _, r := range items {
			out = append(out, SearchResult{
				Title:       r.Title,
				URL:         r.URL,
				Description: stripTags(r.Description),
			})
		}
		return out, nil
	}}, nil
}

func (w *Web) Name() string { return "searchWeb" }
func (w *Web) Description() string {
	return "Search the web and return the top results with title, URL and snippet"
}

func (w *Web) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results to return (default 5, max 20)",
			},
		},
		"required": []string{"query"},
	}
}

func (w *Web) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parsing web input: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if in.Count <= 0 {
		in.Count = defaultSearchCount
	}
	if in.Count > maxSearchCount {
		in.Count = maxSearchCount
	}

	slog.Debug("web: searching", "query", in.Query, "count", in.Count)

	results, err := w.search(ctx, in.Query, in.Count)
	if err != nil {
		return nil, err
	}
	if len(results) > in.Count {
		results = results[:in.Count]
	}

	slog.Debug("web: search done", "query", in.Query, "results", len(results))
	return results, nil
}
