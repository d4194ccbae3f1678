package llm

import (
	"fmt"

	"zag/internal/config"
)

const (
	defaultWorkersAIBaseURL = "https://api.cloudflare.com/client/v4"
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
)

// New builds the provider described by cfg.
func New(cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is nil")
	}
	switch cfg.Kind {
	case config.KindWorkersAI:
		base := cfg.BaseURL
		if base == "" {
			base = defaultWorkersAIBaseURL
		}
		return NewWorkersAI(base, cfg.AccountID, cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case config.KindOpenAI:
		base := cfg.BaseURL
		if base == "" {
			base = defaultOpenAIBaseURL
		}
		return NewOpenAI(base, cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case config.KindAnthropic:
		return NewAnthropic(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown llm kind %q", cfg.Kind)
	}
}
