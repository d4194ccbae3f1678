package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const DefaultSystemPrompt = "You are a helpful AI assistant built with Cloudflare Workers and AI Elements."

// Provider kinds understood by llm.New.
const (
	KindWorkersAI = "workers-ai"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// Wire protocols the gateway can speak.
const (
	ProtocolData = "data"
	ProtocolSSE  = "sse"
)

// Config is built once at process start and never mutated afterwards.
type Config struct {
	DefaultLLM   string                `toml:"default_llm"`
	SystemPrompt string                `toml:"system_prompt"`
	MaxSteps     int                   `toml:"max_steps"`
	LLMs         map[string]*LLMConfig `toml:"llm"`
	Gateway      GatewayConfig         `toml:"gateway"`
	Services     ServicesConfig        `toml:"services"`
	Trace        TraceConfig           `toml:"trace"`
}

type LLMConfig struct {
	Kind      string `toml:"kind"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	AccountID string `toml:"account_id"`
	MaxTokens int64  `toml:"max_tokens"`
}

type GatewayConfig struct {
	Addr              string        `toml:"addr"`
	Protocol          string        `toml:"protocol"`
	StreamTimeout     time.Duration `toml:"stream_timeout"`
	MaxBodyBytes      int64         `toml:"max_body_bytes"`
	ToolCallStreaming bool          `toml:"tool_call_streaming"`
}

type ServicesConfig struct {
	Brave BraveConfig `toml:"brave"`
}

type BraveConfig struct {
	APIKey string `toml:"api_key"`
}

type TraceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	URLPath  string `toml:"url_path"`
	APIKey   string `toml:"api_key"`
}

// envOverrides are read from ZAG_* variables and win over the config file.
type envOverrides struct {
	DefaultLLM   string `envconfig:"DEFAULT_LLM"`
	APIKey       string `envconfig:"API_KEY"`
	AccountID    string `envconfig:"ACCOUNT_ID"`
	Model        string `envconfig:"MODEL"`
	Addr         string `envconfig:"ADDR"`
	BraveAPIKey  string `envconfig:"BRAVE_API_KEY"`
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
}

// SecretLookup returns a stored API key for the named LLM.
type SecretLookup func(llmName string) (string, error)

func Default() *Config {
	return &Config{
		DefaultLLM:   KindWorkersAI,
		SystemPrompt: DefaultSystemPrompt,
		MaxSteps:     5,
		LLMs: map[string]*LLMConfig{
			KindWorkersAI: {
				Kind:    KindWorkersAI,
				Model:   "@cf/meta/llama-3.1-8b-instruct",
				BaseURL: "https://api.cloudflare.com/client/v4",
			},
		},
		Gateway: GatewayConfig{
			Addr:          ":8787",
			Protocol:      ProtocolData,
			StreamTimeout: 5 * time.Minute,
			MaxBodyBytes:  1 << 20,
		},
	}
}

// Load reads the user config file, applies environment overrides and falls
// back to lookup for a missing API key on the default LLM.
func Load(lookup SecretLookup) (*Config, error) {
	return LoadFrom(Path(), lookup)
}

func LoadFrom(path string, lookup SecretLookup) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	var env envOverrides
	if err := envconfig.Process("zag", &env); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.applyEnv(env)

	if llm, ok := cfg.LLMs[cfg.DefaultLLM]; ok && llm.APIKey == "" && lookup != nil {
		if key, err := lookup(cfg.DefaultLLM); err == nil {
			llm.APIKey = key
		}
	}

	for name, llm := range cfg.LLMs {
		if llm.Kind == "" {
			llm.Kind = name
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.DefaultLLM != "" {
		c.DefaultLLM = env.DefaultLLM
	}
	if env.Addr != "" {
		c.Gateway.Addr = env.Addr
	}
	if env.BraveAPIKey != "" {
		c.Services.Brave.APIKey = env.BraveAPIKey
	}
	if env.OTLPEndpoint != "" {
		c.Trace.Enabled = true
		c.Trace.Endpoint = env.OTLPEndpoint
	}

	llm, ok := c.LLMs[c.DefaultLLM]
	if !ok {
		return
	}
	if env.APIKey != "" {
		llm.APIKey = env.APIKey
	}
	if env.AccountID != "" {
		llm.AccountID = env.AccountID
	}
	if env.Model != "" {
		llm.Model = env.Model
	}
}

// Validate reports the first configuration problem that would prevent the
// gateway from serving requests.
func (c *Config) Validate() error {
	llm, ok := c.LLMs[c.DefaultLLM]
	if !ok {
		return fmt.Errorf("default LLM %q not found in config", c.DefaultLLM)
	}
	switch llm.Kind {
	case KindWorkersAI:
		if llm.AccountID == "" {
			return fmt.Errorf("llm %q: account_id is required for %s", c.DefaultLLM, KindWorkersAI)
		}
	case KindOpenAI, KindAnthropic:
	default:
		return fmt.Errorf("llm %q: unknown kind %q", c.DefaultLLM, llm.Kind)
	}
	if llm.Model == "" {
		return fmt.Errorf("llm %q: model is required", c.DefaultLLM)
	}

	switch c.Gateway.Protocol {
	case ProtocolData, ProtocolSSE:
	default:
		return fmt.Errorf("gateway: unknown protocol %q", c.Gateway.Protocol)
	}
	if c.MaxSteps < 1 {
		return errors.New("max_steps must be at least 1")
	}
	if c.Gateway.StreamTimeout <= 0 {
		return errors.New("gateway: stream_timeout must be positive")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return errors.New("gateway: max_body_bytes must be positive")
	}
	return nil
}

// DefaultLLMConfig returns the config of the LLM named by DefaultLLM.
func (c *Config) DefaultLLMConfig() *LLMConfig {
	return c.LLMs[c.DefaultLLM]
}

// Write encodes cfg as TOML to path, creating parent directories.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func Path() string {
	dir, _ := os.UserConfigDir()
	return filepath.Join(dir, "zag", "config.toml")
}
