package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zag/internal/agent"
	"zag/internal/config"
	"zag/internal/credentials"
	"zag/internal/gateway"
	"zag/internal/llm"
	"zag/internal/tools"
	"zag/internal/trace"
)

var addr string

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(credentials.Get)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if addr != "" {
			cfg.Gateway.Addr = addr
		}

		shutdown, err := trace.Init(ctx, cfg.Trace)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Error("trace shutdown", "error", err)
			}
		}()

		provider, err := llm.New(cfg.DefaultLLMConfig())
		if err != nil {
			return fmt.Errorf("creating provider: %w", err)
		}

		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		runner := agent.NewStreamRunner(provider, registry,
			agent.WithSystemPrompt(cfg.SystemPrompt),
			agent.WithMaxSteps(cfg.MaxSteps),
			agent.WithToolCallStreaming(cfg.Gateway.ToolCallStreaming),
		)

		srv := gateway.NewServer(runner, cfg.Gateway)
		slog.Info("starting gateway",
			"addr", cfg.Gateway.Addr,
			"llm", cfg.DefaultLLM,
			"model", cfg.DefaultLLMConfig().Model,
			"protocol", cfg.Gateway.Protocol,
		)
		return srv.ListenAndServe(ctx, cfg.Gateway.Addr)
	},
}

func init() {
	Cmd.Flags().StringVarP(&addr, "addr", "a", "", "override gateway listen address")
}

func buildRegistry(cfg *config.Config) (*agent.Registry, error) {
	list := []agent.Tool{&tools.Weather{}}
	if cfg.Services.Brave.APIKey != "" {
		web, err := tools.NewWeb(cfg.Services.Brave.APIKey)
		if err != nil {
			return nil, fmt.Errorf("creating web search tool: %w", err)
		}
		list = append(list, web)
	}
	registry, err := agent.NewRegistry(list...)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}
	for _, t := range registry.All() {
		slog.Info("tool registered", "name", t.Name())
	}
	return registry, nil
}
