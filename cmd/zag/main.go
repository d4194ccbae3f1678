package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"zag/cmd/zag/chat"
	"zag/cmd/zag/serve"
	"zag/cmd/zag/setup"
	"zag/internal/logger"
)

func main() {
	// A missing .env is fine; the environment and config file still apply.
	_ = godotenv.Load()
	logger.Init()

	rootCmd := &cobra.Command{
		Use:          "zag",
		Short:        "Zag is a streaming AI chat agent",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serve.Cmd)
	rootCmd.AddCommand(chat.Cmd)
	rootCmd.AddCommand(setup.Cmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
