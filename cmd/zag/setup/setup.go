package setup

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zag/internal/config"
	"zag/internal/credentials"
)

var (
	apiKey   string
	llm      string
	force    bool
	clearKey bool
)

var Cmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a default config file and store API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Path()
		out := cmd.OutOrStdout()
		name := llm
		if name == "" {
			name = config.Default().DefaultLLM
		}

		if clearKey {
			err := credentials.Delete(name)
			switch {
			case errors.Is(err, credentials.ErrNotFound):
				fmt.Fprintf(out, "no api key stored for %s\n", name)
				return nil
			case err != nil:
				return fmt.Errorf("removing api key: %w", err)
			}
			fmt.Fprintf(out, "removed api key for %s from the system keyring\n", name)
			return nil
		}

		_, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist) || force:
			if err := config.Write(path, config.Default()); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Fprintf(out, "wrote %s\n", path)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "config exists at %s (use --force to overwrite)\n", path)
		}

		if apiKey == "" {
			return nil
		}
		if err := credentials.Set(name, apiKey); err != nil {
			return fmt.Errorf("storing api key: %w", err)
		}
		fmt.Fprintf(out, "stored api key for %s in the system keyring\n", name)
		return nil
	},
}

func init() {
	Cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to store in the system keyring")
	Cmd.Flags().StringVar(&llm, "llm", "", "LLM the API key belongs to (default: the default LLM)")
	Cmd.Flags().BoolVar(&clearKey, "clear-key", false, "remove the stored API key instead of writing config")
	Cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
}
