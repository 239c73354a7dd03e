// Package cli implements the llm-mux command-line entry points.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "llm-mux",
	Short: "A multi-provider LLM API gateway",
	Long: `llm-mux translates OpenAI, Gemini, and Claude-shaped chat requests into
whichever upstream provider is configured, so a single client library can
talk to any of them through its own preferred wire format.`,
}

// Execute runs the root command; it is the sole entry point cmd/llm-mux
// invokes from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml (default: $XDG_CONFIG_HOME/llm-mux/config.yaml)")
}
