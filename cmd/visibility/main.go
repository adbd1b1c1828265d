// Command visibility runs brand-visibility experiments from the terminal:
// it loads an experiment definition, samples the configured LLM provider
// N times, and prints or persists the aggregated visibility report.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is fine; explicit environment always wins.
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "visibility",
		Short: "Monte Carlo brand-visibility measurement for LLM responses",
		Long: `visibility samples an LLM repeatedly with a fixed prompt and measures
how often, how prominently, and in what tone a target brand appears in
the responses. Repeated sampling turns the model's nondeterminism into
a statistic instead of an anecdote.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(&verbose),
		newShowCmd(),
		newListCmd(),
		newProvidersCmd(),
	)
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
