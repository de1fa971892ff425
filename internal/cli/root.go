package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentineld",
	Short: "LLM-judged reverse-proxy WAF",
	Long:  "sentineld sits in front of an upstream service, asks an LLM to judge every request against a hot-reloadable rulebook, and learns new rules from what it flags.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
