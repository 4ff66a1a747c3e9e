package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Folio - versioned portfolio weights",
	Long: `Folio CLI

Versioned stock portfolios with allocation and cap-and-redistribute
weight adjustments. Weights are computed by the external math engine
(ENGINE_URL).

Usage:
  go run ./cmd/folio [command]

Examples:
  go run ./cmd/folio api
  go run ./cmd/folio migrate
  go run ./cmd/folio show <portfolio-id> --version 2
  go run ./cmd/folio versions <portfolio-id>`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
