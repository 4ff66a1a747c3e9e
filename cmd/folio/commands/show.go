package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/folio/internal/portfolio"
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <portfolio-id>",
	Short: "Print the effective state of a portfolio",
	Long: `Prints tickers with base and adjusted weights, allocations and
cap options. --version shows a historical snapshot instead.

Example:
  go run ./cmd/folio show 6f1c...
  go run ./cmd/folio show 6f1c... --version 2`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var showVersion int

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().IntVar(&showVersion, "version", 0, "version number (default: current)")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var n *int
	if showVersion > 0 {
		n = &showVersion
	}

	view, err := a.service.View(ctx, args[0], n)
	if err != nil {
		return err
	}
	return portfolio.Render(os.Stdout, view)
}
