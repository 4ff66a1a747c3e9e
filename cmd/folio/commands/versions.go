package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/folio/internal/portfolio"
)

// versionsCmd represents the versions command
var versionsCmd = &cobra.Command{
	Use:   "versions <portfolio-id>",
	Short: "List the version history of a portfolio",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

func runVersions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	versions, err := a.service.Versions(ctx, args[0])
	if err != nil {
		return err
	}
	return portfolio.RenderVersions(os.Stdout, versions)
}
