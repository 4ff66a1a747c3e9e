package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/folio/internal/api"
	"github.com/wonny/folio/internal/api/handlers"
	"github.com/wonny/folio/internal/scheduler"
	"github.com/wonny/folio/internal/scheduler/jobs"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the REST API server.

Endpoints:
  GET    /health
  GET    /api/portfolios                          - list portfolios
  POST   /api/portfolios                          - create with first version
  GET    /api/portfolios/{id}?version=n           - effective view
  DELETE /api/portfolios/{id}
  POST   /api/portfolios/{id}/copy
  GET    /api/portfolios/{id}/versions
  POST   /api/portfolios/{id}/versions            - commit tickers
  GET    /api/portfolios/{id}/versions/{n}
  PATCH  /api/portfolios/{id}/allocations
  PATCH  /api/portfolios/{id}/cap-options
  POST   /api/portfolios/{id}/cap-options/apply
  POST   /api/portfolios/{id}/cap-options/{optionID}/activate
  GET|PUT|DELETE /api/staging/{mode}

Example:
  go run ./cmd/folio api
  go run ./cmd/folio api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (default: PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	sched := scheduler.New(a.log)
	if err := sched.AddJob(jobs.NewStagingSweepJob(a.buffer, a.log)); err != nil {
		return err
	}
	if a.db != nil {
		if err := sched.AddJob(jobs.NewDBHealthJob(a.db, a.log)); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	portfolioHandler := handlers.NewPortfolioHandler(a.service, a.buffer, a.log)
	stagingHandler := handlers.NewStagingHandler(a.buffer, a.log)
	router := api.NewRouter(portfolioHandler, stagingHandler, a.cfg.CORSOrigins, a.log)
	server := api.New(a.cfg, a.log, router)

	fmt.Printf("Server running on http://localhost:%s (Ctrl+C to stop)\n", a.cfg.Port)

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}
