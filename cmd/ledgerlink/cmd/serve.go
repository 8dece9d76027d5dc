package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledgerlink-reconciliation-service/cmd/ledgerlink/config"
	"ledgerlink-reconciliation-service/internal/api"
	"ledgerlink-reconciliation-service/internal/reconciler"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reconciliations and connection status over HTTP",
	Long: `Serve starts the HTTP API. Every provider under connections.providers
in the config file is checked on start-up and polled while the server runs.

Examples:
  ledgerlink serve --config ledgerlink.yaml
  LEDGERLINK_SERVER_ADDRESS=:9090 LEDGERLINK_HISTORY_BACKEND=redis \
    LEDGERLINK_HISTORY_REDIS_URL=redis://localhost:6379/0 ledgerlink serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("address", "", "listen address (overrides server.address)")
	viper.BindPFlag("server.address", serveCmd.Flags().Lookup("address"))
}

func runServe(ctx context.Context, c *config.Config) error {
	log := logger.GetGlobalLogger().WithComponent("serve")

	store, closeHistory, err := c.History.Open(ctx, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	service, err := reconciler.NewService(c.Reconciler, store, log)
	if err != nil {
		return err
	}

	session, err := c.Session(nil, log)
	if err != nil {
		return err
	}
	if err := session.Init(ctx); err != nil {
		return err
	}
	defer session.Teardown()

	server, err := api.NewAPI(service, session, c.Server, log)
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"history_backend": c.History.Backend,
		"providers":       len(c.Providers),
		"profile":         c.Profile,
	}).Info("Starting ledgerlink")
	return server.Serve(ctx)
}
