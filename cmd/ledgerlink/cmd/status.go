package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"ledgerlink-reconciliation-service/cmd/ledgerlink/config"
	"ledgerlink-reconciliation-service/internal/connection"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the connection state of every configured provider",
	Long: `Status runs one connection check per provider configured under
connections.providers and prints the resulting states. The command fails
when any provider is not authenticated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context, c *config.Config, w io.Writer) error {
	log := logger.GetGlobalLogger().WithComponent("status")

	// a single check per provider, no polling
	monitors := *c
	monitors.Monitor = c.Monitor.Clone()
	monitors.Monitor.PollInterval = 0

	session, err := monitors.Session(nil, log)
	if err != nil {
		return err
	}
	if err := session.Init(ctx); err != nil {
		return err
	}
	defer session.Teardown()

	statuses := session.Statuses()
	if len(statuses) == 0 {
		fmt.Fprintln(w, "No providers configured")
		return nil
	}

	fmt.Fprintf(w, "%-16s %-16s %-20s %s\n", "PROVIDER", "STATE", "CHECKED", "DETAIL")
	var failed *connection.Status
	for i, s := range statuses {
		checked := "-"
		if !s.LastChecked.IsZero() {
			checked = s.LastChecked.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%-16s %-16s %-20s %s\n", s.Provider, s.State, checked, s.Error)
		if s.State != connection.StateAuthenticated && failed == nil {
			failed = &statuses[i]
		}
	}

	if failed != nil {
		code := errors.CodeConnectionFailed
		if failed.State == connection.StateUnauthenticated {
			code = errors.CodeUnauthenticated
		}
		return errors.ConnectionError(code, failed.Provider, nil)
	}
	return nil
}
