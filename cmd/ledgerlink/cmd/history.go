package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ledgerlink-reconciliation-service/cmd/ledgerlink/config"
	"ledgerlink-reconciliation-service/internal/history"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// historyImportOptions holds the history import command's flags
type historyImportOptions struct {
	File                string
	DateFormat          string
	DefaultCounterparty string
}

var historyImportOpts historyImportOptions

// historyCmd groups the history subcommands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage the historical receivables used for insights",
}

// historyImportCmd represents the history import command
var historyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a CSV export of past receivables into the configured backend",
	Long: `Import reads a CSV export of past receivables, normalizes it and saves
the records per counterparty into the redis or postgres history backend.
Records with the same transaction number replace the stored ones.

Example:
  LEDGERLINK_HISTORY_BACKEND=postgres \
  LEDGERLINK_HISTORY_POSTGRES_DSN=postgres://localhost/ledgerlink?sslmode=disable \
    ledgerlink history import --file ar-2023.csv --date-format YYYY-MM-DD`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistoryImport(cmd.Context(), cfg, historyImportOpts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyImportCmd)

	f := historyImportCmd.Flags()
	f.StringVar(&historyImportOpts.File, "file", "", "CSV export of past receivables (required)")
	f.StringVar(&historyImportOpts.DateFormat, "date-format", string(normalizer.FormatISO), "date format of the file")
	f.StringVar(&historyImportOpts.DefaultCounterparty, "counterparty", "", "counterparty for rows without one")
	historyImportCmd.MarkFlagRequired("file")
}

func runHistoryImport(ctx context.Context, c *config.Config, opts historyImportOptions, w io.Writer) error {
	log := logger.GetGlobalLogger().WithComponent("history")

	if c.History.Backend != config.BackendRedis && c.History.Backend != config.BackendPostgres {
		return errors.InvalidConfigurationError("history.backend", c.History.Backend,
			fmt.Errorf("import needs a persistent backend")).
			WithSuggestion("set history.backend to redis or postgres")
	}

	format, err := normalizer.ParseDateFormat(opts.DateFormat)
	if err != nil {
		return err
	}
	loaded, batch, err := history.LoadCSV(ctx, opts.File, history.LoadOptions{
		DateFormat:          format,
		DefaultCounterparty: opts.DefaultCounterparty,
	})
	if err != nil {
		return err
	}

	store, closeHistory, err := c.History.Open(ctx, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	writer, ok := store.(history.Writer)
	if !ok {
		return errors.InternalError(errors.CodeUnexpectedError, "history import", fmt.Errorf("%T is read-only", store))
	}

	saved := 0
	for _, counterparty := range loaded.Counterparties() {
		records, err := loaded.Lookup(ctx, counterparty)
		if err != nil {
			return err
		}
		if err := writer.Save(ctx, counterparty, records); err != nil {
			return err
		}
		saved += len(records)
	}

	fmt.Fprintf(w, "Imported %d records for %d counterparties (%d rows rejected)\n",
		saved, len(loaded.Counterparties()), batch.Stats.Rejected)
	for _, warning := range batch.Warnings() {
		log.WithFields(logger.Fields{
			"row":   warning.Row,
			"field": warning.Field,
		}).Warn(warning.Message)
	}
	return nil
}
