package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledgerlink-reconciliation-service/cmd/ledgerlink/config"
	"ledgerlink-reconciliation-service/internal/reconciler"
	"ledgerlink-reconciliation-service/internal/reporter"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// reconcileOptions holds the reconcile command's flags
type reconcileOptions struct {
	Receivables  inputFile
	Payables     inputFile
	CustomerID   string
	UseHistory   bool
	OutputFile   string
	ExportDir    string
	ExportPrefix string
}

var reconcileOpts reconcileOptions

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match receivables against a counterparty's payables",
	Long: `Reconcile normalizes both ledgers, scores every receivable/payable pair
and reports perfect matches, mismatches, date mismatches and unmatched
items on both sides.

Receivables and payables are read from .csv exports or .json documents
(Xero invoice responses, Coupa invoice lists or normalized records).
CSV files need the date format their dates are written in.

Examples:
  # Xero receivables against an uploaded CSV of bills
  ledgerlink reconcile --receivables xero.json --payables bills.csv \
    --payable-date-format DD/MM/YYYY

  # JSON report with historical insights from the configured backend
  ledgerlink reconcile --receivables ar.json --payables bills.csv \
    --payable-date-format DD/MM/YYYY --history --output-format json

  # Also write one CSV per category
  ledgerlink reconcile --receivables ar.json --payables bills.csv \
    --payable-date-format DD/MM/YYYY --export-dir ./out --export-prefix acme`,

	PreRunE: validateReconcileFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runReconcile(ctx, cfg, reconcileOpts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	f := reconcileCmd.Flags()
	f.StringVarP(&reconcileOpts.Receivables.Path, "receivables", "r", "", "receivables file, .csv or .json (required)")
	f.StringVar(&reconcileOpts.Receivables.Source, "receivable-source", "", "receivables source: xero, csv, coupa (inferred when empty)")
	f.StringVar(&reconcileOpts.Receivables.DateFormat, "receivable-date-format", "", "date format of the receivables file, e.g. YYYY-MM-DD")
	f.StringVarP(&reconcileOpts.Payables.Path, "payables", "p", "", "payables file, .csv or .json (required)")
	f.StringVar(&reconcileOpts.Payables.Source, "payable-source", "", "payables source: xero, csv, coupa (inferred when empty)")
	f.StringVar(&reconcileOpts.Payables.DateFormat, "payable-date-format", "", "date format of the payables file, e.g. DD/MM/YYYY")

	f.StringVar(&reconcileOpts.CustomerID, "customer", "", "customer identifier used for logging and history lookups")
	f.BoolVar(&reconcileOpts.UseHistory, "history", false, "generate historical insights for unmatched payables")

	f.StringP("output-format", "f", string(reporter.FormatConsole), "output format: console, json, csv")
	f.String("csv-category", string(reporter.CategoryPerfectMatches), "category written by --output-format csv")
	f.StringVarP(&reconcileOpts.OutputFile, "output-file", "o", "", "output file path (default: stdout)")
	f.StringVar(&reconcileOpts.ExportDir, "export-dir", "", "also write one CSV per category into this directory")
	f.StringVar(&reconcileOpts.ExportPrefix, "export-prefix", reporter.DefaultExportPrefix, "file name prefix of exported CSVs")

	reconcileCmd.MarkFlagRequired("receivables")
	reconcileCmd.MarkFlagRequired("payables")

	viper.BindPFlag("report.format", f.Lookup("output-format"))
	viper.BindPFlag("report.csv_category", f.Lookup("csv-category"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	for _, in := range []inputFile{reconcileOpts.Receivables, reconcileOpts.Payables} {
		if err := validateFileExists(in.Path); err != nil {
			return err
		}
	}

	if reconcileOpts.OutputFile != "" {
		dir := filepath.Dir(reconcileOpts.OutputFile)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return errors.FileError(errors.CodeFileNotFound, dir, err).
				WithSuggestion("create the output directory first")
		}
	}
	return nil
}

func validateFileExists(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, path, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if info.IsDir() {
		return errors.New(errors.CategoryFile, errors.CodeFileCorrupted, "expected a file, got a directory").
			WithContext("file_path", path)
	}
	return nil
}

// runReconcile reconciles the two files and writes the report to stdout or
// the output file
func runReconcile(ctx context.Context, c *config.Config, opts reconcileOptions, stdout io.Writer) error {
	log := logger.GetGlobalLogger().WithComponent("cli")

	receivables, err := loadBatch(ctx, opts.Receivables)
	if err != nil {
		return err
	}
	payables, err := loadBatch(ctx, opts.Payables)
	if err != nil {
		return err
	}

	historyStore, closeHistory, err := c.History.Open(ctx, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	service, err := reconciler.NewService(c.Reconciler, historyStore, log)
	if err != nil {
		return err
	}

	results, err := service.Reconcile(ctx, &reconciler.Request{
		CustomerID:        opts.CustomerID,
		Receivables:       receivables,
		Payables:          payables,
		UseHistoricalData: opts.UseHistory,
	})
	if err != nil {
		return err
	}

	report := reporter.NewReport(uuid.NewString(), time.Now(), results)

	generator, err := reporter.NewSafeReportGenerator(c.Report, log)
	if err != nil {
		return err
	}

	out := stdout
	if opts.OutputFile != "" {
		file, err := os.Create(opts.OutputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, opts.OutputFile, err)
		}
		defer file.Close()
		out = file
	}
	if err := generator.GenerateReportSafely(report, out); err != nil {
		return err
	}

	if opts.ExportDir != "" {
		paths, err := reporter.ExportFiles(results, opts.ExportDir, opts.ExportPrefix, report.ProcessedAt)
		if err != nil {
			return err
		}
		log.WithFields(logger.Fields{
			"reconciliation_id": report.ReconciliationID,
			"directory":         opts.ExportDir,
			"files":             len(paths),
		}).Info("Exported reconciliation categories")
	}

	log.WithFields(logger.Fields{
		"reconciliation_id": report.ReconciliationID,
		"perfect_matches":   len(results.PerfectMatches),
		"mismatches":        len(results.Mismatches),
		"date_mismatches":   len(results.DateMismatches),
		"unmatched_ar":      len(results.UnmatchedItems.Company1),
		"unmatched_ap":      len(results.UnmatchedItems.Company2),
		"warnings":          len(results.Warnings),
	}).Debug("Reconciliation completed")
	return nil
}
