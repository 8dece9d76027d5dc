package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ledgerlink-reconciliation-service/internal/reporter"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

type exportOptions struct {
	ReportFile string
	OutDir     string
	Prefix     string
	Categories []string
}

var exportOpts exportOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write category CSVs from a saved JSON report",
	Long: `Export reads a report written by 'ledgerlink reconcile --output-format json'
and writes one CSV per category, named {prefix}_{category}_{YYYY-MM-DD}.csv
after the date the reconciliation was processed.

Examples:
  ledgerlink reconcile -r ar.json -p bills.csv --payable-date-format DD/MM/YYYY -f json -o run.json
  ledgerlink export --report run.json --out ./exports --prefix acme
  ledgerlink export --report run.json --out ./exports --category mismatches`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := runExport(exportOpts)
		if err != nil {
			return err
		}
		return printPaths(cmd.OutOrStdout(), paths)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	f := exportCmd.Flags()
	f.StringVar(&exportOpts.ReportFile, "report", "", "JSON report produced by reconcile (required)")
	f.StringVar(&exportOpts.OutDir, "out", ".", "output directory")
	f.StringVar(&exportOpts.Prefix, "prefix", reporter.DefaultExportPrefix, "file name prefix")
	f.StringSliceVar(&exportOpts.Categories, "category", nil, "categories to export (default: all)")

	exportCmd.MarkFlagRequired("report")
}

// runExport decodes the report and writes the selected categories
func runExport(opts exportOptions) ([]string, error) {
	data, err := readFile(opts.ReportFile)
	if err != nil {
		return nil, err
	}

	var report reporter.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeFileCorrupted,
			fmt.Sprintf("cannot decode report %s", filepath.Base(opts.ReportFile))).
			WithContext("file_path", opts.ReportFile).
			WithSuggestion("pass a report written with --output-format json")
	}
	if report.Results == nil {
		return nil, errors.New(errors.CategoryFile, errors.CodeFileCorrupted, "report has no results").
			WithContext("file_path", opts.ReportFile)
	}

	categories := reporter.Categories()
	if len(opts.Categories) > 0 {
		categories = categories[:0:0]
		for _, name := range opts.Categories {
			c, err := reporter.ParseCategory(name)
			if err != nil {
				return nil, err
			}
			categories = append(categories, c)
		}
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, opts.OutDir, err)
	}

	paths := make([]string, 0, len(categories))
	for _, c := range categories {
		content, err := reporter.ExportCSV(report.Results, c)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(opts.OutDir, c.Filename(opts.Prefix, report.ProcessedAt))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return paths, errors.FileError(errors.CodeFilePermission, path, err)
		}
		paths = append(paths, path)
	}

	logger.GetGlobalLogger().WithComponent("cli").WithFields(logger.Fields{
		"reconciliation_id": report.ReconciliationID,
		"files":             len(paths),
	}).Info("Exported reconciliation categories")
	return paths, nil
}

func printPaths(w io.Writer, paths []string) error {
	for _, p := range paths {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
