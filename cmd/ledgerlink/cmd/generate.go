package cmd

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ledgerlink-reconciliation-service/internal/fixtures"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// generateOptions holds the generate command's flags
type generateOptions struct {
	OutDir     string
	Seed       int64
	DateFormat string
	Scenario   fixtures.Scenario
}

var generateOpts = generateOptions{Scenario: fixtures.DefaultScenario()}

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic pair of ledgers for demos and load tests",
	Long: `Generate writes receivables.json (normalized Xero receivables) and
payables.csv (an uploaded bill export) into the output directory. The same
seed always produces the same files.

Example:
  ledgerlink generate --out ./fixtures --seed 42 --pairs 500
  ledgerlink reconcile --receivables ./fixtures/receivables.json \
    --payables ./fixtures/payables.csv --payable-date-format DD/MM/YYYY`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := runGenerate(generateOpts)
		if err != nil {
			return err
		}
		return printPaths(cmd.OutOrStdout(), paths)
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	f := generateCmd.Flags()
	f.StringVar(&generateOpts.OutDir, "out", ".", "output directory")
	f.Int64Var(&generateOpts.Seed, "seed", 1, "random seed")
	f.StringVar(&generateOpts.DateFormat, "date-format", string(normalizer.FormatDayMonthYear), "date format of payables.csv")
	f.IntVar(&generateOpts.Scenario.Pairs, "pairs", generateOpts.Scenario.Pairs, "identical AR/AP pairs")
	f.IntVar(&generateOpts.Scenario.Drifted, "drifted", generateOpts.Scenario.Drifted, "pairs whose AP amount and date drift")
	f.IntVar(&generateOpts.Scenario.ReceivableOnly, "receivable-only", generateOpts.Scenario.ReceivableOnly, "receivables without a payable")
	f.IntVar(&generateOpts.Scenario.PayableOnly, "payable-only", generateOpts.Scenario.PayableOnly, "payables without a receivable")
	f.StringVar(&generateOpts.Scenario.Customer, "customer", "", "counterparty name (random when empty)")
}

// runGenerate writes both ledgers and returns the written paths
func runGenerate(opts generateOptions) ([]string, error) {
	format, err := normalizer.ParseDateFormat(opts.DateFormat)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, opts.OutDir, err)
	}

	ledgers := fixtures.NewGenerator(opts.Seed).Generate(opts.Scenario)

	arPath := filepath.Join(opts.OutDir, "receivables.json")
	if err := writeFile(arPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ledgers.Receivables)
	}); err != nil {
		return nil, err
	}

	apPath := filepath.Join(opts.OutDir, "payables.csv")
	if err := writeFile(apPath, func(w io.Writer) error {
		return writeRows(w, fixtures.Header(), fixtures.Rows(ledgers.Payables, format))
	}); err != nil {
		return nil, err
	}

	logger.GetGlobalLogger().WithComponent("generate").WithFields(logger.Fields{
		"customer":    ledgers.Customer,
		"receivables": len(ledgers.Receivables),
		"payables":    len(ledgers.Payables),
		"seed":        opts.Seed,
	}).Info("Generated ledgers")
	return []string{arPath, apPath}, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if err := write(file); err != nil {
		file.Close()
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

func writeRows(w io.Writer, header []string, rows []normalizer.RawRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i, column := range header {
			value, _ := row.Get(column)
			record[i] = strings.TrimSpace(value)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
