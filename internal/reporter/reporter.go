// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the full result envelope for programmatic consumption
//   - CSV: one export category, fully quoted, DD/MM/YYYY dates
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:        reporter.FormatConsole,
//		TableMaxWidth: 120,
//		MaxItems:      10,
//	})
//	err = generator.GenerateReport(reporter.NewReport(id, time.Now(), results), os.Stdout)
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	IncludeMatches   bool `json:"include_matches" mapstructure:"include_matches"`
	IncludeUnmatched bool `json:"include_unmatched" mapstructure:"include_unmatched"`
	IncludeInsights  bool `json:"include_insights" mapstructure:"include_insights"`
	IncludeWarnings  bool `json:"include_warnings" mapstructure:"include_warnings"`
	TableMaxWidth    int  `json:"table_max_width" mapstructure:"table_max_width"`
	MaxItems         int  `json:"max_items" mapstructure:"max_items"`

	// CSVCategory selects the category written by FormatCSV
	CSVCategory Category `json:"csv_category" mapstructure:"csv_category"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:           FormatConsole,
		IncludeMatches:   true,
		IncludeUnmatched: true,
		IncludeInsights:  true,
		IncludeWarnings:  true,
		TableMaxWidth:    120,
		MaxItems:         10,
		CSVCategory:      CategoryPerfectMatches,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return errors.InvalidConfigurationError("format", c.Format, nil).
			WithSuggestion("use one of: console, json, csv")
	}
	if c.TableMaxWidth < 50 {
		return errors.InvalidConfigurationError("table_max_width", c.TableMaxWidth,
			fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth))
	}
	if c.MaxItems < 0 {
		return errors.InvalidConfigurationError("max_items", c.MaxItems,
			fmt.Errorf("max items cannot be negative"))
	}
	if c.Format == FormatCSV {
		if _, err := ParseCategory(string(c.CSVCategory)); err != nil {
			return err
		}
	}
	return nil
}

// Report is the envelope returned for every reconciliation run
type Report struct {
	ReconciliationID string                  `json:"reconciliationId"`
	ProcessedAt      time.Time               `json:"processedAt"`
	Results          *models.MatchingResults `json:"results"`
}

// NewReport wraps results in a report envelope
func NewReport(id string, processedAt time.Time, results *models.MatchingResults) *Report {
	return &Report{
		ReconciliationID: id,
		ProcessedAt:      processedAt.UTC(),
		Results:          results,
	}
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes the report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *Report, writer io.Writer) error {
	if report == nil || report.Results == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "generate_report", fmt.Errorf("report results cannot be nil"))
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return errors.InvalidConfigurationError("format", rg.config.Format, nil)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	r := report.Results
	rule := strings.Repeat("=", min(rg.config.TableMaxWidth, 60))

	fmt.Fprintf(writer, "RECONCILIATION REPORT\n%s\n", rule)
	if report.ReconciliationID != "" {
		fmt.Fprintf(writer, "Reconciliation: %s\n", report.ReconciliationID)
	}
	fmt.Fprintf(writer, "Generated: %s\n\n", report.ProcessedAt.Format(time.RFC3339))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(r, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== TOTALS ===\n")
	rg.printTotals(r.Totals, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeMatches {
		if len(r.PerfectMatches) > 0 {
			fmt.Fprintf(writer, "=== PERFECT MATCHES (%d) ===\n", len(r.PerfectMatches))
			rg.printCandidates(r.PerfectMatches, writer)
			fmt.Fprintf(writer, "\n")
		}
		if len(r.Mismatches) > 0 {
			fmt.Fprintf(writer, "=== MISMATCHES (%d) ===\n", len(r.Mismatches))
			rg.printCandidates(r.Mismatches, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeUnmatched {
		if len(r.UnmatchedItems.Company1) > 0 {
			fmt.Fprintf(writer, "=== UNMATCHED RECEIVABLES (%d) ===\n", len(r.UnmatchedItems.Company1))
			rg.printRecords(r.UnmatchedItems.Company1, writer)
			fmt.Fprintf(writer, "\n")
		}
		if len(r.UnmatchedItems.Company2) > 0 {
			fmt.Fprintf(writer, "=== UNMATCHED PAYABLES (%d) ===\n", len(r.UnmatchedItems.Company2))
			rg.printRecords(r.UnmatchedItems.Company2, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeInsights && len(r.HistoricalInsights) > 0 {
		fmt.Fprintf(writer, "=== HISTORICAL INSIGHTS (%d) ===\n", len(r.HistoricalInsights))
		rg.printInsights(r.HistoricalInsights, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeWarnings && len(r.Warnings) > 0 {
		fmt.Fprintf(writer, "=== WARNINGS (%d) ===\n", len(r.Warnings))
		rg.printWarnings(r.Warnings, writer)
	}

	return nil
}

func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to encode JSON report")
	}
	return nil
}

func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	content, err := ExportCSV(report.Results, rg.config.CSVCategory)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(writer, content+"\n"); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeFilePermission, "failed to write CSV report")
	}
	return nil
}

func (rg *ReportGenerator) printSummaryTable(r *models.MatchingResults, writer io.Writer) {
	fmt.Fprintf(writer, "Receivables: %d    Payables: %d    Match rate: %.1f%%\n\n",
		r.ReceivableCount(), r.PayableCount(), r.MatchRate())

	fmt.Fprintf(writer, "%-22s %6s %14s %14s %8s\n", "Bucket", "Count", "Receivables", "Payables", "Share")
	for _, b := range r.Summary {
		fmt.Fprintf(writer, "%-22s %6d %14s %14s %7s%%\n",
			b.Bucket, b.Count,
			b.Company1Amount.StringFixed(2), b.Company2Amount.StringFixed(2),
			b.Percentage.StringFixed(2))
	}
	if len(r.DateMismatches) > 0 {
		fmt.Fprintf(writer, "%-22s %6d\n", "dateMismatches", len(r.DateMismatches))
	}
}

func (rg *ReportGenerator) printTotals(t models.Totals, writer io.Writer) {
	fmt.Fprintf(writer, "Receivables total: %s\n", t.Company1Total.StringFixed(2))
	fmt.Fprintf(writer, "Payables total:    %s\n", t.Company2Total.StringFixed(2))
	fmt.Fprintf(writer, "Variance:          %s\n", t.Variance.StringFixed(2))
}

func (rg *ReportGenerator) printCandidates(candidates []models.MatchCandidate, writer io.Writer) {
	for i, m := range candidates {
		if rg.truncate(i, len(candidates), writer) {
			break
		}
		line := fmt.Sprintf("  %d. %s (%s, %s) <-> %s (%s, %s) confidence %d",
			i+1,
			m.Receivable.TransactionNumber, m.Receivable.Amount.StringFixed(2), formatDate(m.Receivable.IssueDate),
			m.Payable.TransactionNumber, m.Payable.Amount.StringFixed(2), formatDate(m.Payable.IssueDate),
			m.Confidence)
		if len(m.Differences) > 0 {
			line += " [" + formatDifferences(m.Differences) + "]"
		}
		fmt.Fprintln(writer, rg.clip(line))
	}
}

func (rg *ReportGenerator) printRecords(records []models.TransactionRecord, writer io.Writer) {
	for i, rec := range records {
		if rg.truncate(i, len(records), writer) {
			break
		}
		line := fmt.Sprintf("  %d. %s %s %s %s", i+1,
			rec.TransactionNumber, rec.Amount.StringFixed(2), formatDate(rec.IssueDate), rec.TransactionType)
		if rec.Reference != "" {
			line += " ref " + rec.Reference
		}
		fmt.Fprintln(writer, rg.clip(line))
	}
}

func (rg *ReportGenerator) printInsights(insights []models.HistoricalInsight, writer io.Writer) {
	for i, in := range insights {
		if rg.truncate(i, len(insights), writer) {
			break
		}
		fmt.Fprintln(writer, rg.clip(fmt.Sprintf("  %d. [%s] %s", i+1, strings.ToUpper(string(in.Insight.Severity)), in.Insight.Message)))
	}
}

func (rg *ReportGenerator) printWarnings(warnings []models.Warning, writer io.Writer) {
	for i, w := range warnings {
		if rg.truncate(i, len(warnings), writer) {
			break
		}
		location := fmt.Sprintf("%s %s", w.Side, w.Source)
		if w.Row > 0 {
			location += fmt.Sprintf(" row %d", w.Row)
		}
		fmt.Fprintln(writer, rg.clip(fmt.Sprintf("  - %s: %s (%s=%q)", location, w.Message, w.Field, w.Value)))
	}
}

// truncate prints the overflow line once MaxItems entries were shown
func (rg *ReportGenerator) truncate(i, total int, writer io.Writer) bool {
	if rg.config.MaxItems > 0 && i >= rg.config.MaxItems {
		fmt.Fprintf(writer, "  ... and %d more\n", total-rg.config.MaxItems)
		return true
	}
	return false
}

func (rg *ReportGenerator) clip(line string) string {
	if len(line) <= rg.config.TableMaxWidth {
		return line
	}
	return line[:rg.config.TableMaxWidth-3] + "..."
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
