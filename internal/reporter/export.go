package reporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// ExportDateFormat is the date format of every exported CSV
const ExportDateFormat = normalizer.FormatDayMonthYear

// DefaultExportPrefix is used when no file prefix is given
const DefaultExportPrefix = "reconciliation"

// Category names one exportable slice of a reconciliation result
type Category string

const (
	CategoryPerfectMatches       Category = "perfect_matches"
	CategoryMismatches           Category = "mismatches"
	CategoryDateMismatches       Category = "date_mismatches"
	CategoryUnmatchedReceivables Category = "unmatched_receivables"
	CategoryUnmatchedPayables    Category = "unmatched_payables"
	CategoryHistoricalInsights   Category = "historical_insights"
)

// Categories returns every exportable category in display order
func Categories() []Category {
	return []Category{
		CategoryPerfectMatches,
		CategoryMismatches,
		CategoryDateMismatches,
		CategoryUnmatchedReceivables,
		CategoryUnmatchedPayables,
		CategoryHistoricalInsights,
	}
}

// ParseCategory validates a category name
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", errors.InvalidConfigurationError("category", s, nil).
		WithSuggestion(fmt.Sprintf("use one of: %s", joinCategories()))
}

func joinCategories() string {
	names := make([]string, 0, len(Categories()))
	for _, c := range Categories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

// Filename returns {prefix}_{category}_{YYYY-MM-DD}.csv
func (c Category) Filename(prefix string, on time.Time) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultExportPrefix
	}
	return fmt.Sprintf("%s_%s_%s.csv", prefix, c, on.Format(models.DateLayout))
}

// Column labels
const (
	labelTransactionNumber  = "Transaction #"
	labelType               = "Type"
	labelIssueDate          = "Issue Date"
	labelDueDate            = "Due Date"
	labelAmount             = "Amount"
	labelStatus             = "Status"
	labelReference          = "Reference"
	labelCounterparty       = "Counterparty"
	labelSource             = "Source"
	labelReceivableAmount   = "Receivable Amount"
	labelPayableTransaction = "Payable Transaction #"
	labelPayableDate        = "Payable Date"
	labelPayableAmount      = "Payable Amount"
	labelConfidence         = "Confidence"
	labelMatchedOn          = "Matched On"
	labelDifferences        = "Differences"
	labelHistoricalNumber   = "Historical Transaction #"
	labelHistoricalDate     = "Historical Issue Date"
	labelHistoricalAmount   = "Historical Amount"
	labelHistoricalOriginal = "Historical Original Amount"
	labelHistoricalPaid     = "Historical Amount Paid"
	labelInsight            = "Insight"
	labelSeverity           = "Severity"
	labelMessage            = "Message"
)

var candidateHeader = []string{
	labelTransactionNumber, labelIssueDate, labelReceivableAmount,
	labelPayableTransaction, labelPayableDate, labelPayableAmount,
	labelReference, labelConfidence, labelMatchedOn, labelDifferences,
}

var recordHeader = []string{
	labelTransactionNumber, labelType, labelIssueDate, labelDueDate, labelAmount,
	labelStatus, labelReference, labelCounterparty, labelSource,
}

var insightHeader = []string{
	labelTransactionNumber, labelIssueDate, labelAmount, labelCounterparty,
	labelHistoricalNumber, labelHistoricalDate, labelHistoricalAmount,
	labelHistoricalOriginal, labelHistoricalPaid,
	labelInsight, labelSeverity, labelMessage,
}

// Header returns the column labels of a category
func Header(c Category) []string {
	switch c {
	case CategoryUnmatchedReceivables, CategoryUnmatchedPayables:
		return append([]string(nil), recordHeader...)
	case CategoryHistoricalInsights:
		return append([]string(nil), insightHeader...)
	default:
		return append([]string(nil), candidateHeader...)
	}
}

// ExportCSV renders one category of results. Every field is quoted with
// internal quotes doubled and rows are joined with "\n".
func ExportCSV(results *models.MatchingResults, c Category) (string, error) {
	if results == nil {
		return "", errors.InternalError(errors.CodeUnexpectedError, "export_csv", fmt.Errorf("results cannot be nil"))
	}

	rows := [][]string{Header(c)}
	switch c {
	case CategoryPerfectMatches:
		rows = appendCandidates(rows, results.PerfectMatches)
	case CategoryMismatches:
		rows = appendCandidates(rows, results.Mismatches)
	case CategoryDateMismatches:
		rows = appendCandidates(rows, results.DateMismatches)
	case CategoryUnmatchedReceivables:
		rows = appendRecords(rows, results.UnmatchedItems.Company1)
	case CategoryUnmatchedPayables:
		rows = appendRecords(rows, results.UnmatchedItems.Company2)
	case CategoryHistoricalInsights:
		rows = appendInsights(rows, results.HistoricalInsights)
	default:
		_, err := ParseCategory(string(c))
		return "", err
	}

	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = quoteRow(row)
	}
	return strings.Join(lines, "\n"), nil
}

// ExportFiles writes every category into dir and returns the written paths
func ExportFiles(results *models.MatchingResults, dir, prefix string, on time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, dir, err)
	}

	paths := make([]string, 0, len(Categories()))
	for _, c := range Categories() {
		content, err := ExportCSV(results, c)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, c.Filename(prefix, on))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return paths, errors.FileError(errors.CodeFilePermission, path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func appendCandidates(rows [][]string, candidates []models.MatchCandidate) [][]string {
	for _, m := range candidates {
		rows = append(rows, []string{
			m.Receivable.TransactionNumber,
			formatDate(m.Receivable.IssueDate),
			formatAmount(m.Receivable),
			m.Payable.TransactionNumber,
			formatDate(m.Payable.IssueDate),
			formatAmount(m.Payable),
			m.Payable.Reference,
			strconv.Itoa(m.Confidence),
			formatSignals(m.MatchedOn),
			formatDifferences(m.Differences),
		})
	}
	return rows
}

func appendRecords(rows [][]string, records []models.TransactionRecord) [][]string {
	for _, r := range records {
		due := ""
		if r.DueDate != nil {
			due = formatDate(*r.DueDate)
		}
		rows = append(rows, []string{
			r.TransactionNumber,
			string(r.TransactionType),
			formatDate(r.IssueDate),
			due,
			formatAmount(r),
			string(r.Status),
			r.Reference,
			r.Counterparty,
			string(r.SourceSystem),
		})
	}
	return rows
}

func appendInsights(rows [][]string, insights []models.HistoricalInsight) [][]string {
	for _, in := range insights {
		h := in.HistoricalMatch
		rows = append(rows, []string{
			in.APItem.TransactionNumber,
			formatDate(in.APItem.IssueDate),
			formatAmount(in.APItem),
			in.APItem.Counterparty,
			h.TransactionNumber,
			formatDate(h.IssueDate),
			formatAmount(h),
			h.OriginalAmount.StringFixed(2),
			h.AmountPaid.StringFixed(2),
			string(in.Insight.Type),
			string(in.Insight.Severity),
			in.Insight.Message,
		})
	}
	return rows
}

func formatDate(t time.Time) string {
	return ExportDateFormat.Format(t)
}

func formatAmount(r models.TransactionRecord) string {
	return r.Amount.StringFixed(2)
}

func formatSignals(signals []models.MatchSignal) string {
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = string(s)
	}
	return strings.Join(names, "; ")
}

// formatDifferences renders "field: ar -> ap" pairs, dates in export format
func formatDifferences(diffs []models.Difference) string {
	parts := make([]string, len(diffs))
	for i, d := range diffs {
		ar, ap := d.ARValue, d.APValue
		if d.Field == models.FieldIssueDate {
			ar, ap = reformatDate(ar), reformatDate(ap)
		}
		parts[i] = fmt.Sprintf("%s: %s -> %s", d.Field, ar, ap)
	}
	return strings.Join(parts, "; ")
}

func reformatDate(value string) string {
	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return value
	}
	return formatDate(t)
}

func quoteRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}
