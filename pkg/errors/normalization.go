package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// RecordLocation identifies the source record a normalization failure refers to.
type RecordLocation struct {
	Source            string `json:"source"`
	Side              string `json:"side"`
	Row               int    `json:"row,omitempty"`
	TransactionNumber string `json:"transactionNumber,omitempty"`
	Field             string `json:"field"`
	Value             string `json:"value"`
	Expected          string `json:"expected,omitempty"`
}

// NormalizationError is a per-record failure. It excludes the record from
// matching but does not fail the batch.
type NormalizationError struct {
	*ReconcilerError
	Location *RecordLocation `json:"location"`
	Examples []string        `json:"examples,omitempty"`
}

// Error implements the error interface with the record location appended
func (e *NormalizationError) Error() string {
	parts := []string{e.ReconcilerError.Error()}

	if e.Location != nil {
		location := fmt.Sprintf("at %s", e.Location.Source)
		if e.Location.Row > 0 {
			location += fmt.Sprintf(" row %d", e.Location.Row)
		}
		if e.Location.Field != "" {
			location += fmt.Sprintf(" field '%s'", e.Location.Field)
		}
		parts = append(parts, location)
	}

	return strings.Join(parts, " ")
}

// GetDetailedError returns a multi-line description for CLI output
func (e *NormalizationError) GetDetailedError() string {
	var lines []string

	lines = append(lines, fmt.Sprintf("ERROR: %s", e.Message))

	if loc := e.Location; loc != nil {
		lines = append(lines, fmt.Sprintf("  → Source: %s (%s)", loc.Source, loc.Side))
		if loc.Row > 0 {
			lines = append(lines, fmt.Sprintf("  → Row: %d", loc.Row))
		}
		if loc.TransactionNumber != "" {
			lines = append(lines, fmt.Sprintf("  → Transaction: %s", loc.TransactionNumber))
		}
		lines = append(lines, fmt.Sprintf("  → Field: %s", loc.Field))
		lines = append(lines, fmt.Sprintf("  → Value: '%s'", loc.Value))
		if loc.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", loc.Expected))
		}
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples: "+strings.Join(e.Examples, ", "))
	}

	return strings.Join(lines, "\n")
}

// WithExamples adds example values to help fix the record
func (e *NormalizationError) WithExamples(examples ...string) *NormalizationError {
	e.Examples = examples
	return e
}

// WithSuggestion adds a suggestion and returns the NormalizationError
func (e *NormalizationError) WithSuggestion(suggestion string) *NormalizationError {
	e.ReconcilerError.WithSuggestion(suggestion)
	return e
}

// NormalizationFailure creates a per-record normalization error
func NormalizationFailure(code ErrorCode, loc *RecordLocation, reason string, cause error) *NormalizationError {
	base := newOrWrap(cause, CategoryNormalization, code, reason)

	if loc != nil {
		base.WithContext("source", loc.Source).
			WithContext("side", loc.Side).
			WithContext("row", loc.Row).
			WithContext("field", loc.Field).
			WithContext("value", loc.Value)
	}

	return &NormalizationError{
		ReconcilerError: base,
		Location:        loc,
	}
}

// AsNormalizationError extracts a NormalizationError from an error chain
func AsNormalizationError(err error) (*NormalizationError, bool) {
	var normErr *NormalizationError
	if errors.As(err, &normErr) {
		return normErr, true
	}
	return nil, false
}

// InvalidAmountError reports an amount that is not a plain decimal number
func InvalidAmountError(loc *RecordLocation, cause error) *NormalizationError {
	loc.Expected = "decimal number"
	return NormalizationFailure(CodeInvalidAmount, loc, "invalid amount", cause).
		WithExamples("500.00", "1,250.50", "-75.10").
		WithSuggestion("remove currency codes and text from the amount column")
}

// InvalidDateError reports a date that does not parse with the configured format
func InvalidDateError(loc *RecordLocation, format string, cause error) *NormalizationError {
	loc.Expected = fmt.Sprintf("date in %s format", format)
	return NormalizationFailure(CodeInvalidDate, loc, "invalid date", cause).
		WithSuggestion("check that the selected date format matches the file")
}

// MissingFieldError reports an empty required field
func MissingFieldError(loc *RecordLocation) *NormalizationError {
	loc.Expected = "non-empty value"
	return NormalizationFailure(CodeMissingField, loc, "required field is empty", nil).
		WithSuggestion("provide a value or map the correct column")
}

// DuplicateRecordError reports a transaction number already seen in the batch
func DuplicateRecordError(loc *RecordLocation, firstRow int) *NormalizationError {
	err := NormalizationFailure(CodeDuplicateRecord, loc,
		fmt.Sprintf("duplicate transaction number (first seen at row %d)", firstRow), nil).
		WithSuggestion("remove the duplicate row or give it a distinct reference")
	err.WithContext("first_row", firstRow)
	return err
}

// InconsistentRecordError reports a record whose amounts contradict each other
func InconsistentRecordError(loc *RecordLocation, reason string) *NormalizationError {
	return NormalizationFailure(CodeInconsistent, loc, reason, nil).
		WithSuggestion("check the amount, amount paid and original amount columns")
}

// MissingColumnError reports required columns absent from a CSV header
func MissingColumnError(source string, required []string, header []string) *ReconcilerError {
	missing := findMissingColumns(required, header)
	return New(CategoryNormalization, CodeMissingColumn,
		fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", "))).
		WithSuggestion("add the missing columns or configure column aliases").
		WithContext("source", source).
		WithContext("missing", missing)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	return missing
}

// FormatNormalizationErrors formats a list of record failures for the CLI
func FormatNormalizationErrors(errs []*NormalizationError, maxDetailed int) string {
	if len(errs) == 0 {
		return "no normalization errors"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%d records were excluded:", len(errs)))
	for i, err := range errs {
		if i == maxDetailed {
			lines = append(lines, fmt.Sprintf("... and %d more", len(errs)-maxDetailed))
			break
		}
		lines = append(lines, "", err.GetDetailedError())
	}

	return strings.Join(lines, "\n")
}
