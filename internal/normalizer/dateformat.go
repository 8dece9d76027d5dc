package normalizer

import (
	"fmt"
	"strings"
	"time"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// DateFormat is a caller-supplied date format token such as "DD/MM/YYYY".
// Formats are never inferred from the data.
type DateFormat string

const (
	FormatISO          DateFormat = "YYYY-MM-DD"
	FormatDayMonthYear DateFormat = "DD/MM/YYYY"
	FormatMonthDayYear DateFormat = "MM/DD/YYYY"
	FormatDayMonthDash DateFormat = "DD-MM-YYYY"
	FormatYearSlash    DateFormat = "YYYY/MM/DD"
	FormatDayMonthDot  DateFormat = "DD.MM.YYYY"
	FormatISODateTime  DateFormat = "YYYY-MM-DDTHH:mm:ss"
)

var dateLayouts = map[DateFormat]string{
	FormatISO:          "2006-01-02",
	FormatDayMonthYear: "02/01/2006",
	FormatMonthDayYear: "01/02/2006",
	FormatDayMonthDash: "02-01-2006",
	FormatYearSlash:    "2006/01/02",
	FormatDayMonthDot:  "02.01.2006",
	FormatISODateTime:  "2006-01-02T15:04:05",
}

// SupportedDateFormats lists the accepted tokens in a stable order
func SupportedDateFormats() []DateFormat {
	return []DateFormat{
		FormatISO,
		FormatDayMonthYear,
		FormatMonthDayYear,
		FormatDayMonthDash,
		FormatYearSlash,
		FormatDayMonthDot,
		FormatISODateTime,
	}
}

// ParseDateFormat validates a format token. Unknown or empty tokens are
// configuration errors.
func ParseDateFormat(token string) (DateFormat, error) {
	f := DateFormat(strings.TrimSpace(token))
	if _, ok := dateLayouts[f]; !ok {
		names := make([]string, 0, len(dateLayouts))
		for _, s := range SupportedDateFormats() {
			names = append(names, string(s))
		}
		return "", errors.InvalidConfigurationError("date_format", token,
			fmt.Errorf("supported formats: %s", strings.Join(names, ", ")))
	}
	return f, nil
}

// Layout returns the Go reference layout for the token
func (f DateFormat) Layout() string {
	return dateLayouts[f]
}

// Validate checks that the token is supported
func (f DateFormat) Validate() error {
	_, err := ParseDateFormat(string(f))
	return err
}

// Parse parses a value strictly and returns the calendar date at UTC midnight.
// Two-digit day and month fields are required.
func (f DateFormat) Parse(value string) (time.Time, error) {
	layout, ok := dateLayouts[f]
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported date format %q", f)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}

	t, err := time.Parse(layout, value)
	if err != nil && f == FormatISODateTime {
		// ERP APIs append a zone designator to the same layout
		t, err = time.Parse(time.RFC3339, value)
	}
	if err != nil {
		return time.Time{}, err
	}

	return models.TruncateToDate(t), nil
}

// Format renders a date with the token's layout
func (f DateFormat) Format(t time.Time) string {
	return t.Format(f.Layout())
}
