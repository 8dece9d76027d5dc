package normalizer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonical field names used as keys in CSVMapping.ColumnAliases
const (
	FieldTransactionNumber = "transactionNumber"
	FieldTransactionType   = "transactionType"
	FieldAmount            = "amount"
	FieldIssueDate         = "issueDate"
	FieldDueDate           = "dueDate"
	FieldStatus            = "status"
	FieldReference         = "reference"
	FieldCounterparty      = "counterparty"
	FieldAmountPaid        = "amountPaid"
	FieldOriginalAmount    = "originalAmount"
)

// defaultHeaders are the header spellings tried when no alias is configured
var defaultHeaders = map[string][]string{
	FieldTransactionNumber: {"transactionNumber", "Transaction #", "Transaction Number", "Invoice Number", "InvoiceNumber", "Invoice #", "Number", "Document Number"},
	FieldTransactionType:   {"transactionType", "Type", "Transaction Type", "Document Type"},
	FieldAmount:            {"amount", "Amount", "Total", "Amount Due", "Receivable Amount", "Payable Amount"},
	FieldIssueDate:         {"issueDate", "Date", "Issue Date", "Invoice Date", "Transaction Date"},
	FieldDueDate:           {"dueDate", "Due Date"},
	FieldStatus:            {"status", "Status"},
	FieldReference:         {"reference", "Reference", "Ref", "Description", "Memo"},
	FieldCounterparty:      {"counterparty", "Contact", "Customer", "Supplier", "Vendor", "Contact Name"},
	FieldAmountPaid:        {"amountPaid", "Amount Paid", "Paid"},
	FieldOriginalAmount:    {"originalAmount", "Original Amount", "Invoice Total"},
}

// CSVMapping maps canonical fields onto the headers of an uploaded file.
// ColumnAliases take precedence over the built-in header spellings.
type CSVMapping struct {
	ColumnAliases map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
	Required      []string          `json:"required,omitempty" mapstructure:"required"`
}

// DefaultCSVMapping returns a mapping that relies on the built-in header spellings
func DefaultCSVMapping() *CSVMapping {
	return &CSVMapping{
		ColumnAliases: make(map[string]string),
		Required:      []string{FieldAmount, FieldIssueDate},
	}
}

// Validate checks that aliases refer to known fields
func (m *CSVMapping) Validate() error {
	for field, column := range m.ColumnAliases {
		if _, ok := defaultHeaders[field]; !ok {
			return fmt.Errorf("unknown field %q in column aliases", field)
		}
		if strings.TrimSpace(column) == "" {
			return fmt.Errorf("column alias for %q cannot be empty", field)
		}
	}
	for _, field := range m.Required {
		if _, ok := defaultHeaders[field]; !ok {
			return fmt.Errorf("unknown required field %q", field)
		}
	}
	return nil
}

// Clone returns a deep copy of the mapping
func (m *CSVMapping) Clone() *CSVMapping {
	clone := &CSVMapping{
		ColumnAliases: make(map[string]string, len(m.ColumnAliases)),
		Required:      append([]string(nil), m.Required...),
	}
	for k, v := range m.ColumnAliases {
		clone.ColumnAliases[k] = v
	}
	return clone
}

// GetColumnNames returns the candidate headers for a field, alias first
func (m *CSVMapping) GetColumnNames(field string) []string {
	var names []string
	if alias, ok := m.ColumnAliases[field]; ok {
		names = append(names, alias)
	}
	return append(names, defaultHeaders[field]...)
}

// Lookup returns the trimmed value of a field in a row and whether a column was found
func (m *CSVMapping) Lookup(row RawRecord, field string) (string, bool) {
	for _, name := range m.GetColumnNames(field) {
		if v, ok := row.Get(name); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// MissingColumns returns required fields for which the header has no column
func (m *CSVMapping) MissingColumns(header []string) []string {
	headerRow := RawRecord{Values: make(map[string]string, len(header))}
	for _, h := range header {
		headerRow.Values[h] = ""
	}

	var missing []string
	for _, field := range m.Required {
		if _, ok := m.Lookup(headerRow, field); !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// RawRecord is one uploaded row as header to value, with its 1-based row number
type RawRecord struct {
	Row    int
	Values map[string]string
}

// Get returns a value by header, falling back to a case-insensitive match
func (r RawRecord) Get(header string) (string, bool) {
	if v, ok := r.Values[header]; ok {
		return v, true
	}
	for _, k := range r.Headers() {
		if strings.EqualFold(strings.TrimSpace(k), header) {
			return r.Values[k], true
		}
	}
	return "", false
}

// IsEmpty reports whether every value is blank
func (r RawRecord) IsEmpty() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as a flat object
func (r RawRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Values)
}

// UnmarshalJSON accepts a flat object whose values may be strings, numbers or null.
// Numbers keep their literal text so 480.10 stays 480.10.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Values = make(map[string]string, len(raw))
	for k, v := range raw {
		text := strings.TrimSpace(string(v))
		switch {
		case text == "null":
			r.Values[k] = ""
		case strings.HasPrefix(text, "\""):
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
			r.Values[k] = s
		case strings.HasPrefix(text, "{"), strings.HasPrefix(text, "["):
			return fmt.Errorf("field %q: nested values are not supported", k)
		default:
			r.Values[k] = text
		}
	}
	return nil
}

// Headers returns the row's headers in sorted order
func (r RawRecord) Headers() []string {
	headers := make([]string, 0, len(r.Values))
	for k := range r.Values {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}
