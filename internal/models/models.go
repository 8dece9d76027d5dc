package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical wire layout for calendar dates
const DateLayout = "2006-01-02"

// CentTolerance is the rounding tolerance used for amount comparisons
var CentTolerance = decimal.New(1, -2)

// TransactionType represents the kind of ledger document
type TransactionType string

const (
	TransactionTypeInvoice    TransactionType = "invoice"
	TransactionTypeCreditNote TransactionType = "credit-note"
	TransactionTypeBill       TransactionType = "bill"
	TransactionTypePayment    TransactionType = "payment"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeInvoice, TransactionTypeCreditNote, TransactionTypeBill, TransactionTypePayment:
		return true
	}
	return false
}

// Status represents the lifecycle status of a ledger document
type Status string

const (
	StatusDraft      Status = "draft"
	StatusAuthorised Status = "authorised"
	StatusPaid       Status = "paid"
	StatusVoided     Status = "voided"
	StatusUnknown    Status = "unknown"
)

// SourceSystem identifies where a record came from. Display only.
type SourceSystem string

const (
	SourceXero  SourceSystem = "xero"
	SourceCSV   SourceSystem = "csv"
	SourceCoupa SourceSystem = "coupa"
)

// IsValid checks if the source system is known
func (s SourceSystem) IsValid() bool {
	return s == SourceXero || s == SourceCSV || s == SourceCoupa
}

// Side distinguishes the receivable ledger from the payable ledger
type Side string

const (
	SideReceivable Side = "receivable"
	SidePayable    Side = "payable"
)

// DefaultTransactionType returns the document type assumed for rows that do not state one
func (s Side) DefaultTransactionType() TransactionType {
	if s == SidePayable {
		return TransactionTypeBill
	}
	return TransactionTypeInvoice
}

// TransactionRecord is the canonical post-normalization ledger record
type TransactionRecord struct {
	TransactionNumber string          `json:"transactionNumber"`
	TransactionType   TransactionType `json:"transactionType"`
	Amount            decimal.Decimal `json:"amount"`
	IssueDate         time.Time       `json:"issueDate"`
	DueDate           *time.Time      `json:"dueDate,omitempty"`
	Status            Status          `json:"status"`
	IsPartiallyPaid   bool            `json:"isPartiallyPaid"`
	AmountPaid        decimal.Decimal `json:"amountPaid"`
	OriginalAmount    decimal.Decimal `json:"originalAmount"`
	Reference         string          `json:"reference,omitempty"`
	Counterparty      string          `json:"counterparty,omitempty"`
	SourceSystem      SourceSystem    `json:"sourceSystem"`
}

// Validate checks the record invariants
func (r *TransactionRecord) Validate() error {
	if strings.TrimSpace(r.TransactionNumber) == "" {
		return fmt.Errorf("transaction number cannot be empty")
	}

	if !r.TransactionType.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", r.TransactionType)
	}

	if r.IssueDate.IsZero() {
		return fmt.Errorf("issue date cannot be zero")
	}

	if r.IsPartiallyPaid {
		if r.AmountPaid.Abs().GreaterThan(r.OriginalAmount.Abs()) {
			return fmt.Errorf("amount paid %s exceeds original amount %s",
				r.AmountPaid.StringFixed(2), r.OriginalAmount.StringFixed(2))
		}
		remaining := r.OriginalAmount.Sub(r.AmountPaid)
		if !CompareAmountsWithTolerance(r.Amount, remaining, CentTolerance) {
			return fmt.Errorf("amount %s does not equal original %s less paid %s",
				r.Amount.StringFixed(2), r.OriginalAmount.StringFixed(2), r.AmountPaid.StringFixed(2))
		}
	}

	return nil
}

// Identifiers returns the non-empty identifiers of the record, reference first
func (r *TransactionRecord) Identifiers() []string {
	var ids []string
	if ref := strings.TrimSpace(r.Reference); ref != "" {
		ids = append(ids, ref)
	}
	if num := strings.TrimSpace(r.TransactionNumber); num != "" && !strings.EqualFold(num, strings.TrimSpace(r.Reference)) {
		ids = append(ids, num)
	}
	return ids
}

// String returns a string representation of the record
func (r *TransactionRecord) String() string {
	return fmt.Sprintf("TransactionRecord{Number: %s, Type: %s, Amount: %s, Issued: %s}",
		r.TransactionNumber, r.TransactionType, r.Amount.StringFixed(2), r.IssueDate.Format(DateLayout))
}

type recordJSON struct {
	TransactionNumber string          `json:"transactionNumber"`
	TransactionType   TransactionType `json:"transactionType"`
	Amount            string          `json:"amount"`
	IssueDate         string          `json:"issueDate"`
	DueDate           string          `json:"dueDate,omitempty"`
	Status            Status          `json:"status"`
	IsPartiallyPaid   bool            `json:"isPartiallyPaid"`
	AmountPaid        string          `json:"amountPaid"`
	OriginalAmount    string          `json:"originalAmount"`
	Reference         string          `json:"reference,omitempty"`
	Counterparty      string          `json:"counterparty,omitempty"`
	SourceSystem      SourceSystem    `json:"sourceSystem"`
}

// MarshalJSON encodes amounts with two fraction digits and dates as YYYY-MM-DD
func (r TransactionRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		TransactionNumber: r.TransactionNumber,
		TransactionType:   r.TransactionType,
		Amount:            r.Amount.StringFixed(2),
		IssueDate:         r.IssueDate.Format(DateLayout),
		Status:            r.Status,
		IsPartiallyPaid:   r.IsPartiallyPaid,
		AmountPaid:        r.AmountPaid.StringFixed(2),
		OriginalAmount:    r.OriginalAmount.StringFixed(2),
		Reference:         r.Reference,
		Counterparty:      r.Counterparty,
		SourceSystem:      r.SourceSystem,
	}
	if r.DueDate != nil {
		out.DueDate = r.DueDate.Format(DateLayout)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the canonical wire form
func (r *TransactionRecord) UnmarshalJSON(data []byte) error {
	var aux recordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if r.Amount, err = ParseDecimalFromString(aux.Amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if r.AmountPaid, err = parseOptionalDecimal(aux.AmountPaid); err != nil {
		return fmt.Errorf("invalid amountPaid: %w", err)
	}
	if r.OriginalAmount, err = parseOptionalDecimal(aux.OriginalAmount); err != nil {
		return fmt.Errorf("invalid originalAmount: %w", err)
	}
	if r.IssueDate, err = time.Parse(DateLayout, aux.IssueDate); err != nil {
		return fmt.Errorf("invalid issueDate: %w", err)
	}
	r.DueDate = nil
	if aux.DueDate != "" {
		due, err := time.Parse(DateLayout, aux.DueDate)
		if err != nil {
			return fmt.Errorf("invalid dueDate: %w", err)
		}
		r.DueDate = &due
	}

	r.TransactionNumber = aux.TransactionNumber
	r.TransactionType = aux.TransactionType
	r.Status = aux.Status
	if r.Status == "" {
		r.Status = StatusUnknown
	}
	r.IsPartiallyPaid = aux.IsPartiallyPaid
	r.Reference = aux.Reference
	r.Counterparty = aux.Counterparty
	r.SourceSystem = aux.SourceSystem

	return nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return ParseDecimalFromString(s)
}

// ParseDecimalFromString parses a decimal value, tolerating a dollar sign and thousands separators
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTransactionType parses a document type, accepting common ERP spellings
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invoice", "inv", "accrec":
		return TransactionTypeInvoice, nil
	case "credit-note", "credit note", "creditnote", "credit", "cn", "accreccredit", "accpaycredit":
		return TransactionTypeCreditNote, nil
	case "bill", "accpay":
		return TransactionTypeBill, nil
	case "payment", "pmt":
		return TransactionTypePayment, nil
	default:
		return "", fmt.Errorf("invalid transaction type '%s'", s)
	}
}

// ParseStatus maps source status strings onto the canonical set.
// Unrecognised values become StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "draft":
		return StatusDraft
	case "authorised", "authorized", "sent", "submitted", "approved", "open", "pending":
		return StatusAuthorised
	case "paid", "closed":
		return StatusPaid
	case "voided", "void", "deleted", "cancelled", "canceled":
		return StatusVoided
	default:
		return StatusUnknown
	}
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// DaysBetween returns the absolute number of calendar days between two dates
func DaysBetween(a, b time.Time) int {
	a = TruncateToDate(a)
	b = TruncateToDate(b)
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// TruncateToDate drops the time of day and returns UTC midnight
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeIdentifier cleans an identifier for comparison: upper case,
// surrounding punctuation and whitespace removed.
func NormalizeIdentifier(id string) string {
	normalized := strings.ToUpper(strings.TrimSpace(id))
	return strings.Trim(normalized, " #:-_.")
}
