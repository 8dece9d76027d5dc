package normalizer

import (
	"strings"

	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// XeroContact is the contact embedded in a Xero document
type XeroContact struct {
	ContactID string `json:"ContactID"`
	Name      string `json:"Name"`
}

// XeroInvoice is the subset of a Xero invoice or credit note the engine uses
type XeroInvoice struct {
	InvoiceID        string      `json:"InvoiceID"`
	InvoiceNumber    string      `json:"InvoiceNumber"`
	CreditNoteNumber string      `json:"CreditNoteNumber,omitempty"`
	Type             string      `json:"Type"`
	Contact          XeroContact `json:"Contact"`
	DateString       string      `json:"DateString"`
	DueDateString    string      `json:"DueDateString,omitempty"`
	Status           string      `json:"Status"`
	Total            Amount      `json:"Total"`
	AmountDue        Amount      `json:"AmountDue"`
	AmountPaid       Amount      `json:"AmountPaid"`
	Reference        string      `json:"Reference,omitempty"`
}

// XeroInvoicesResponse is the envelope returned by the Xero invoices endpoint
type XeroInvoicesResponse struct {
	Invoices    []XeroInvoice `json:"Invoices"`
	CreditNotes []XeroInvoice `json:"CreditNotes,omitempty"`
}

// All returns invoices followed by credit notes
func (r XeroInvoicesResponse) All() []XeroInvoice {
	return append(append([]XeroInvoice(nil), r.Invoices...), r.CreditNotes...)
}

func xeroType(t string) (models.TransactionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "ACCREC":
		return models.TransactionTypeInvoice, true
	case "ACCPAY":
		return models.TransactionTypeBill, true
	case "ACCRECCREDIT", "ACCPAYCREDIT":
		return models.TransactionTypeCreditNote, true
	}
	return "", false
}

// NormalizeXero normalizes Xero documents. Xero serialises dates as
// YYYY-MM-DDTHH:mm:ss, which is used when opts.DateFormat is empty.
func (n *Normalizer) NormalizeXero(invoices []XeroInvoice, opts Options) (*Batch, error) {
	opts.Source = models.SourceXero
	if opts.DateFormat == "" {
		opts.DateFormat = FormatISODateTime
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	b := newBatchBuilder(opts, len(invoices))
	for i, inv := range invoices {
		record, err := n.normalizeXero(i+1, inv, b)
		b.add(i+1, record, err)
	}

	n.logBatch(opts, b.batch.Stats)
	return &b.batch, nil
}

func (n *Normalizer) normalizeXero(row int, inv XeroInvoice, b *batchBuilder) (models.TransactionRecord, *errors.NormalizationError) {
	number := strings.TrimSpace(inv.InvoiceNumber)
	if number == "" {
		number = strings.TrimSpace(inv.CreditNoteNumber)
	}
	if number == "" {
		number = strings.TrimSpace(inv.InvoiceID)
	}

	record := models.TransactionRecord{
		TransactionNumber: number,
		Status:            models.ParseStatus(inv.Status),
		Reference:         strings.TrimSpace(inv.Reference),
		Counterparty:      strings.TrimSpace(inv.Contact.Name),
		SourceSystem:      models.SourceXero,
	}
	if record.Counterparty == "" {
		record.Counterparty = inv.Contact.ContactID
	}

	if number == "" {
		return record, errors.MissingFieldError(b.location(row, "", "InvoiceNumber", ""))
	}

	t, ok := xeroType(inv.Type)
	if !ok {
		return record, errors.NormalizationFailure(errors.CodeInvalidFormat,
			b.location(row, number, "Type", inv.Type), "unknown Xero document type", nil)
	}
	record.TransactionType = t

	issue, err := b.opts.DateFormat.Parse(inv.DateString)
	if err != nil {
		return record, errors.InvalidDateError(b.location(row, number, "DateString", inv.DateString), string(b.opts.DateFormat), err)
	}
	record.IssueDate = issue

	if strings.TrimSpace(inv.DueDateString) != "" {
		due, err := b.opts.DateFormat.Parse(inv.DueDateString)
		if err != nil {
			return record, errors.InvalidDateError(b.location(row, number, "DueDateString", inv.DueDateString), string(b.opts.DateFormat), err)
		}
		record.DueDate = &due
	}

	if !inv.Total.IsSet() {
		return record, errors.MissingFieldError(b.location(row, number, "Total", ""))
	}
	total, err := inv.Total.Decimal()
	if err != nil {
		return record, errors.InvalidAmountError(b.location(row, number, "Total", inv.Total.String()), err)
	}
	due, nerr := xeroOptionalAmount(inv.AmountDue, "AmountDue", row, number, b)
	if nerr != nil {
		return record, nerr
	}
	paid, nerr := xeroOptionalAmount(inv.AmountPaid, "AmountPaid", row, number, b)
	if nerr != nil {
		return record, nerr
	}

	record.OriginalAmount = total
	record.AmountPaid = paid
	record.Amount = total
	if paid.IsPositive() && due.IsPositive() {
		record.IsPartiallyPaid = true
		record.Amount = due
	}

	if t == models.TransactionTypeCreditNote {
		record.Amount = negative(record.Amount)
		record.OriginalAmount = negative(record.OriginalAmount)
		record.AmountPaid = negative(record.AmountPaid)
	}

	return record, nil
}

// xeroOptionalAmount parses an amount Xero may omit; an absent amount is zero
func xeroOptionalAmount(a Amount, field string, row int, number string, b *batchBuilder) (decimal.Decimal, *errors.NormalizationError) {
	if !a.IsSet() {
		return decimal.Zero, nil
	}
	d, err := a.Decimal()
	if err != nil {
		return decimal.Zero, errors.InvalidAmountError(b.location(row, number, field, a.String()), err)
	}
	return d, nil
}
