package normalizer

import (
	"strings"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// CoupaSupplier is the supplier embedded in a Coupa invoice
type CoupaSupplier struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// CoupaInvoice is the subset of a Coupa invoice the engine uses
type CoupaInvoice struct {
	ID            int           `json:"id,omitempty"`
	InvoiceNumber string        `json:"invoice-number"`
	InvoiceDate   string        `json:"invoice-date"`
	Total         Amount        `json:"total"`
	Status        string        `json:"status"`
	Supplier      CoupaSupplier `json:"supplier"`
}

// NormalizeCoupa normalizes Coupa supplier invoices. Coupa invoices are
// payable documents; a negative total is a credit note.
func (n *Normalizer) NormalizeCoupa(invoices []CoupaInvoice, opts Options) (*Batch, error) {
	opts.Source = models.SourceCoupa
	if opts.DateFormat == "" {
		opts.DateFormat = FormatISODateTime
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	b := newBatchBuilder(opts, len(invoices))
	for i, inv := range invoices {
		record, err := n.normalizeCoupa(i+1, inv, b)
		b.add(i+1, record, err)
	}

	n.logBatch(opts, b.batch.Stats)
	return &b.batch, nil
}

func (n *Normalizer) normalizeCoupa(row int, inv CoupaInvoice, b *batchBuilder) (models.TransactionRecord, *errors.NormalizationError) {
	number := strings.TrimSpace(inv.InvoiceNumber)
	record := models.TransactionRecord{
		TransactionNumber: number,
		TransactionType:   models.TransactionTypeBill,
		Status:            coupaStatus(inv.Status),
		Counterparty:      strings.TrimSpace(inv.Supplier.Name),
		SourceSystem:      models.SourceCoupa,
	}

	if number == "" {
		return record, errors.MissingFieldError(b.location(row, "", "invoice-number", ""))
	}
	if !inv.Total.IsSet() {
		return record, errors.MissingFieldError(b.location(row, number, "total", ""))
	}
	total, terr := inv.Total.Decimal()
	if terr != nil {
		return record, errors.InvalidAmountError(b.location(row, number, "total", inv.Total.String()), terr)
	}

	issue, err := b.opts.DateFormat.Parse(inv.InvoiceDate)
	if err != nil {
		return record, errors.InvalidDateError(b.location(row, number, "invoice-date", inv.InvoiceDate), string(b.opts.DateFormat), err)
	}
	record.IssueDate = issue

	record.Amount = total
	record.OriginalAmount = total
	if total.IsNegative() {
		record.TransactionType = models.TransactionTypeCreditNote
	}
	if record.Status == models.StatusPaid {
		record.AmountPaid = total
	}

	return record, nil
}

func coupaStatus(s string) models.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending_approval", "pending_receipt", "approved":
		return models.StatusAuthorised
	case "new", "draft", "ap_hold":
		return models.StatusDraft
	case "abandoned":
		return models.StatusVoided
	}
	return models.ParseStatus(s)
}
