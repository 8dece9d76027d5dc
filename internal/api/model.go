package api

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/internal/reconciler"
)

// BatchPayload is one side of a reconciliation request. Exactly one of the
// record lists is expected.
type BatchPayload struct {
	Source        string                     `json:"source,omitempty"`
	DateFormat    string                     `json:"dateFormat,omitempty"`
	ColumnAliases map[string]string          `json:"columnAliases,omitempty"`
	Rows          []normalizer.RawRecord     `json:"rows,omitempty"`
	XeroInvoices  []normalizer.XeroInvoice   `json:"xeroInvoices,omitempty"`
	CoupaInvoices []normalizer.CoupaInvoice  `json:"coupaInvoices,omitempty"`
	Records       []models.TransactionRecord `json:"records,omitempty"`
}

func (b *BatchPayload) size() int {
	return len(b.Rows) + len(b.XeroInvoices) + len(b.CoupaInvoices) + len(b.Records)
}

// Validate checks the batch's scalar settings; record content is checked
// during normalization
func (b BatchPayload) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Source, validation.When(b.Source != "",
			validation.By(sourceRule))),
		validation.Field(&b.DateFormat, validation.By(dateFormatRule)),
	)
}

// ReconcileRequest is the body of POST /reconciliations. UploadedRows,
// DateFormat and ReceivableDateFormat are the upload flow's shorthand for
// a CSV payable batch and the receivable batch's date format.
type ReconcileRequest struct {
	CustomerID   string `json:"customerId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`

	Receivables BatchPayload `json:"receivables"`
	Payables    BatchPayload `json:"payables"`

	UploadedRows         []normalizer.RawRecord `json:"uploadedRows,omitempty"`
	DateFormat           string                 `json:"dateFormat,omitempty"`
	ReceivableDateFormat string                 `json:"receivableDateFormat,omitempty"`

	UseHistoricalData bool `json:"useHistoricalData"`
}

// Validate checks the request shape before any work is done
func (r *ReconcileRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CustomerID, validation.When(r.ConnectionID == "",
			validation.Required.Error("customerId or connectionId is required"))),
		validation.Field(&r.Receivables),
		validation.Field(&r.Payables),
		validation.Field(&r.UploadedRows, validation.When(r.Payables.size() > 0,
			validation.Empty.Error("send either uploadedRows or payables, not both"))),
		validation.Field(&r.DateFormat,
			validation.When(len(r.UploadedRows) > 0, validation.Required.Error("dateFormat is required with uploadedRows")),
			validation.By(dateFormatRule)),
		validation.Field(&r.ReceivableDateFormat, validation.By(dateFormatRule)),
	)
}

// ToRequest converts the payload into a reconciliation request
func (r *ReconcileRequest) ToRequest() *reconciler.Request {
	req := &reconciler.Request{
		CustomerID:        r.CustomerID,
		ConnectionID:      r.ConnectionID,
		Receivables:       r.Receivables.toBatch(r.ReceivableDateFormat),
		UseHistoricalData: r.UseHistoricalData,
	}

	if len(r.UploadedRows) > 0 {
		req.Payables = reconciler.SourceBatch{
			Source:     models.SourceCSV,
			DateFormat: normalizer.DateFormat(strings.TrimSpace(r.DateFormat)),
			Mapping:    mapping(r.Payables.ColumnAliases),
			Rows:       r.UploadedRows,
		}
	} else {
		req.Payables = r.Payables.toBatch(r.DateFormat)
	}

	if req.CustomerID == "" {
		req.CustomerID = r.ConnectionID
	}
	return req
}

func (b *BatchPayload) toBatch(fallbackFormat string) reconciler.SourceBatch {
	format := b.DateFormat
	if format == "" {
		format = fallbackFormat
	}
	return reconciler.SourceBatch{
		Source:     models.SourceSystem(strings.ToLower(strings.TrimSpace(b.Source))),
		DateFormat: normalizer.DateFormat(strings.TrimSpace(format)),
		Mapping:    mapping(b.ColumnAliases),
		Rows:       b.Rows,
		Xero:       b.XeroInvoices,
		Coupa:      b.CoupaInvoices,
		Records:    b.Records,
	}
}

func mapping(aliases map[string]string) *normalizer.CSVMapping {
	if len(aliases) == 0 {
		return nil
	}
	m := normalizer.DefaultCSVMapping()
	for field, column := range aliases {
		m.ColumnAliases[field] = column
	}
	return m
}

func dateFormatRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := normalizer.ParseDateFormat(s)
	return err
}

func sourceRule(value interface{}) error {
	s, _ := value.(string)
	source := models.SourceSystem(strings.ToLower(strings.TrimSpace(s)))
	if !source.IsValid() {
		return validation.NewError("validation_source", "must be one of xero, csv or coupa")
	}
	return nil
}
