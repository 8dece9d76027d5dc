// Package normalizer maps heterogeneous source records (uploaded CSV rows,
// Xero invoices and Coupa invoices) onto the canonical TransactionRecord.
//
// Normalization fails closed: a record with an unparseable date or a
// non-numeric amount is excluded and reported as a NormalizationError. It is
// never coerced to a default value.
package normalizer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// Options describe one source batch. DateFormat and Source are always
// supplied by the caller.
type Options struct {
	Source     models.SourceSystem
	Side       models.Side
	DateFormat DateFormat
	Mapping    *CSVMapping
}

// Validate rejects unusable options before any record is read
func (o Options) Validate() error {
	if !o.Source.IsValid() {
		return errors.InvalidConfigurationError("source_system", o.Source, nil)
	}
	if o.Side != models.SideReceivable && o.Side != models.SidePayable {
		return errors.InvalidConfigurationError("side", o.Side, nil)
	}
	if err := o.DateFormat.Validate(); err != nil {
		return err
	}
	if o.Mapping != nil {
		if err := o.Mapping.Validate(); err != nil {
			return errors.InvalidConfigurationError("csv_mapping", o.Mapping.ColumnAliases, err)
		}
	}
	return nil
}

// Batch is the outcome of normalizing one source batch
type Batch struct {
	Records  []models.TransactionRecord
	Failures []*errors.NormalizationError
	Stats    BatchStats
}

// BatchStats holds counters about a normalization pass
type BatchStats struct {
	TotalRows int `json:"total_rows"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
}

// String returns a human-readable summary
func (s BatchStats) String() string {
	return fmt.Sprintf("Normalized %d rows: %d accepted, %d rejected", s.TotalRows, s.Accepted, s.Rejected)
}

// Warnings converts the batch failures into result warnings
func (b *Batch) Warnings() []models.Warning {
	warnings := make([]models.Warning, 0, len(b.Failures))
	for _, f := range b.Failures {
		w := models.Warning{Message: f.Message}
		if loc := f.Location; loc != nil {
			w.Source = models.SourceSystem(loc.Source)
			w.Side = models.Side(loc.Side)
			w.Row = loc.Row
			w.TransactionNumber = loc.TransactionNumber
			w.Field = loc.Field
			w.Value = loc.Value
		}
		warnings = append(warnings, w)
	}
	return warnings
}

// batchBuilder accumulates accepted records and enforces unique transaction numbers
type batchBuilder struct {
	opts  Options
	batch Batch
	seen  map[string]int
}

func newBatchBuilder(opts Options, capacity int) *batchBuilder {
	return &batchBuilder{
		opts: opts,
		batch: Batch{
			Records:  make([]models.TransactionRecord, 0, capacity),
			Failures: make([]*errors.NormalizationError, 0),
		},
		seen: make(map[string]int, capacity),
	}
}

func (b *batchBuilder) location(row int, number, field, value string) *errors.RecordLocation {
	return &errors.RecordLocation{
		Source:            string(b.opts.Source),
		Side:              string(b.opts.Side),
		Row:               row,
		TransactionNumber: number,
		Field:             field,
		Value:             value,
	}
}

func (b *batchBuilder) add(row int, record models.TransactionRecord, err *errors.NormalizationError) {
	b.batch.Stats.TotalRows++

	if err == nil {
		if first, dup := b.seen[record.TransactionNumber]; dup {
			err = errors.DuplicateRecordError(
				b.location(row, record.TransactionNumber, FieldTransactionNumber, record.TransactionNumber), first)
		} else if verr := record.Validate(); verr != nil {
			err = errors.InconsistentRecordError(
				b.location(row, record.TransactionNumber, FieldAmount, record.Amount.StringFixed(2)), verr.Error())
		}
	}

	if err != nil {
		b.batch.Failures = append(b.batch.Failures, err)
		b.batch.Stats.Rejected++
		return
	}

	b.seen[record.TransactionNumber] = row
	b.batch.Records = append(b.batch.Records, record)
	b.batch.Stats.Accepted++
}

// Normalizer converts raw source records into canonical records
type Normalizer struct {
	logger logger.Logger
}

// New creates a Normalizer that logs through the given logger
func New(log logger.Logger) *Normalizer {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Normalizer{logger: log.WithComponent("normalizer")}
}

// NormalizeRows normalizes uploaded CSV rows
func (n *Normalizer) NormalizeRows(rows []RawRecord, opts Options) (*Batch, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	mapping := opts.Mapping
	if mapping == nil {
		mapping = DefaultCSVMapping()
	}

	b := newBatchBuilder(opts, len(rows))
	for i, row := range rows {
		if row.Row == 0 {
			row.Row = i + 1
		}
		record, err := n.normalizeRow(row, mapping, b)
		b.add(row.Row, record, err)
	}

	n.logBatch(opts, b.batch.Stats)
	return &b.batch, nil
}

func (n *Normalizer) normalizeRow(row RawRecord, mapping *CSVMapping, b *batchBuilder) (models.TransactionRecord, *errors.NormalizationError) {
	opts := b.opts
	number, _ := mapping.Lookup(row, FieldTransactionNumber)
	if number == "" {
		number = fmt.Sprintf("ROW-%d", row.Row)
	}

	record := models.TransactionRecord{
		TransactionNumber: number,
		TransactionType:   opts.Side.DefaultTransactionType(),
		Status:            models.StatusUnknown,
		SourceSystem:      opts.Source,
	}

	for _, field := range mapping.Required {
		if v, _ := mapping.Lookup(row, field); v == "" {
			return record, errors.MissingFieldError(b.location(row.Row, number, field, ""))
		}
	}

	amountText, _ := mapping.Lookup(row, FieldAmount)
	amount, err := models.ParseDecimalFromString(amountText)
	if err != nil {
		return record, errors.InvalidAmountError(b.location(row.Row, number, FieldAmount, amountText), err)
	}
	record.Amount = amount

	if v, _ := mapping.Lookup(row, FieldTransactionType); v != "" {
		t, err := models.ParseTransactionType(v)
		if err != nil {
			return record, errors.NormalizationFailure(errors.CodeInvalidFormat,
				b.location(row.Row, number, FieldTransactionType, v), "unknown transaction type", err)
		}
		record.TransactionType = t
	} else if amount.IsNegative() {
		// an untyped negative row is a credit against the ledger
		record.TransactionType = models.TransactionTypeCreditNote
	}

	issueText, _ := mapping.Lookup(row, FieldIssueDate)
	if record.IssueDate, err = opts.DateFormat.Parse(issueText); err != nil {
		return record, errors.InvalidDateError(b.location(row.Row, number, FieldIssueDate, issueText), string(opts.DateFormat), err)
	}

	if dueText, _ := mapping.Lookup(row, FieldDueDate); dueText != "" {
		due, err := opts.DateFormat.Parse(dueText)
		if err != nil {
			return record, errors.InvalidDateError(b.location(row.Row, number, FieldDueDate, dueText), string(opts.DateFormat), err)
		}
		record.DueDate = &due
	}

	if v, _ := mapping.Lookup(row, FieldStatus); v != "" {
		record.Status = models.ParseStatus(v)
	}
	record.Reference, _ = mapping.Lookup(row, FieldReference)
	record.Counterparty, _ = mapping.Lookup(row, FieldCounterparty)

	paid, nerr := optionalAmount(mapping, row, FieldAmountPaid, b, number)
	if nerr != nil {
		return record, nerr
	}
	original, nerr := optionalAmount(mapping, row, FieldOriginalAmount, b, number)
	if nerr != nil {
		return record, nerr
	}
	applyPayments(&record, paid, original)

	return record, nil
}

func optionalAmount(mapping *CSVMapping, row RawRecord, field string, b *batchBuilder, number string) (*decimal.Decimal, *errors.NormalizationError) {
	text, _ := mapping.Lookup(row, field)
	if text == "" {
		return nil, nil
	}
	d, err := models.ParseDecimalFromString(text)
	if err != nil {
		return nil, errors.InvalidAmountError(b.location(row.Row, number, field, text), err)
	}
	return &d, nil
}

// applyPayments fills the payment fields. A record is partially paid when
// some but not all of the original amount has been paid. Without an original
// amount column the amount is the outstanding balance, so the original is
// that balance plus what was paid.
func applyPayments(record *models.TransactionRecord, paid, original *decimal.Decimal) {
	if paid != nil {
		record.AmountPaid = *paid
	}
	switch {
	case original != nil:
		record.OriginalAmount = *original
	case record.AmountPaid.IsPositive():
		record.OriginalAmount = record.Amount.Abs().Add(record.AmountPaid)
	default:
		record.OriginalAmount = record.Amount
	}
	if record.AmountPaid.IsPositive() && record.AmountPaid.LessThan(record.OriginalAmount.Abs()) {
		record.IsPartiallyPaid = true
	}
	if record.TransactionType == models.TransactionTypeCreditNote {
		record.Amount = negative(record.Amount)
		record.OriginalAmount = negative(record.OriginalAmount)
		record.AmountPaid = negative(record.AmountPaid)
	}
}

func negative(d decimal.Decimal) decimal.Decimal {
	return d.Abs().Neg()
}

func (n *Normalizer) logBatch(opts Options, stats BatchStats) {
	entry := n.logger.WithFields(logger.Fields{
		"source":   opts.Source,
		"side":     opts.Side,
		"rows":     stats.TotalRows,
		"accepted": stats.Accepted,
		"rejected": stats.Rejected,
	})
	if stats.Rejected > 0 {
		entry.Warn("Normalized batch with rejected records")
		return
	}
	entry.Debug("Normalized batch")
}

// NormalizeRecords validates already-canonical records, applying the same
// uniqueness and invariant checks as row normalization.
func (n *Normalizer) NormalizeRecords(records []models.TransactionRecord, source models.SourceSystem, side models.Side) *Batch {
	b := newBatchBuilder(Options{Source: source, Side: side}, len(records))
	for i, r := range records {
		r.IssueDate = models.TruncateToDate(r.IssueDate)
		if r.SourceSystem == "" {
			r.SourceSystem = source
		}
		if r.TransactionType == "" {
			r.TransactionType = side.DefaultTransactionType()
		}
		if r.Status == "" {
			r.Status = models.StatusUnknown
		}
		if strings.TrimSpace(r.TransactionNumber) == "" {
			b.add(i+1, r, errors.MissingFieldError(b.location(i+1, "", FieldTransactionNumber, "")))
			continue
		}
		b.add(i+1, r, nil)
	}
	n.logBatch(b.opts, b.batch.Stats)
	return &b.batch
}
