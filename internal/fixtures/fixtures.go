// Package fixtures generates synthetic receivable and payable ledgers for
// tests, benchmarks and the generate command. Output is reproducible for a
// given seed.
package fixtures

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
)

// Scenario describes the shape of a generated pair of ledgers
type Scenario struct {
	// Pairs is the number of AR/AP pairs with identical amount and date
	Pairs int
	// Drifted is the number of pairs whose AP amount and date drift within
	// the default tolerances
	Drifted int
	// ReceivableOnly and PayableOnly add records with no counterpart
	ReceivableOnly int
	PayableOnly    int

	Start     time.Time
	End       time.Time
	MinAmount float64
	MaxAmount float64
	Customer  string
	SourceAR  models.SourceSystem
	SourceAP  models.SourceSystem
}

// DefaultScenario returns a small scenario covering 2024
func DefaultScenario() Scenario {
	return Scenario{
		Pairs:          20,
		Drifted:        5,
		ReceivableOnly: 3,
		PayableOnly:    3,
		Start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		MinAmount:      10,
		MaxAmount:      5000,
		SourceAR:       models.SourceXero,
		SourceAP:       models.SourceCSV,
	}
}

// Ledgers holds a generated receivable and payable ledger
type Ledgers struct {
	Customer    string
	Receivables []models.TransactionRecord
	Payables    []models.TransactionRecord
}

// Generator produces ledgers from a seeded faker
type Generator struct {
	faker *gofakeit.Faker
}

// NewGenerator creates a generator. The same seed yields the same ledgers.
func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Generate builds both ledgers for the scenario
func (g *Generator) Generate(s Scenario) Ledgers {
	if s.Start.IsZero() || s.End.IsZero() || !s.End.After(s.Start) {
		d := DefaultScenario()
		s.Start, s.End = d.Start, d.End
	}
	if s.MaxAmount <= s.MinAmount {
		s.MinAmount, s.MaxAmount = 10, 5000
	}
	if s.SourceAR == "" {
		s.SourceAR = models.SourceXero
	}
	if s.SourceAP == "" {
		s.SourceAP = models.SourceCSV
	}

	customer := s.Customer
	if customer == "" {
		customer = g.faker.Company()
	}

	l := Ledgers{
		Customer:    customer,
		Receivables: make([]models.TransactionRecord, 0, s.Pairs+s.Drifted+s.ReceivableOnly),
		Payables:    make([]models.TransactionRecord, 0, s.Pairs+s.Drifted+s.PayableOnly),
	}

	arSeq, apSeq := 0, 0
	nextAR := func() string { arSeq++; return fmt.Sprintf("INV-%05d", arSeq) }
	nextAP := func() string { apSeq++; return fmt.Sprintf("BILL-%05d", apSeq) }

	for i := 0; i < s.Pairs; i++ {
		ar := g.receivable(nextAR(), s, customer)
		ap := g.payable(nextAP(), ar.Amount, ar.IssueDate, ar.TransactionNumber, s, customer)
		l.Receivables = append(l.Receivables, ar)
		l.Payables = append(l.Payables, ap)
	}

	for i := 0; i < s.Drifted; i++ {
		ar := g.receivable(nextAR(), s, customer)
		// at most 2% of the amount and 10 days, well inside the defaults
		drift := ar.Amount.Mul(decimal.NewFromFloat(g.faker.Float64Range(-0.02, 0.02))).Round(2)
		issued := ar.IssueDate.AddDate(0, 0, g.faker.Number(-10, 10))
		ap := g.payable(nextAP(), ar.Amount.Add(drift), issued, ar.TransactionNumber, s, customer)
		l.Receivables = append(l.Receivables, ar)
		l.Payables = append(l.Payables, ap)
	}

	for i := 0; i < s.ReceivableOnly; i++ {
		l.Receivables = append(l.Receivables, g.receivable(nextAR(), s, customer))
	}
	for i := 0; i < s.PayableOnly; i++ {
		amount := g.amount(s)
		l.Payables = append(l.Payables, g.payable(nextAP(), amount, g.date(s), "PO-"+g.faker.DigitN(6), s, customer))
	}

	return l
}

func (g *Generator) amount(s Scenario) decimal.Decimal {
	return decimal.NewFromFloat(g.faker.Float64Range(s.MinAmount, s.MaxAmount)).Round(2)
}

func (g *Generator) date(s Scenario) time.Time {
	return models.TruncateToDate(g.faker.DateRange(s.Start, s.End))
}

func (g *Generator) receivable(number string, s Scenario, customer string) models.TransactionRecord {
	issued := g.date(s)
	due := issued.AddDate(0, 0, 30)
	amount := g.amount(s)

	status := models.StatusAuthorised
	if g.faker.Number(1, 10) == 1 {
		status = models.StatusDraft
	}

	return models.TransactionRecord{
		TransactionNumber: number,
		TransactionType:   models.TransactionTypeInvoice,
		Amount:            amount,
		OriginalAmount:    amount,
		IssueDate:         issued,
		DueDate:           &due,
		Status:            status,
		Counterparty:      customer,
		SourceSystem:      s.SourceAR,
	}
}

func (g *Generator) payable(number string, amount decimal.Decimal, issued time.Time, reference string, s Scenario, customer string) models.TransactionRecord {
	return models.TransactionRecord{
		TransactionNumber: number,
		TransactionType:   models.TransactionTypeBill,
		Amount:            amount,
		OriginalAmount:    amount,
		IssueDate:         models.TruncateToDate(issued),
		Status:            models.StatusAuthorised,
		Reference:         reference,
		Counterparty:      customer,
		SourceSystem:      s.SourceAP,
	}
}

// Rows renders records as uploaded CSV rows using the default header
// spellings and the given date format
func Rows(records []models.TransactionRecord, format normalizer.DateFormat) []normalizer.RawRecord {
	rows := make([]normalizer.RawRecord, 0, len(records))
	for i, r := range records {
		fields := map[string]string{
			"Transaction #": r.TransactionNumber,
			"Type":          string(r.TransactionType),
			"Amount":        r.Amount.StringFixed(2),
			"Date":          format.Format(r.IssueDate),
			"Status":        string(r.Status),
			"Reference":     r.Reference,
			"Contact":       r.Counterparty,
		}
		if r.DueDate != nil {
			fields["Due Date"] = format.Format(*r.DueDate)
		}
		rows = append(rows, normalizer.RawRecord{Row: i + 2, Values: fields})
	}
	return rows
}

// Header returns the CSV header matching Rows, in a fixed order
func Header() []string {
	return []string{"Transaction #", "Type", "Amount", "Date", "Due Date", "Status", "Reference", "Contact"}
}
