package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/fixtures"
	"ledgerlink-reconciliation-service/internal/history"
	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// Test fixtures and test data setup

func date(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func invoice(number, amount, issued string) models.TransactionRecord {
	return models.TransactionRecord{
		TransactionNumber: number,
		TransactionType:   models.TransactionTypeInvoice,
		Amount:            decimal.RequireFromString(amount),
		IssueDate:         date(issued),
		Status:            models.StatusAuthorised,
		SourceSystem:      models.SourceXero,
	}
}

func row(line int, number, amount, issued, reference, contact string) normalizer.RawRecord {
	return normalizer.RawRecord{
		Row: line,
		Values: map[string]string{
			"Transaction #": number,
			"Amount":        amount,
			"Date":          issued,
			"Reference":     reference,
			"Contact":       contact,
		},
	}
}

func receivables() []models.TransactionRecord {
	return []models.TransactionRecord{
		invoice("INV-003", "999.00", "2024-03-01"),
		invoice("INV-001", "100.00", "2024-01-10"),
		invoice("INV-002", "250.00", "2024-02-01"),
	}
}

func uploadedRows() []normalizer.RawRecord {
	return []normalizer.RawRecord{
		row(2, "BILL-1", "100.00", "10/01/2024", "INV-001", "Acme Ltd"),
		row(3, "BILL-2", "240.00", "05/02/2024", "INV-002", "Acme Ltd"),
		row(4, "BILL-3", "77.00", "20/02/2024", "XYZ-9", "Acme Ltd"),
		row(5, "BILL-4", "abc", "21/02/2024", "", "Acme Ltd"),
	}
}

func newRequest() *Request {
	return &Request{
		CustomerID:  "acme ltd",
		Receivables: SourceBatch{Records: receivables()},
		Payables: SourceBatch{
			Rows:       uploadedRows(),
			DateFormat: normalizer.FormatDayMonthYear,
		},
	}
}

func newTestService(t *testing.T, config *Config, store history.Store) *Service {
	t.Helper()
	service, err := NewService(config, store, logger.Discard())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service
}

func numbers(records []models.TransactionRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.TransactionNumber
	}
	return out
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config uses defaults", config: nil},
		{name: "default config", config: DefaultConfig()},
		{
			name: "invalid matching config",
			config: func() *Config {
				c := DefaultConfig()
				c.Matching.PerfectThreshold = 120
				return c
			}(),
			wantErr: true,
		},
		{
			name: "invalid source",
			config: func() *Config {
				c := DefaultConfig()
				c.PayableSource = "sap"
				return c
			}(),
			wantErr: true,
		},
		{
			name:    "missing matching config",
			config:  &Config{ReceivableSource: models.SourceXero, PayableSource: models.SourceCSV},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.config, nil, logger.Discard())
			if tt.wantErr {
				if !errors.IsInvalidConfiguration(err) {
					t.Errorf("NewService() error = %v, want invalid configuration", err)
				}
				return
			}
			if err != nil {
				t.Errorf("NewService() unexpected error = %v", err)
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	service := newTestService(t, nil, nil)

	results, err := service.Reconcile(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(results.PerfectMatches) != 1 {
		t.Fatalf("PerfectMatches = %d, want 1", len(results.PerfectMatches))
	}
	perfect := results.PerfectMatches[0]
	if perfect.Receivable.TransactionNumber != "INV-001" || perfect.Payable.TransactionNumber != "BILL-1" {
		t.Errorf("perfect match = %s/%s, want INV-001/BILL-1",
			perfect.Receivable.TransactionNumber, perfect.Payable.TransactionNumber)
	}
	if perfect.Confidence != 100 {
		t.Errorf("perfect confidence = %d, want 100", perfect.Confidence)
	}

	if len(results.Mismatches) != 1 {
		t.Fatalf("Mismatches = %d, want 1", len(results.Mismatches))
	}
	mismatch := results.Mismatches[0]
	if mismatch.Receivable.TransactionNumber != "INV-002" || mismatch.Payable.TransactionNumber != "BILL-2" {
		t.Errorf("mismatch = %s/%s, want INV-002/BILL-2",
			mismatch.Receivable.TransactionNumber, mismatch.Payable.TransactionNumber)
	}
	if mismatch.Confidence != 57 {
		t.Errorf("mismatch confidence = %d, want 57", mismatch.Confidence)
	}
	if len(mismatch.Differences) == 0 || mismatch.Differences[0].Field != models.FieldAmount {
		t.Errorf("mismatch differences = %+v, want amount first", mismatch.Differences)
	}
	if len(results.DateMismatches) != 0 {
		t.Errorf("DateMismatches = %d, want 0", len(results.DateMismatches))
	}

	if got := numbers(results.UnmatchedItems.Company1); len(got) != 1 || got[0] != "INV-003" {
		t.Errorf("unmatched receivables = %v, want [INV-003]", got)
	}
	if got := numbers(results.UnmatchedItems.Company2); len(got) != 1 || got[0] != "BILL-3" {
		t.Errorf("unmatched payables = %v, want [BILL-3]", got)
	}

	if len(results.Warnings) != 1 {
		t.Fatalf("Warnings = %d, want 1", len(results.Warnings))
	}
	w := results.Warnings[0]
	if w.Row != 5 || w.TransactionNumber != "BILL-4" || w.Field != normalizer.FieldAmount || w.Value != "abc" {
		t.Errorf("warning = %+v, want row 5 BILL-4 amount abc", w)
	}
	if w.Side != models.SidePayable || w.Source != models.SourceCSV {
		t.Errorf("warning side/source = %s/%s, want payable/csv", w.Side, w.Source)
	}

	if results.HistoricalInsights == nil || len(results.HistoricalInsights) != 0 {
		t.Errorf("HistoricalInsights = %v, want empty", results.HistoricalInsights)
	}
}

func TestReconcile_TotalsAndSummary(t *testing.T) {
	service := newTestService(t, nil, nil)

	results, err := service.Reconcile(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	totals := results.Totals
	if totals.Company1Total.StringFixed(2) != "1349.00" {
		t.Errorf("Company1Total = %s, want 1349.00", totals.Company1Total.StringFixed(2))
	}
	if totals.Company2Total.StringFixed(2) != "417.00" {
		t.Errorf("Company2Total = %s, want 417.00", totals.Company2Total.StringFixed(2))
	}
	if totals.Variance.StringFixed(2) != "932.00" {
		t.Errorf("Variance = %s, want 932.00", totals.Variance.StringFixed(2))
	}

	want := map[string]struct {
		count      int
		percentage string
	}{
		models.BucketPerfectMatches:       {1, "11.33"},
		models.BucketMismatches:           {1, "27.75"},
		models.BucketUnmatchedReceivables: {1, "56.57"},
		models.BucketUnmatchedPayables:    {1, "4.36"},
	}
	if len(results.Summary) != len(want) {
		t.Fatalf("Summary has %d buckets, want %d", len(results.Summary), len(want))
	}
	for _, b := range results.Summary {
		w, ok := want[b.Bucket]
		if !ok {
			t.Errorf("unexpected bucket %s", b.Bucket)
			continue
		}
		if b.Count != w.count {
			t.Errorf("%s count = %d, want %d", b.Bucket, b.Count, w.count)
		}
		if b.Percentage.StringFixed(2) != w.percentage {
			t.Errorf("%s percentage = %s, want %s", b.Bucket, b.Percentage.StringFixed(2), w.percentage)
		}
	}
}

func TestReconcile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		check   func(error) bool
		wantMsg string
	}{
		{
			name: "no valid payables",
			mutate: func(r *Request) {
				r.Payables.Rows = []normalizer.RawRecord{row(2, "BILL-1", "n/a", "10/01/2024", "", "")}
			},
			check: errors.IsEmptyInput,
		},
		{
			name: "no receivables",
			mutate: func(r *Request) {
				r.Receivables.Records = nil
			},
			check: errors.IsEmptyInput,
		},
		{
			name: "unsupported date format",
			mutate: func(r *Request) {
				r.Payables.DateFormat = "YYYYMMDD"
			},
			check: errors.IsInvalidConfiguration,
		},
		{
			name: "missing date format",
			mutate: func(r *Request) {
				r.Payables.DateFormat = ""
			},
			check: errors.IsInvalidConfiguration,
		},
		{
			name: "mixed batch inputs",
			mutate: func(r *Request) {
				r.Payables.Records = receivables()
			},
			check: errors.IsInvalidConfiguration,
		},
		{
			name: "historical data without a store",
			mutate: func(r *Request) {
				r.UseHistoricalData = true
			},
			check: errors.IsInvalidConfiguration,
		},
	}

	service := newTestService(t, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest()
			tt.mutate(req)

			results, err := service.Reconcile(context.Background(), req)
			if err == nil {
				t.Fatal("Reconcile() expected error")
			}
			if results != nil {
				t.Error("Reconcile() should not return partial results")
			}
			if !tt.check(err) {
				t.Errorf("Reconcile() error = %v, wrong kind", err)
			}
		})
	}
}

func TestReconcile_EmptyInputNamesSide(t *testing.T) {
	service := newTestService(t, nil, nil)
	req := newRequest()
	req.Payables.Rows = []normalizer.RawRecord{row(2, "BILL-1", "10.00", "2024-01-10", "", "")}

	_, err := service.Reconcile(context.Background(), req)
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("Reconcile() error = %v, want ReconcilerError", err)
	}
	if rerr.Code != errors.CodeEmptyInput {
		t.Errorf("Code = %s, want %s", rerr.Code, errors.CodeEmptyInput)
	}
	if rerr.Context["side"] != string(models.SidePayable) {
		t.Errorf("side = %v, want payable", rerr.Context["side"])
	}
	if rerr.Context["rejected"] != 1 {
		t.Errorf("rejected = %v, want 1", rerr.Context["rejected"])
	}
}

func TestReconcile_Cancelled(t *testing.T) {
	service := newTestService(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.Reconcile(ctx, newRequest())
	if !errors.HasCode(err, errors.CodeCancelled) {
		t.Errorf("Reconcile() error = %v, want cancelled", err)
	}
}

func TestReconcile_HistoricalInsights(t *testing.T) {
	store := history.NewMemoryStore()
	settled := invoice("INV-050", "100.00", "2023-11-01")
	settled.IsPartiallyPaid = true
	settled.OriginalAmount = decimal.NewFromInt(100)
	settled.AmountPaid = decimal.NewFromInt(23)
	settled.Amount = decimal.NewFromInt(77)
	if err := store.Save(context.Background(), "Acme Ltd", []models.TransactionRecord{settled}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	service := newTestService(t, nil, store)
	req := newRequest()
	req.UseHistoricalData = true

	results, err := service.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(results.HistoricalInsights) != 1 {
		t.Fatalf("HistoricalInsights = %d, want 1", len(results.HistoricalInsights))
	}
	insight := results.HistoricalInsights[0]
	if insight.APItem.TransactionNumber != "BILL-3" || insight.HistoricalMatch.TransactionNumber != "INV-050" {
		t.Errorf("insight = %s/%s, want BILL-3/INV-050",
			insight.APItem.TransactionNumber, insight.HistoricalMatch.TransactionNumber)
	}
	if insight.Insight.Type != models.InsightPartialSettlement || insight.Insight.Severity != models.SeverityWarning {
		t.Errorf("insight = %s/%s, want partial_settlement/warning", insight.Insight.Type, insight.Insight.Severity)
	}

	// insights never merge records
	if got := numbers(results.UnmatchedItems.Company2); len(got) != 1 || got[0] != "BILL-3" {
		t.Errorf("unmatched payables = %v, want [BILL-3]", got)
	}
}

func TestReconcile_XeroAndCoupa(t *testing.T) {
	service := newTestService(t, nil, nil)
	total := decimal.RequireFromString("320.00")

	results, err := service.Reconcile(context.Background(), &Request{
		CustomerID: "globex",
		Receivables: SourceBatch{Xero: []normalizer.XeroInvoice{{
			InvoiceNumber: "INV-700",
			Type:          "ACCREC",
			Contact:       normalizer.XeroContact{Name: "Globex"},
			DateString:    "2024-04-02T00:00:00",
			Status:        "AUTHORISED",
			Total:         normalizer.NewAmount(total),
			AmountDue:     normalizer.NewAmount(total),
		}}},
		Payables: SourceBatch{Coupa: []normalizer.CoupaInvoice{{
			InvoiceNumber: "INV-700",
			InvoiceDate:   "2024-04-02T00:00:00",
			Total:         normalizer.NewAmount(total),
			Status:        "approved",
			Supplier:      normalizer.CoupaSupplier{Name: "Globex"},
		}}},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(results.PerfectMatches) != 1 {
		t.Fatalf("PerfectMatches = %d, want 1", len(results.PerfectMatches))
	}
	m := results.PerfectMatches[0]
	if m.Receivable.SourceSystem != models.SourceXero || m.Payable.SourceSystem != models.SourceCoupa {
		t.Errorf("sources = %s/%s, want xero/coupa", m.Receivable.SourceSystem, m.Payable.SourceSystem)
	}
}

func generatedRequest(seed int64) *Request {
	s := fixtures.DefaultScenario()
	s.Pairs = 60
	s.Drifted = 15
	s.ReceivableOnly = 10
	s.PayableOnly = 10
	l := fixtures.NewGenerator(seed).Generate(s)

	return &Request{
		CustomerID:  l.Customer,
		Receivables: SourceBatch{Records: l.Receivables},
		Payables: SourceBatch{
			Rows:       fixtures.Rows(l.Payables, normalizer.FormatISO),
			DateFormat: normalizer.FormatISO,
		},
	}
}

func TestReconcile_GeneratedLedgers(t *testing.T) {
	service := newTestService(t, nil, nil)
	req := generatedRequest(11)

	results, err := service.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(results.Warnings) != 0 {
		t.Fatalf("Warnings = %v, want none", results.Warnings)
	}

	// every receivable lands in exactly one bucket
	seenAR := make(map[string]int)
	seenAP := make(map[string]int)
	for _, c := range append(append([]models.MatchCandidate(nil), results.PerfectMatches...), results.Mismatches...) {
		seenAR[c.Receivable.TransactionNumber]++
		seenAP[c.Payable.TransactionNumber]++
		if c.Confidence < service.Config().Matching.MinAcceptableThreshold {
			t.Errorf("pair %s/%s accepted below threshold with %d",
				c.Receivable.TransactionNumber, c.Payable.TransactionNumber, c.Confidence)
		}
	}
	for _, r := range results.UnmatchedItems.Company1 {
		seenAR[r.TransactionNumber]++
	}
	for _, r := range results.UnmatchedItems.Company2 {
		seenAP[r.TransactionNumber]++
	}

	for _, r := range req.Receivables.Records {
		if seenAR[r.TransactionNumber] != 1 {
			t.Errorf("receivable %s appears %d times, want 1", r.TransactionNumber, seenAR[r.TransactionNumber])
		}
	}
	for _, r := range req.Payables.Rows {
		number := r.Values["Transaction #"]
		if seenAP[number] != 1 {
			t.Errorf("payable %s appears %d times, want 1", number, seenAP[number])
		}
	}

	if results.MatchedCount() < 60 {
		t.Errorf("MatchedCount() = %d, want at least the 60 exact pairs", results.MatchedCount())
	}
}

func TestReconcile_Deterministic(t *testing.T) {
	serial := DefaultConfig()
	serial.Matching.ParallelThreshold = 0

	parallel := DefaultConfig()
	parallel.Matching.ParallelThreshold = 1
	parallel.Matching.MaxWorkers = 4

	encode := func(config *Config) string {
		results, err := newTestService(t, config, nil).Reconcile(context.Background(), generatedRequest(5))
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		data, err := json.Marshal(results)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		return string(data)
	}

	first := encode(serial)
	if again := encode(serial); again != first {
		t.Error("two serial runs produced different results")
	}
	if par := encode(parallel); par != first {
		t.Error("parallel run differs from serial run")
	}
}
