package matcher

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/models"
)

func TestScorer_AmountScore(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	ar := receivable("INV-1", "500.00", "2024-01-10")

	tests := []struct {
		name     string
		amount   string
		expected float64
	}{
		{"exact", "500.00", 1.0},
		{"within a cent", "500.01", 1.0},
		{"half the tolerance", "487.50", 0.5},
		{"at the tolerance", "475.00", 0.0},
		{"beyond the tolerance", "400.00", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ap := payable("A", tt.amount, "2024-01-10", "")
			got := scorer.AmountScore(ar, ap)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected amount score %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestScorer_DateScore(t *testing.T) {
	config := DefaultConfig()
	config.DateWindowDays = 10
	scorer := NewScorer(config)
	ar := receivable("INV-1", "100.00", "2024-01-10")

	tests := []struct {
		name     string
		issued   string
		expected float64
	}{
		{"same day", "2024-01-10", 1.0},
		{"one day earlier", "2024-01-09", 0.9},
		{"five days later", "2024-01-15", 0.5},
		{"window edge", "2024-01-20", 0.0},
		{"outside window", "2024-02-20", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.DateScore(ar, payable("A", "100.00", tt.issued, ""))
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected date score %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "INV-100", "INV-100", 1.0, 1.0},
		{"case and punctuation", "#inv-100", "INV-100.", 1.0, 1.0},
		{"empty side", "", "INV-100", 0.0, 0.0},
		{"one character apart", "INV-100", "INV-101", 0.8, 0.9},
		{"shared token", "PO 4411 ACME", "ACME PO 4411", 1.0, 1.0},
		{"unrelated", "ABC", "XYZ", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Expected similarity in [%f, %f], got %f", tt.min, tt.max, got)
			}
		})
	}
}

func TestReferenceScore(t *testing.T) {
	ar := receivable("INV-100", "10.00", "2024-01-01")

	withRef := payable("ROW-7", "10.00", "2024-01-01", "INV-100")
	if got := ReferenceScore(ar, withRef); got != 1.0 {
		t.Errorf("Expected reference score 1.0, got %f", got)
	}

	noIdentifiers := payable("", "10.00", "2024-01-01", "")
	if got := ReferenceScore(ar, noIdentifiers); got != 0.0 {
		t.Errorf("Expected reference score 0.0 without identifiers, got %f", got)
	}
}

func TestDifferences(t *testing.T) {
	ar := receivable("INV-1", "100.00", "2024-01-10")
	ar.Reference = "PO-1"

	tests := []struct {
		name     string
		ap       models.TransactionRecord
		expected []string
	}{
		{"none", payable("A", "100.004", "2024-01-10", "po-1"), nil},
		{"reference names the invoice number", payable("A", "100.00", "2024-01-10", "inv-1"), nil},
		{"amount", payable("A", "100.01", "2024-01-10", ""), []string{models.FieldAmount}},
		{"date", payable("A", "100.00", "2024-01-11", ""), []string{models.FieldIssueDate}},
		{"reference", payable("A", "100.00", "2024-01-10", "PO-2"), []string{models.FieldReference}},
		{"all", payable("A", "90.00", "2024-01-01", "PO-9"),
			[]string{models.FieldAmount, models.FieldIssueDate, models.FieldReference}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diffs := Differences(ar, tt.ap)
			if len(diffs) != len(tt.expected) {
				t.Fatalf("Expected %d differences, got %v", len(tt.expected), diffs)
			}
			for i, field := range tt.expected {
				if diffs[i].Field != field {
					t.Errorf("Expected difference %d on %s, got %s", i, field, diffs[i].Field)
				}
			}
		})
	}
}

func TestScore_MonotonicInTolerance(t *testing.T) {
	ar := receivable("INV-1", "1000.00", "2024-01-10")
	pairs := []models.TransactionRecord{
		payable("A", "990.00", "2024-01-14", ""),
		payable("B", "1000.00", "2024-01-30", "INV-1"),
		payable("C", "960.00", "2024-01-10", "INV-2"),
		payable("D", "1000.005", "2024-01-10", ""),
	}

	for _, ap := range pairs {
		prev := math.MaxInt
		for _, step := range []struct {
			pct    float64
			window int
		}{{10, 60}, {5, 45}, {2, 30}, {1, 20}, {0.5, 5}, {0, 0}} {
			config := DefaultConfig()
			config.AmountTolerancePercent = step.pct
			config.DateWindowDays = step.window

			got := NewScorer(config).Score(ar, ap).Confidence
			if got > prev {
				t.Errorf("%s: confidence rose from %d to %d as tolerances shrank", ap.TransactionNumber, prev, got)
			}
			prev = got
		}
	}
}

func TestScore_ConfidenceBounds(t *testing.T) {
	config := DefaultConfig()
	scorer := NewScorer(config)
	ar := receivable("INV-1", "100.00", "2024-01-10")

	c := scorer.Score(ar, payable("A", "100.00", "2024-01-10", "INV-1"))
	if c.Confidence != 100 {
		t.Errorf("Expected confidence 100, got %d", c.Confidence)
	}

	c = scorer.Score(ar, payable("Q", "0.01", "2020-01-10", ""))
	if c.Confidence != 0 {
		t.Errorf("Expected confidence 0, got %d", c.Confidence)
	}
	if len(c.MatchedOn) != 0 {
		t.Errorf("Expected no contributing signals, got %v", c.MatchedOn)
	}
}

func TestConfig_AmountTolerance(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		amount   string
		expected string
	}{
		{"500.00", "25"},
		{"-500.00", "25"},
		{"0.10", "0.01"},
	}

	for _, tt := range tests {
		got := config.AmountTolerance(decimal.RequireFromString(tt.amount))
		if !got.Equal(decimal.RequireFromString(tt.expected)) {
			t.Errorf("AmountTolerance(%s): expected %s, got %s", tt.amount, tt.expected, got)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"negative absolute tolerance", func(c *Config) { c.AmountToleranceAbsolute = decimal.NewFromInt(-1) }, true},
		{"percent above 100", func(c *Config) { c.AmountTolerancePercent = 101 }, true},
		{"negative window", func(c *Config) { c.DateWindowDays = -1 }, true},
		{"perfect below minimum", func(c *Config) { c.PerfectThreshold = 40 }, true},
		{"minimum above 100", func(c *Config) { c.MinAcceptableThreshold = 101 }, true},
		{"weights do not sum to one", func(c *Config) { c.Weights.Reference = 0.5 }, true},
		{"negative weight", func(c *Config) { c.Weights = Weights{Amount: 1.2, Date: -0.2} }, true},
		{"negative workers", func(c *Config) { c.MaxWorkers = -2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}

	for _, c := range []*Config{StrictConfig(), RelaxedConfig()} {
		if err := c.Validate(); err != nil {
			t.Errorf("Expected preset %s to be valid: %v", c, err)
		}
	}
}

func TestConfig_Clone(t *testing.T) {
	original := DefaultConfig()
	clone := original.Clone()
	clone.DateWindowDays = 1
	clone.Weights.Amount = 0.9

	if original.DateWindowDays != 45 || original.Weights.Amount != 0.5 {
		t.Error("Expected clone to be independent of the original")
	}

	var nilConfig *Config
	if nilConfig.Clone() != nil {
		t.Error("Expected nil clone of nil config")
	}
}
