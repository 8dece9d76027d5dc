// Package matcher pairs receivable (AR) records with payable (AP) records.
//
// Matching runs in three stages:
//  1. Candidate generation: the AP pool is indexed by amount and each AR record
//     is offered the AP records within the amount tolerance and date window.
//  2. Scoring: every candidate pair receives a 0-100 confidence from weighted
//     amount, date and reference sub-scores.
//  3. Classification: a sequential pass over AR records, sorted by transaction
//     number, claims at most one AP record per AR record.
//
// Scoring may run in parallel for large batches. Classification never does, so
// the outcome is identical to a serial run.
//
// Example usage:
//
//	config := matcher.DefaultConfig()
//	config.DateWindowDays = 30
//
//	engine := matcher.NewEngine(config, nil)
//	outcome, err := engine.Match(ctx, receivables, payables)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/pkg/errors"
)

// Config holds the tolerances, weights and thresholds used for matching.
//
// Use the provided factory functions for common scenarios:
//   - DefaultConfig(): the documented defaults
//   - StrictConfig(): tight tolerances for month-end sign-off
//   - RelaxedConfig(): loose tolerances for exploratory matching
type Config struct {
	// AmountToleranceAbsolute is the smallest amount difference tolerated
	AmountToleranceAbsolute decimal.Decimal `json:"amount_tolerance_absolute" mapstructure:"amount_tolerance_absolute"`

	// AmountTolerancePercent is a percentage (0-100) of the AR amount tolerated.
	// The effective tolerance is whichever of the two is greater.
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`

	// DateWindowDays is the largest issue date distance between candidates
	DateWindowDays int `json:"date_window_days" mapstructure:"date_window_days"`

	// PerfectThreshold is the confidence a difference-free pair needs to be a perfect match
	PerfectThreshold int `json:"perfect_threshold" mapstructure:"perfect_threshold"`

	// MinAcceptableThreshold is the confidence an accepted mismatch needs
	MinAcceptableThreshold int `json:"min_acceptable_threshold" mapstructure:"min_acceptable_threshold"`

	// ParallelThreshold is the AR batch size from which scoring runs in parallel
	ParallelThreshold int `json:"parallel_threshold" mapstructure:"parallel_threshold"`

	// MaxWorkers bounds the scoring pool; zero means GOMAXPROCS
	MaxWorkers int `json:"max_workers" mapstructure:"max_workers"`

	Weights Weights `json:"weights" mapstructure:"weights"`
}

// Weights defines the relative importance of the sub-scores
type Weights struct {
	Amount    float64 `json:"amount" mapstructure:"amount"`
	Date      float64 `json:"date" mapstructure:"date"`
	Reference float64 `json:"reference" mapstructure:"reference"`
}

// DefaultConfig returns the documented default configuration
func DefaultConfig() *Config {
	return &Config{
		AmountToleranceAbsolute: decimal.NewFromFloat(0.01),
		AmountTolerancePercent:  5.0,
		DateWindowDays:          45,
		PerfectThreshold:        95,
		MinAcceptableThreshold:  50,
		ParallelThreshold:       10000,
		Weights: Weights{
			Amount:    0.5,
			Date:      0.3,
			Reference: 0.2,
		},
	}
}

// StrictConfig returns a configuration for strict matching
func StrictConfig() *Config {
	c := DefaultConfig()
	c.AmountTolerancePercent = 0.5
	c.DateWindowDays = 7
	c.PerfectThreshold = 98
	c.MinAcceptableThreshold = 70
	c.Weights = Weights{Amount: 0.6, Date: 0.25, Reference: 0.15}
	return c
}

// RelaxedConfig returns a configuration for relaxed matching
func RelaxedConfig() *Config {
	c := DefaultConfig()
	c.AmountTolerancePercent = 10.0
	c.DateWindowDays = 90
	c.MinAcceptableThreshold = 40
	c.Weights = Weights{Amount: 0.45, Date: 0.3, Reference: 0.25}
	return c
}

// Validate checks the configuration. Every failure is an InvalidConfigurationError.
func (c *Config) Validate() error {
	if c == nil {
		return errors.InvalidConfigurationError("matching", nil, fmt.Errorf("configuration is missing"))
	}

	if c.AmountToleranceAbsolute.IsNegative() {
		return errors.InvalidConfigurationError("amount_tolerance_absolute", c.AmountToleranceAbsolute.String(),
			fmt.Errorf("must not be negative"))
	}

	if c.AmountTolerancePercent < 0 || c.AmountTolerancePercent > 100 {
		return errors.InvalidConfigurationError("amount_tolerance_percent", c.AmountTolerancePercent,
			fmt.Errorf("must be between 0 and 100"))
	}

	if c.DateWindowDays < 0 {
		return errors.InvalidConfigurationError("date_window_days", c.DateWindowDays,
			fmt.Errorf("must not be negative"))
	}

	if c.MinAcceptableThreshold < 0 || c.MinAcceptableThreshold > 100 {
		return errors.InvalidConfigurationError("min_acceptable_threshold", c.MinAcceptableThreshold,
			fmt.Errorf("must be between 0 and 100"))
	}

	if c.PerfectThreshold < c.MinAcceptableThreshold || c.PerfectThreshold > 100 {
		return errors.InvalidConfigurationError("perfect_threshold", c.PerfectThreshold,
			fmt.Errorf("must be between min_acceptable_threshold (%d) and 100", c.MinAcceptableThreshold))
	}

	if c.ParallelThreshold < 0 {
		return errors.InvalidConfigurationError("parallel_threshold", c.ParallelThreshold,
			fmt.Errorf("must not be negative"))
	}

	if c.MaxWorkers < 0 {
		return errors.InvalidConfigurationError("max_workers", c.MaxWorkers,
			fmt.Errorf("must not be negative"))
	}

	if err := c.Weights.Validate(); err != nil {
		return errors.InvalidConfigurationError("weights", c.Weights, err)
	}

	return nil
}

// Validate checks if the weights are valid
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"amount": w.Amount, "date": w.Date, "reference": w.Reference} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0: %f", name, v)
		}
	}

	// Weights should sum to approximately 1.0
	total := w.Amount + w.Date + w.Reference
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("weights should sum to 1.0, got %f", total)
	}

	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// AmountTolerance returns the tolerance for an AR amount: the greater of the
// absolute tolerance and the percentage of the amount.
func (c *Config) AmountTolerance(amount decimal.Decimal) decimal.Decimal {
	pct := amount.Abs().Mul(decimal.NewFromFloat(c.AmountTolerancePercent)).Div(decimal.NewFromInt(100))
	if pct.GreaterThan(c.AmountToleranceAbsolute) {
		return pct
	}
	return c.AmountToleranceAbsolute
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{AmountTolerance: max(%s, %.2f%%), DateWindow: %d days, Perfect: %d, MinAcceptable: %d, Weights: %.2f/%.2f/%.2f}",
		c.AmountToleranceAbsolute.StringFixed(2), c.AmountTolerancePercent, c.DateWindowDays,
		c.PerfectThreshold, c.MinAcceptableThreshold, c.Weights.Amount, c.Weights.Date, c.Weights.Reference)
}
