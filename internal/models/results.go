package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// MatchSignal names a sub-score that contributed to a candidate's confidence
type MatchSignal string

const (
	SignalAmount    MatchSignal = "amount"
	SignalDate      MatchSignal = "date"
	SignalReference MatchSignal = "reference"
)

// Field names used in Difference entries
const (
	FieldAmount    = "amount"
	FieldIssueDate = "issueDate"
	FieldReference = "reference"
)

// Difference records one field that differs between the paired records
type Difference struct {
	Field   string `json:"field"`
	ARValue string `json:"arValue"`
	APValue string `json:"apValue"`
}

// SubScores carries the normalized [0,1] sub-scores behind a confidence value
type SubScores struct {
	Amount    float64 `json:"amount"`
	Date      float64 `json:"date"`
	Reference float64 `json:"reference"`
}

// MatchCandidate pairs one receivable with one payable
type MatchCandidate struct {
	Receivable  TransactionRecord `json:"receivable"`
	Payable     TransactionRecord `json:"payable"`
	Confidence  int               `json:"confidence"`
	MatchedOn   []MatchSignal     `json:"matchedOn"`
	Differences []Difference      `json:"differences"`
	Scores      SubScores         `json:"scores"`
}

// HasDifference reports whether the candidate differs on the given field
func (c *MatchCandidate) HasDifference(field string) bool {
	for _, d := range c.Differences {
		if d.Field == field {
			return true
		}
	}
	return false
}

// InsightType classifies a historical insight
type InsightType string

const (
	InsightPartialSettlement InsightType = "partial_settlement"
	InsightPreviouslySettled InsightType = "previously_settled"
)

// Severity of a historical insight
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Insight describes the relationship a historical record suggests
type Insight struct {
	Type     InsightType `json:"type"`
	Message  string      `json:"message"`
	Severity Severity    `json:"severity"`
}

// HistoricalInsight annotates an unmatched payable with a prior receivable.
// It never implies the records were merged.
type HistoricalInsight struct {
	APItem          TransactionRecord `json:"apItem"`
	HistoricalMatch TransactionRecord `json:"historicalMatch"`
	Insight         Insight           `json:"insight"`
}

// UnmatchedItems holds the records of each side that found no acceptable pairing
type UnmatchedItems struct {
	Company1 []TransactionRecord `json:"company1"`
	Company2 []TransactionRecord `json:"company2"`
}

// Totals summarises both ledgers
type Totals struct {
	Company1Total decimal.Decimal `json:"company1Total"`
	Company2Total decimal.Decimal `json:"company2Total"`
	Variance      decimal.Decimal `json:"variance"`
}

// MarshalJSON renders totals with two fraction digits
func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Company1Total string `json:"company1Total"`
		Company2Total string `json:"company2Total"`
		Variance      string `json:"variance"`
	}{
		Company1Total: t.Company1Total.StringFixed(2),
		Company2Total: t.Company2Total.StringFixed(2),
		Variance:      t.Variance.StringFixed(2),
	})
}

// Bucket names used in the per-bucket summary
const (
	BucketPerfectMatches       = "perfectMatches"
	BucketMismatches           = "mismatches"
	BucketUnmatchedReceivables = "unmatchedReceivables"
	BucketUnmatchedPayables    = "unmatchedPayables"
)

// BucketSummary holds the count, amounts and share of one result bucket
type BucketSummary struct {
	Bucket         string          `json:"bucket"`
	Count          int             `json:"count"`
	Company1Amount decimal.Decimal `json:"company1Amount"`
	Company2Amount decimal.Decimal `json:"company2Amount"`
	Percentage     decimal.Decimal `json:"percentage"`
}

// MarshalJSON renders amounts and percentage with two fraction digits
func (b BucketSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Bucket         string `json:"bucket"`
		Count          int    `json:"count"`
		Company1Amount string `json:"company1Amount"`
		Company2Amount string `json:"company2Amount"`
		Percentage     string `json:"percentage"`
	}{
		Bucket:         b.Bucket,
		Count:          b.Count,
		Company1Amount: b.Company1Amount.StringFixed(2),
		Company2Amount: b.Company2Amount.StringFixed(2),
		Percentage:     b.Percentage.StringFixed(2),
	})
}

// Warning reports a record excluded during normalization
type Warning struct {
	Source            SourceSystem `json:"source"`
	Side              Side         `json:"side"`
	Row               int          `json:"row,omitempty"`
	TransactionNumber string       `json:"transactionNumber,omitempty"`
	Field             string       `json:"field"`
	Value             string       `json:"value"`
	Message           string       `json:"message"`
}

// MatchingResults is the immutable outcome of one reconciliation run
type MatchingResults struct {
	PerfectMatches     []MatchCandidate    `json:"perfectMatches"`
	Mismatches         []MatchCandidate    `json:"mismatches"`
	UnmatchedItems     UnmatchedItems      `json:"unmatchedItems"`
	DateMismatches     []MatchCandidate    `json:"dateMismatches"`
	HistoricalInsights []HistoricalInsight `json:"historicalInsights"`
	Totals             Totals              `json:"totals"`
	Summary            []BucketSummary     `json:"summary"`
	Warnings           []Warning           `json:"warnings"`
}

// MatchedCount returns the number of accepted pairings
func (r *MatchingResults) MatchedCount() int {
	return len(r.PerfectMatches) + len(r.Mismatches)
}

// ReceivableCount returns the number of receivables that took part in matching
func (r *MatchingResults) ReceivableCount() int {
	return r.MatchedCount() + len(r.UnmatchedItems.Company1)
}

// PayableCount returns the number of payables that took part in matching
func (r *MatchingResults) PayableCount() int {
	return r.MatchedCount() + len(r.UnmatchedItems.Company2)
}

// MatchRate returns the share of receivables that were paired, as a percentage
func (r *MatchingResults) MatchRate() float64 {
	total := r.ReceivableCount()
	if total == 0 {
		return 0
	}
	return float64(r.MatchedCount()) / float64(total) * 100
}
