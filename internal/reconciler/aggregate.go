package reconciler

import (
	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/matcher"
	"ledgerlink-reconciliation-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Aggregate packages a matching outcome into MatchingResults. It computes
// totals over every record that took part in matching, the variance between
// the ledgers and each bucket's share of the total reconciled value. It has
// no side effects and never returns nil slices.
func Aggregate(outcome *matcher.Outcome, historical []models.HistoricalInsight, warnings []models.Warning) *models.MatchingResults {
	if outcome == nil {
		outcome = &matcher.Outcome{}
	}

	results := &models.MatchingResults{
		PerfectMatches: nonNilCandidates(outcome.PerfectMatches),
		Mismatches:     nonNilCandidates(outcome.Mismatches),
		DateMismatches: nonNilCandidates(outcome.DateMismatches),
		UnmatchedItems: models.UnmatchedItems{
			Company1: nonNilRecords(outcome.UnmatchedReceivables),
			Company2: nonNilRecords(outcome.UnmatchedPayables),
		},
		HistoricalInsights: historical,
		Warnings:           warnings,
	}
	if results.HistoricalInsights == nil {
		results.HistoricalInsights = make([]models.HistoricalInsight, 0)
	}
	if results.Warnings == nil {
		results.Warnings = make([]models.Warning, 0)
	}

	buckets := []bucket{
		candidateBucket(models.BucketPerfectMatches, results.PerfectMatches),
		candidateBucket(models.BucketMismatches, results.Mismatches),
		recordBucket(models.BucketUnmatchedReceivables, results.UnmatchedItems.Company1, true),
		recordBucket(models.BucketUnmatchedPayables, results.UnmatchedItems.Company2, false),
	}

	reconciled := decimal.Zero
	for _, b := range buckets {
		results.Totals.Company1Total = results.Totals.Company1Total.Add(b.company1)
		results.Totals.Company2Total = results.Totals.Company2Total.Add(b.company2)
		reconciled = reconciled.Add(b.value)
	}
	results.Totals.Variance = results.Totals.Company1Total.Sub(results.Totals.Company2Total)

	results.Summary = make([]models.BucketSummary, 0, len(buckets))
	for _, b := range buckets {
		percentage := decimal.Zero
		if !reconciled.IsZero() {
			percentage = b.value.Div(reconciled).Mul(hundred).Round(2)
		}
		results.Summary = append(results.Summary, models.BucketSummary{
			Bucket:         b.name,
			Count:          b.count,
			Company1Amount: b.company1,
			Company2Amount: b.company2,
			Percentage:     percentage,
		})
	}

	return results
}

// bucket accumulates the signed sums of each side and the absolute value
// the bucket contributes to the reconciled total
type bucket struct {
	name     string
	count    int
	company1 decimal.Decimal
	company2 decimal.Decimal
	value    decimal.Decimal
}

func candidateBucket(name string, candidates []models.MatchCandidate) bucket {
	b := bucket{name: name, count: len(candidates)}
	for _, c := range candidates {
		b.company1 = b.company1.Add(c.Receivable.Amount)
		b.company2 = b.company2.Add(c.Payable.Amount)
		b.value = b.value.Add(c.Receivable.Amount.Abs()).Add(c.Payable.Amount.Abs())
	}
	return b
}

func recordBucket(name string, records []models.TransactionRecord, receivable bool) bucket {
	b := bucket{name: name, count: len(records)}
	for _, r := range records {
		if receivable {
			b.company1 = b.company1.Add(r.Amount)
		} else {
			b.company2 = b.company2.Add(r.Amount)
		}
		b.value = b.value.Add(r.Amount.Abs())
	}
	return b
}

func nonNilCandidates(c []models.MatchCandidate) []models.MatchCandidate {
	if c == nil {
		return make([]models.MatchCandidate, 0)
	}
	return c
}

func nonNilRecords(r []models.TransactionRecord) []models.TransactionRecord {
	if r == nil {
		return make([]models.TransactionRecord, 0)
	}
	return r
}
