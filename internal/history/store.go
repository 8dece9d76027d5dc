// Package history provides read access to previously recorded receivables,
// including settled ones that are no longer part of a reconciliation run.
// Historical insights are generated from these records.
package history

import (
	"context"
	"sort"
	"strings"

	"ledgerlink-reconciliation-service/internal/models"
)

// Store looks up the historical receivables of a counterparty.
// Lookups of an unknown counterparty return no records and no error.
type Store interface {
	Lookup(ctx context.Context, counterparty string) ([]models.TransactionRecord, error)
}

// Writer persists historical receivables for a counterparty
type Writer interface {
	Save(ctx context.Context, counterparty string, records []models.TransactionRecord) error
}

// SortRecords orders records by issue date, then transaction number
func SortRecords(records []models.TransactionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].IssueDate.Equal(records[j].IssueDate) {
			return records[i].IssueDate.Before(records[j].IssueDate)
		}
		return records[i].TransactionNumber < records[j].TransactionNumber
	})
}

// CounterpartyKey is the canonical form of a counterparty name used for lookups
func CounterpartyKey(counterparty string) string {
	return strings.ToLower(strings.Join(strings.Fields(counterparty), " "))
}

// merge returns existing with incoming applied; a record replaces the stored
// record with the same transaction number
func merge(existing, incoming []models.TransactionRecord) []models.TransactionRecord {
	merged := append([]models.TransactionRecord(nil), existing...)
	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.TransactionNumber] = i
	}
	for _, r := range incoming {
		if i, ok := index[r.TransactionNumber]; ok {
			merged[i] = r
			continue
		}
		index[r.TransactionNumber] = len(merged)
		merged = append(merged, r)
	}
	return merged
}
