package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledgerlink-reconciliation-service/internal/models"
)

// PayableIndex provides range lookups over the AP pool
type PayableIndex struct {
	// AmountRangeIndex holds the distinct amounts in ascending order
	AmountRangeIndex []*AmountIndexEntry

	// DateIndex maps issue dates (YYYY-MM-DD) to pool positions
	DateIndex map[string][]int

	// Payables is the indexed pool. Positions into it identify AP records.
	Payables []models.TransactionRecord
}

// AmountIndexEntry represents an entry in the sorted amount index
type AmountIndexEntry struct {
	Amount    decimal.Decimal
	Positions []int
}

// NewPayableIndex indexes the given AP records
func NewPayableIndex(payables []models.TransactionRecord) *PayableIndex {
	index := &PayableIndex{
		DateIndex: make(map[string][]int),
		Payables:  payables,
	}
	index.buildIndexes()
	return index
}

func (pi *PayableIndex) buildIndexes() {
	amountMap := make(map[string]*AmountIndexEntry)

	for pos, ap := range pi.Payables {
		amountKey := ap.Amount.String()
		dateKey := ap.IssueDate.Format(models.DateLayout)

		pi.DateIndex[dateKey] = append(pi.DateIndex[dateKey], pos)

		if entry, exists := amountMap[amountKey]; exists {
			entry.Positions = append(entry.Positions, pos)
		} else {
			amountMap[amountKey] = &AmountIndexEntry{
				Amount:    ap.Amount,
				Positions: []int{pos},
			}
		}
	}

	pi.AmountRangeIndex = make([]*AmountIndexEntry, 0, len(amountMap))
	for _, entry := range amountMap {
		pi.AmountRangeIndex = append(pi.AmountRangeIndex, entry)
	}

	sort.Slice(pi.AmountRangeIndex, func(i, j int) bool {
		return pi.AmountRangeIndex[i].Amount.LessThan(pi.AmountRangeIndex[j].Amount)
	})
}

// GetByAmountRange returns the positions of AP records whose amount lies in
// [minAmount, maxAmount], in ascending amount order
func (pi *PayableIndex) GetByAmountRange(minAmount, maxAmount decimal.Decimal) []int {
	var result []int

	startIdx := sort.Search(len(pi.AmountRangeIndex), func(i int) bool {
		return pi.AmountRangeIndex[i].Amount.GreaterThanOrEqual(minAmount)
	})

	for i := startIdx; i < len(pi.AmountRangeIndex); i++ {
		entry := pi.AmountRangeIndex[i]
		if entry.Amount.GreaterThan(maxAmount) {
			break
		}
		result = append(result, entry.Positions...)
	}

	return result
}

// GetByDateRange returns the positions of AP records issued within [start, end]
func (pi *PayableIndex) GetByDateRange(start, end time.Time) []int {
	var result []int

	current := models.TruncateToDate(start)
	last := models.TruncateToDate(end)
	for !current.After(last) {
		result = append(result, pi.DateIndex[current.Format(models.DateLayout)]...)
		current = current.AddDate(0, 0, 1)
	}

	return result
}

// GetCandidates returns the positions of AP records within the amount
// tolerance and date window of ar. Amounts within a cent are always eligible.
func (pi *PayableIndex) GetCandidates(ar models.TransactionRecord, config *Config) []int {
	tolerance := config.AmountTolerance(ar.Amount)
	if tolerance.LessThan(models.CentTolerance) {
		tolerance = models.CentTolerance
	}

	window := config.DateWindowDays
	inWindow := make(map[int]struct{})
	for _, pos := range pi.GetByDateRange(ar.IssueDate.AddDate(0, 0, -window), ar.IssueDate.AddDate(0, 0, window)) {
		inWindow[pos] = struct{}{}
	}

	var candidates []int
	for _, pos := range pi.GetByAmountRange(ar.Amount.Sub(tolerance), ar.Amount.Add(tolerance)) {
		if _, ok := inWindow[pos]; !ok {
			continue
		}
		if !withinAmountTolerance(ar, pi.Payables[pos], config) {
			continue
		}
		candidates = append(candidates, pos)
	}

	sort.Ints(candidates)
	return candidates
}

func withinAmountTolerance(ar, ap models.TransactionRecord, config *Config) bool {
	diff := ar.Amount.Sub(ap.Amount).Abs()
	return diff.LessThanOrEqual(models.CentTolerance) || diff.LessThanOrEqual(config.AmountTolerance(ar.Amount))
}
