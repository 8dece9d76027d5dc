// Package insights annotates unmatched payables with likely relationships to
// historical receivables. Insights are advisory: records are never merged.
package insights

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ledgerlink-reconciliation-service/internal/history"
	"ledgerlink-reconciliation-service/internal/matcher"
	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// Generator produces historical insights from a history store
type Generator struct {
	store  history.Store
	config *matcher.Config
	logger logger.Logger
}

// NewGenerator creates a generator. Amount tolerances come from the matching config.
func NewGenerator(store history.Store, config *matcher.Config, log logger.Logger) *Generator {
	if config == nil {
		config = matcher.DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Generator{
		store:  store,
		config: config,
		logger: log.WithComponent("insights"),
	}
}

// candidate is one plausible relationship between an AP item and a historical AR record
type candidate struct {
	historical models.TransactionRecord
	kind       models.InsightType
	diff       decimal.Decimal
}

// Generate returns at most one insight per unmatched payable, in payable order.
// Payables without a counterparty are looked up under defaultCounterparty.
// Any store failure fails the whole call.
func (g *Generator) Generate(ctx context.Context, payables []models.TransactionRecord, defaultCounterparty string) ([]models.HistoricalInsight, error) {
	ctx, span := otel.Tracer("ledgerlink/insights").Start(ctx, "insights.Generate")
	defer span.End()
	span.SetAttributes(attribute.Int("ledgerlink.unmatched_payables", len(payables)))

	insights := make([]models.HistoricalInsight, 0)
	if g.store == nil {
		return insights, nil
	}

	lookups := make(map[string][]models.TransactionRecord)
	for _, ap := range payables {
		counterparty := ap.Counterparty
		if counterparty == "" {
			counterparty = defaultCounterparty
		}
		if counterparty == "" {
			continue
		}

		key := history.CounterpartyKey(counterparty)
		records, seen := lookups[key]
		if !seen {
			var err error
			records, err = g.store.Lookup(ctx, counterparty)
			if err != nil {
				span.RecordError(err)
				return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeHistoryLookup,
					"historical record lookup failed").WithContext("counterparty", counterparty)
			}
			lookups[key] = records
		}

		if best, ok := g.best(ap, records); ok {
			insights = append(insights, models.HistoricalInsight{
				APItem:          ap,
				HistoricalMatch: best.historical,
				Insight:         describe(ap, best),
			})
		}
	}

	g.logger.WithFields(logger.Fields{
		"unmatched_payables": len(payables),
		"counterparties":     len(lookups),
		"insights":           len(insights),
	}).Debug("Generated historical insights")

	return insights, nil
}

// best picks the strongest relationship: smallest amount difference, then
// partial settlement before previous settlement, then earlier issue date,
// then transaction number
func (g *Generator) best(ap models.TransactionRecord, records []models.TransactionRecord) (candidate, bool) {
	tolerance := g.config.AmountTolerance(ap.Amount)

	var found []candidate
	for _, h := range records {
		if h.IsPartiallyPaid {
			outstanding := h.OriginalAmount.Sub(h.AmountPaid)
			if diff := ap.Amount.Sub(outstanding).Abs(); diff.LessThanOrEqual(tolerance) {
				found = append(found, candidate{historical: h, kind: models.InsightPartialSettlement, diff: diff})
			}
		}
		if h.Status == models.StatusPaid {
			if diff := ap.Amount.Sub(settledAmount(h)).Abs(); diff.LessThanOrEqual(tolerance) {
				found = append(found, candidate{historical: h, kind: models.InsightPreviouslySettled, diff: diff})
			}
		}
	}

	if len(found) == 0 {
		return candidate{}, false
	}

	best := found[0]
	for _, c := range found[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

func better(a, b candidate) bool {
	if cmp := a.diff.Cmp(b.diff); cmp != 0 {
		return cmp < 0
	}
	if a.kind != b.kind {
		return a.kind == models.InsightPartialSettlement
	}
	if !a.historical.IssueDate.Equal(b.historical.IssueDate) {
		return a.historical.IssueDate.Before(b.historical.IssueDate)
	}
	return a.historical.TransactionNumber < b.historical.TransactionNumber
}

// settledAmount is the full value of a settled receivable
func settledAmount(h models.TransactionRecord) decimal.Decimal {
	if !h.OriginalAmount.IsZero() {
		return h.OriginalAmount
	}
	return h.Amount
}

func describe(ap models.TransactionRecord, c candidate) models.Insight {
	h := c.historical
	switch c.kind {
	case models.InsightPartialSettlement:
		return models.Insight{
			Type: models.InsightPartialSettlement,
			Message: fmt.Sprintf("%s (%s) may be a partial settlement of AR #%s: %s outstanding of %s after %s paid",
				ap.TransactionNumber, ap.Amount.StringFixed(2), h.TransactionNumber,
				h.OriginalAmount.Sub(h.AmountPaid).StringFixed(2), h.OriginalAmount.StringFixed(2), h.AmountPaid.StringFixed(2)),
			Severity: models.SeverityWarning,
		}
	default:
		return models.Insight{
			Type: models.InsightPreviouslySettled,
			Message: fmt.Sprintf("%s (%s) matches AR #%s (%s), already settled on %s; it may be a re-invoice or a duplicate payment",
				ap.TransactionNumber, ap.Amount.StringFixed(2), h.TransactionNumber,
				settledAmount(h).StringFixed(2), h.IssueDate.Format(models.DateLayout)),
			Severity: models.SeverityInfo,
		}
	}
}
