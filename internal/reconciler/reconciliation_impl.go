package reconciler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// run executes validate, normalize, empty check, match, insights and aggregate in order
func (s *Service) run(ctx context.Context, req *Request, op *logger.OperationLogger) (*models.MatchingResults, error) {
	// Step 1: configuration is checked before any record is touched
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.UseHistoricalData && s.store == nil {
		return nil, errors.InvalidConfigurationError("use_historical_data", true,
			fmt.Errorf("no history store configured")).
			WithSuggestion("configure a history backend or disable historical data")
	}

	// Step 2: normalize both sides
	receivables, err := s.normalize(ctx, &req.Receivables, models.SideReceivable, s.config.ReceivableSource)
	if err != nil {
		return nil, err
	}
	payables, err := s.normalize(ctx, &req.Payables, models.SidePayable, s.config.PayableSource)
	if err != nil {
		return nil, err
	}
	op.Step("normalize", logger.Fields{
		"receivables":        receivables.Stats.Accepted,
		"receivables_failed": receivables.Stats.Rejected,
		"payables":           payables.Stats.Accepted,
		"payables_failed":    payables.Stats.Rejected,
	})

	warnings := append(receivables.Warnings(), payables.Warnings()...)
	for _, w := range warnings {
		s.logger.WithFields(logger.Fields{
			"side":               w.Side,
			"row":                w.Row,
			"transaction_number": w.TransactionNumber,
			"field":              w.Field,
		}).Warn(w.Message)
	}

	// Step 3: matching is meaningless with an empty side
	if len(receivables.Records) == 0 {
		return nil, errors.EmptyInputError(string(models.SideReceivable), receivables.Stats.Rejected)
	}
	if len(payables.Records) == 0 {
		return nil, errors.EmptyInputError(string(models.SidePayable), payables.Stats.Rejected)
	}

	// Step 4: match
	if err := cancelled(ctx, "match"); err != nil {
		return nil, err
	}
	outcome, err := s.engine.Match(ctx, receivables.Records, payables.Records)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeMatchingFailed, "matching failed")
	}
	op.Step("match", logger.Fields{
		"perfect_matches": len(outcome.PerfectMatches),
		"mismatches":      len(outcome.Mismatches),
	})

	// Step 5: historical insights
	historical := make([]models.HistoricalInsight, 0)
	if req.UseHistoricalData {
		if err := cancelled(ctx, "historical_insights"); err != nil {
			return nil, err
		}
		historical, err = s.insights.Generate(ctx, outcome.UnmatchedPayables, req.CustomerID)
		if err != nil {
			return nil, err
		}
		op.Step("insights", logger.Fields{"insights": len(historical)})
	}

	// Step 6: aggregate
	return Aggregate(outcome, historical, warnings), nil
}

// normalize converts one side into canonical records
func (s *Service) normalize(ctx context.Context, batch *SourceBatch, side models.Side, fallback models.SourceSystem) (*normalizer.Batch, error) {
	_, span := tracer.Start(ctx, "reconciler.normalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledgerlink.side", string(side)),
		attribute.Int("ledgerlink.input_records", batch.Size()),
	)

	if err := cancelled(ctx, "normalize"); err != nil {
		return nil, err
	}

	var (
		result *normalizer.Batch
		err    error
	)
	switch {
	case len(batch.Rows) > 0:
		result, err = s.normalizer.NormalizeRows(batch.Rows, batch.options(side, models.SourceCSV))
	case len(batch.Xero) > 0:
		result, err = s.normalizer.NormalizeXero(batch.Xero, batch.options(side, models.SourceXero))
	case len(batch.Coupa) > 0:
		result, err = s.normalizer.NormalizeCoupa(batch.Coupa, batch.options(side, models.SourceCoupa))
	default:
		source := batch.Source
		if source == "" {
			source = fallback
		}
		result = s.normalizer.NormalizeRecords(batch.Records, source, side)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("ledgerlink.accepted", result.Stats.Accepted),
		attribute.Int("ledgerlink.rejected", result.Stats.Rejected),
	)
	return result, nil
}

func cancelled(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, step, err)
	}
	return nil
}
