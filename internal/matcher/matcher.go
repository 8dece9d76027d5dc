package matcher

import (
	"context"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

var tracer = otel.Tracer("ledgerlink/matcher")

// Engine is the matching engine: candidate generation, scoring and classification
type Engine struct {
	config *Config
	scorer *Scorer
	logger logger.Logger
}

// NewEngine creates a matching engine with the specified configuration
func NewEngine(config *Config, log logger.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Engine{
		config: config,
		scorer: NewScorer(config),
		logger: log.WithComponent("matcher"),
	}
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

// Match pairs receivables with payables. The inputs are not modified.
func (e *Engine) Match(ctx context.Context, receivables, payables []models.TransactionRecord) (*Outcome, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "matcher.Match")
	defer span.End()
	span.SetAttributes(
		attribute.Int("ledgerlink.receivables", len(receivables)),
		attribute.Int("ledgerlink.payables", len(payables)),
	)

	ars := SortReceivables(receivables)
	apPool := append([]models.TransactionRecord(nil), payables...)
	index := NewPayableIndex(apPool)

	ranked, err := e.scoreAll(ctx, ars, index)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	outcome := newClassifier(e.config, len(apPool)).classify(ars, ranked, apPool)

	e.logger.WithFields(logger.Fields{
		"receivables":     len(ars),
		"payables":        len(apPool),
		"perfect_matches": len(outcome.PerfectMatches),
		"mismatches":      len(outcome.Mismatches),
		"date_mismatches": len(outcome.DateMismatches),
		"unmatched_ar":    len(outcome.UnmatchedReceivables),
		"unmatched_ap":    len(outcome.UnmatchedPayables),
	}).Info("Matching completed")

	return outcome, nil
}

// SortReceivables returns a copy of records ordered by transaction number
func SortReceivables(records []models.TransactionRecord) []models.TransactionRecord {
	sorted := append([]models.TransactionRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TransactionNumber < sorted[j].TransactionNumber
	})
	return sorted
}

func (e *Engine) scoreAll(ctx context.Context, ars []models.TransactionRecord, index *PayableIndex) ([][]rankedCandidate, error) {
	ranked := make([][]rankedCandidate, len(ars))

	if e.config.ParallelThreshold == 0 || len(ars) < e.config.ParallelThreshold {
		for i, ar := range ars {
			if err := ctx.Err(); err != nil {
				return nil, errors.InternalError(errors.CodeCancelled, "score_candidates", err)
			}
			ranked[i] = e.rank(ar, index)
		}
		return ranked, nil
	}

	workers := e.config.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "score_candidates",
		Total:     int64(len(ars)),
		Logger:    e.logger,
	})
	e.logger.WithFields(logger.Fields{
		"receivables": len(ars),
		"workers":     workers,
	}).Debug("Scoring candidates in parallel")

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for i := range ars {
		i := i
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// each goroutine owns slot i
			ranked[i] = e.rank(ars[i], index)
			progress.Increment()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		progress.CompleteWithError(err)
		return nil, errors.InternalError(errors.CodeCancelled, "score_candidates", err)
	}
	progress.Complete()

	return ranked, nil
}

// rank scores every candidate of ar and orders them: higher confidence, then
// earlier AP issue date, then AP transaction number, then pool position
func (e *Engine) rank(ar models.TransactionRecord, index *PayableIndex) []rankedCandidate {
	positions := index.GetCandidates(ar, e.config)
	ranked := make([]rankedCandidate, 0, len(positions))
	for _, pos := range positions {
		ranked = append(ranked, rankedCandidate{
			pos:       pos,
			candidate: e.scorer.Score(ar, index.Payables[pos]),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.candidate.Confidence != b.candidate.Confidence {
			return a.candidate.Confidence > b.candidate.Confidence
		}
		ad, bd := a.candidate.Payable.IssueDate, b.candidate.Payable.IssueDate
		if !ad.Equal(bd) {
			return ad.Before(bd)
		}
		an, bn := a.candidate.Payable.TransactionNumber, b.candidate.Payable.TransactionNumber
		if an != bn {
			return an < bn
		}
		return a.pos < b.pos
	})

	return ranked
}
