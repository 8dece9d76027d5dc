package matcher

import (
	"ledgerlink-reconciliation-service/internal/models"
)

// Outcome holds the classification of one matching run
type Outcome struct {
	PerfectMatches       []models.MatchCandidate
	Mismatches           []models.MatchCandidate
	DateMismatches       []models.MatchCandidate
	UnmatchedReceivables []models.TransactionRecord
	UnmatchedPayables    []models.TransactionRecord
}

// rankedCandidate is a scored candidate together with its AP pool position
type rankedCandidate struct {
	pos       int
	candidate models.MatchCandidate
}

// classifier assigns every AR record a terminal bucket. AP records are
// claimed at most once, first come first served in AR order.
type classifier struct {
	config  *Config
	claimed []bool
}

func newClassifier(config *Config, poolSize int) *classifier {
	return &classifier{
		config:  config,
		claimed: make([]bool, poolSize),
	}
}

// classify walks the AR records in order. ranked[i] holds the candidates of
// receivables[i], best first.
func (c *classifier) classify(receivables []models.TransactionRecord, ranked [][]rankedCandidate, pool []models.TransactionRecord) *Outcome {
	out := &Outcome{
		PerfectMatches:       make([]models.MatchCandidate, 0),
		Mismatches:           make([]models.MatchCandidate, 0),
		DateMismatches:       make([]models.MatchCandidate, 0),
		UnmatchedReceivables: make([]models.TransactionRecord, 0),
		UnmatchedPayables:    make([]models.TransactionRecord, 0),
	}

	for i, ar := range receivables {
		if rc, ok := c.perfect(ranked[i]); ok {
			c.claimed[rc.pos] = true
			out.PerfectMatches = append(out.PerfectMatches, rc.candidate)
			continue
		}

		if rc, ok := c.acceptable(ranked[i]); ok {
			c.claimed[rc.pos] = true
			out.Mismatches = append(out.Mismatches, rc.candidate)
			if IsDateMismatch(rc.candidate) {
				out.DateMismatches = append(out.DateMismatches, rc.candidate)
			}
			continue
		}

		out.UnmatchedReceivables = append(out.UnmatchedReceivables, ar)
	}

	for pos, ap := range pool {
		if !c.claimed[pos] {
			out.UnmatchedPayables = append(out.UnmatchedPayables, ap)
		}
	}

	return out
}

// perfect returns the best unclaimed candidate at or above the perfect
// threshold that has no field differences
func (c *classifier) perfect(ranked []rankedCandidate) (rankedCandidate, bool) {
	for _, rc := range ranked {
		if rc.candidate.Confidence < c.config.PerfectThreshold {
			break
		}
		if c.claimed[rc.pos] || len(rc.candidate.Differences) > 0 {
			continue
		}
		return rc, true
	}
	return rankedCandidate{}, false
}

// acceptable returns the best unclaimed candidate at or above the minimum threshold
func (c *classifier) acceptable(ranked []rankedCandidate) (rankedCandidate, bool) {
	for _, rc := range ranked {
		if rc.candidate.Confidence < c.config.MinAcceptableThreshold {
			break
		}
		if c.claimed[rc.pos] {
			continue
		}
		return rc, true
	}
	return rankedCandidate{}, false
}

// IsDateMismatch reports whether an accepted pairing differs on issue date
// but not on amount
func IsDateMismatch(candidate models.MatchCandidate) bool {
	return candidate.HasDifference(models.FieldIssueDate) && !candidate.HasDifference(models.FieldAmount)
}
