package matcher

import (
	"math"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"ledgerlink-reconciliation-service/internal/models"
)

// Scorer computes confidence values for candidate pairs
type Scorer struct {
	config *Config
}

// NewScorer creates a scorer for the given configuration
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config}
}

// Score builds the candidate for one AR/AP pair, with sub-scores, confidence,
// contributing signals and field differences filled in
func (s *Scorer) Score(ar, ap models.TransactionRecord) models.MatchCandidate {
	scores := models.SubScores{
		Amount:    s.AmountScore(ar, ap),
		Date:      s.DateScore(ar, ap),
		Reference: ReferenceScore(ar, ap),
	}

	w := s.config.Weights
	sum := scores.Amount*w.Amount + scores.Date*w.Date + scores.Reference*w.Reference
	confidence := int(math.Round(100 * sum))
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return models.MatchCandidate{
		Receivable:  ar,
		Payable:     ap,
		Confidence:  confidence,
		MatchedOn:   matchedOn(scores),
		Differences: Differences(ar, ap),
		Scores:      scores,
	}
}

// AmountScore is 1.0 within a cent and decays linearly to 0 at the tolerance
func (s *Scorer) AmountScore(ar, ap models.TransactionRecord) float64 {
	diff := ar.Amount.Sub(ap.Amount).Abs()
	if diff.LessThanOrEqual(models.CentTolerance) {
		return 1.0
	}

	tolerance := s.config.AmountTolerance(ar.Amount)
	if tolerance.IsZero() || diff.GreaterThan(tolerance) {
		return 0.0
	}

	ratio := diff.Div(tolerance).InexactFloat64()
	return math.Max(0.0, 1.0-ratio)
}

// DateScore is 1.0 on the same day and decays linearly to 0 at the window edge
func (s *Scorer) DateScore(ar, ap models.TransactionRecord) float64 {
	days := models.DaysBetween(ar.IssueDate, ap.IssueDate)
	if days == 0 {
		return 1.0
	}
	if s.config.DateWindowDays == 0 || days > s.config.DateWindowDays {
		return 0.0
	}
	return math.Max(0.0, 1.0-float64(days)/float64(s.config.DateWindowDays))
}

// ReferenceScore is the best similarity between any identifier of ar and any
// identifier of ap. It is 0 when either side has no identifier.
func ReferenceScore(ar, ap models.TransactionRecord) float64 {
	best := 0.0
	for _, a := range ar.Identifiers() {
		for _, b := range ap.Identifiers() {
			if sim := Similarity(a, b); sim > best {
				best = sim
			}
		}
	}
	return best
}

// Similarity compares two identifiers after normalization, returning the
// greater of token overlap and edit-distance ratio
func Similarity(a, b string) float64 {
	a = models.NormalizeIdentifier(a)
	b = models.NormalizeIdentifier(b)
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	ratio := levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	return math.Max(tokenJaccard(a, b), ratio)
}

func tokenJaccard(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func tokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[t] = true
	}
	return set
}

func matchedOn(scores models.SubScores) []models.MatchSignal {
	signals := make([]models.MatchSignal, 0, 3)
	if scores.Amount > 0 {
		signals = append(signals, models.SignalAmount)
	}
	if scores.Date > 0 {
		signals = append(signals, models.SignalDate)
	}
	if scores.Reference > 0 {
		signals = append(signals, models.SignalReference)
	}
	return signals
}

// Differences lists the fields that differ between ar and ap: amount at cent
// precision, issue date at day precision, and reference when both sides carry
// one and no identifier of ar agrees with an identifier of ap
func Differences(ar, ap models.TransactionRecord) []models.Difference {
	diffs := make([]models.Difference, 0)

	arAmount := ar.Amount.Round(2)
	apAmount := ap.Amount.Round(2)
	if !arAmount.Equal(apAmount) {
		diffs = append(diffs, models.Difference{
			Field:   models.FieldAmount,
			ARValue: arAmount.StringFixed(2),
			APValue: apAmount.StringFixed(2),
		})
	}

	arDate := ar.IssueDate.Format(models.DateLayout)
	apDate := ap.IssueDate.Format(models.DateLayout)
	if arDate != apDate {
		diffs = append(diffs, models.Difference{
			Field:   models.FieldIssueDate,
			ARValue: arDate,
			APValue: apDate,
		})
	}

	arRef := strings.TrimSpace(ar.Reference)
	apRef := strings.TrimSpace(ap.Reference)
	if arRef != "" && apRef != "" && ReferenceScore(ar, ap) < 1.0 {
		diffs = append(diffs, models.Difference{
			Field:   models.FieldReference,
			ARValue: arRef,
			APValue: apRef,
		})
	}

	return diffs
}
