package engine

import (
	"fmt"
	"math"

	"github.com/caseline/ledgermatch/internal/model"
)

// Scorer computes a weighted match score for (transaction, candidate) pairs.
// Scoring is pure computation: given identical inputs and pattern snapshot it
// always produces the same score and reasons.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer with the given configuration.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score evaluates one candidate against a transaction. The supplied patterns
// are the tenant's active patterns for the transaction's counterparty.
func (s *Scorer) Score(txn *model.Transaction, cand *model.Candidate, patterns []model.Pattern) model.MatchResult {
	result := model.MatchResult{
		Candidate: *cand,
		DayOffset: txn.DayOffset(cand.DueDate),
	}

	addReason := func(code, detail string, contribution int) {
		if contribution <= 0 {
			return
		}
		result.Score += contribution
		result.Reasons = append(result.Reasons, model.Reason{
			Code:         code,
			Detail:       detail,
			Contribution: contribution,
		})
	}

	s.scoreAmount(txn, cand, addReason)
	s.scoreDate(result.DayOffset, addReason)
	s.scoreReference(txn, cand, addReason)
	s.scoreCounterparty(txn, cand, addReason)
	s.scorePattern(txn, cand, patterns, addReason)

	if result.Score > 100 {
		result.Score = 100
	}
	result.Confidence = model.ConfidenceForScore(result.Score)
	result.SortReasons()

	return result
}

type reasonFunc func(code, detail string, contribution int)

// scoreAmount awards full weight for an exact or within-tolerance amount and
// proportional decay out to the cutoff percentage. Signs are ignored: an
// incoming payment reconciles against a positively-stated invoice.
func (s *Scorer) scoreAmount(txn *model.Transaction, cand *model.Candidate, add reasonFunc) {
	txnAmount := txn.Amount.Abs()
	candAmount := cand.Amount.Abs()

	if txnAmount.Equal(candAmount) {
		add("amount_exact", "amounts are identical", s.cfg.AmountWeight)
		return
	}
	if txnAmount.IsZero() || candAmount.IsZero() {
		return
	}

	diff := txnAmount.Sub(candAmount).Abs()
	diffPct, _ := diff.Div(txnAmount).Float64()
	diffPct *= 100

	switch {
	case diffPct <= s.cfg.AmountTolerancePct:
		add("amount_within_tolerance",
			fmt.Sprintf("amounts differ by %.2f%%", diffPct), s.cfg.AmountWeight)
	case diffPct < s.cfg.AmountCutoffPct:
		span := s.cfg.AmountCutoffPct - s.cfg.AmountTolerancePct
		fraction := 1 - (diffPct-s.cfg.AmountTolerancePct)/span
		add("amount_close",
			fmt.Sprintf("amounts differ by %.2f%%", diffPct),
			int(math.Round(float64(s.cfg.AmountWeight)*fraction)))
	}
}

// scoreDate awards full weight at zero offset with linear decay to zero at
// the configured maximum day offset.
func (s *Scorer) scoreDate(dayOffset int, add reasonFunc) {
	if dayOffset >= s.cfg.MaxDateOffsetDays {
		return
	}
	if dayOffset == 0 {
		add("date_exact", "same date", s.cfg.DateWeight)
		return
	}

	fraction := 1 - float64(dayOffset)/float64(s.cfg.MaxDateOffsetDays)
	add("date_close",
		fmt.Sprintf("%d days apart", dayOffset),
		int(math.Round(float64(s.cfg.DateWeight)*fraction)))
}

// scoreReference measures token overlap between the transaction's free text
// and the candidate's reference and id.
func (s *Scorer) scoreReference(txn *model.Transaction, cand *model.Candidate, add reasonFunc) {
	txnText := txn.Reference + " " + txn.Description
	candText := cand.Reference + " " + cand.ID

	similarity := tokenJaccard(txnText, candText)
	if similarity <= 0 {
		return
	}
	add("reference_overlap",
		fmt.Sprintf("reference similarity %.2f", similarity),
		int(math.Round(float64(s.cfg.ReferenceWeight)*similarity)))
}

// scoreCounterparty matches normalized counterparty names exactly, then by
// account identifier, then by fuzzy name similarity above the configured
// floor.
func (s *Scorer) scoreCounterparty(txn *model.Transaction, cand *model.Candidate, add reasonFunc) {
	txnName := model.NormalizeCounterparty(txn.CounterpartyName)
	candName := model.NormalizeCounterparty(cand.CounterpartyName)

	if txnName != "" && txnName == candName {
		add("counterparty_match", "counterparty names match", s.cfg.CounterpartyWeight)
		return
	}

	if txn.CounterpartyAccount != "" && txn.CounterpartyAccount == cand.Reference {
		add("counterparty_account_match", "account identifier matches", s.cfg.CounterpartyWeight)
		return
	}

	if txnName == "" || candName == "" {
		return
	}
	similarity := nameSimilarity(txnName, candName)
	if similarity >= s.cfg.CounterpartySimilarityFloor {
		add("counterparty_similar",
			fmt.Sprintf("counterparty similarity %.2f", similarity),
			int(math.Round(float64(s.cfg.CounterpartyWeight)*similarity)))
	}
}

// scorePattern adds a bounded bonus when an active learned pattern links this
// counterparty to the candidate's record type.
func (s *Scorer) scorePattern(txn *model.Transaction, cand *model.Candidate, patterns []model.Pattern, add reasonFunc) {
	fingerprint := model.PatternFingerprint(txn.CounterpartyName, cand.Type)
	for i := range patterns {
		p := &patterns[i]
		if p.Fingerprint != fingerprint || !p.Active {
			continue
		}
		add("pattern_boost",
			fmt.Sprintf("learned pattern strength %.2f", p.Strength),
			p.Boost(s.cfg.PatternBoostCap))
		return
	}
}
