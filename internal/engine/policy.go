package engine

import (
	"sort"

	"github.com/caseline/ledgermatch/internal/model"
)

// Decision is the classified outcome for one transaction's ranked results.
type Decision struct {
	Best        *model.MatchResult
	Suggestions []model.MatchResult
	AutoApply   bool
}

// DecisionPolicy converts a ranked candidate list into auto-match, suggest,
// or unmatched.
type DecisionPolicy struct {
	cfg Config
}

// NewDecisionPolicy creates a policy with the given thresholds.
func NewDecisionPolicy(cfg Config) *DecisionPolicy {
	return &DecisionPolicy{cfg: cfg}
}

// Decide ranks the results and classifies the outcome. A transaction already
// carrying an active match is never auto-applied again; it must be unmatched
// and explicitly re-run first.
func (p *DecisionPolicy) Decide(txn *model.Transaction, results []model.MatchResult) Decision {
	ranked := make([]model.MatchResult, len(results))
	copy(ranked, results)
	sortResults(ranked)

	var decision Decision
	for i := range ranked {
		if ranked[i].Score >= p.cfg.SuggestThreshold {
			decision.Suggestions = append(decision.Suggestions, ranked[i])
		}
	}

	if len(ranked) == 0 || ranked[0].Score < p.cfg.SuggestThreshold {
		return decision
	}
	decision.Best = &ranked[0]

	if txn.Matched {
		return decision
	}
	if ranked[0].Score < p.cfg.AutoThreshold {
		return decision
	}

	// Near-indistinguishable runners-up block auto-apply: the margin over
	// the second-best candidate must clear the minimum separation.
	if len(ranked) > 1 && ranked[0].Score-ranked[1].Score < p.cfg.MinSeparation {
		return decision
	}

	decision.AutoApply = true
	return decision
}

// sortResults orders by score descending; ties break by narrower date
// offset, then candidate id, so ranking is deterministic.
func sortResults(results []model.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DayOffset != results[j].DayOffset {
			return results[i].DayOffset < results[j].DayOffset
		}
		return results[i].Candidate.ID < results[j].Candidate.ID
	})
}
