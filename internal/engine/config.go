// Package engine implements the transaction reconciliation core: candidate
// scoring, the auto-match decision policy, batch orchestration, and the
// pattern-learning feedback loop.
package engine

import (
	"fmt"
)

// Config holds every tuning knob for scoring and decision making. Thresholds
// and decay curves live here rather than inline so callers can adjust them
// per deployment.
type Config struct {
	// Feature weights. The sum may exceed 100; the final score is capped.
	AmountWeight       int
	DateWeight         int
	ReferenceWeight    int
	CounterpartyWeight int
	PatternBoostCap    int

	// Amount decay: full weight within TolerancePct of the transaction
	// amount, proportional decay out to CutoffPct, zero beyond.
	AmountTolerancePct float64
	AmountCutoffPct    float64

	// Date decay: full weight at zero offset, linear to zero at the
	// maximum day offset.
	MaxDateOffsetDays int

	// Minimum normalized name similarity for partial counterparty credit.
	CounterpartySimilarityFloor float64

	// Decision thresholds on the 0-100 score scale.
	AutoThreshold    int
	SuggestThreshold int
	MinSeparation    int

	// Batch bounds.
	MaxBatchSize int
	BatchWorkers int

	// Candidate pre-filter bounds, forwarded to the candidate source.
	CandidateLimit  int
	AmountWindowPct float64
	DateWindowDays  int

	// Learning parameters.
	BaselineStrength float64
	ReinforceGain    float64
	RejectPenalty    float64
}

// DefaultConfig returns the default tuning. A perfect amount, date, and
// counterparty agreement scores 90, clearing the auto threshold without any
// reference overlap or learned boost.
func DefaultConfig() Config {
	return Config{
		AmountWeight:       45,
		DateWeight:         25,
		ReferenceWeight:    10,
		CounterpartyWeight: 20,
		PatternBoostCap:    10,

		AmountTolerancePct: 1.0,
		AmountCutoffPct:    10.0,

		MaxDateOffsetDays: 7,

		CounterpartySimilarityFloor: 0.8,

		AutoThreshold:    85,
		SuggestThreshold: 60,
		MinSeparation:    5,

		MaxBatchSize: 100,
		BatchWorkers: 4,

		CandidateLimit:  50,
		AmountWindowPct: 25.0,
		DateWindowDays:  90,

		BaselineStrength: 1.0,
		ReinforceGain:    1.0,
		RejectPenalty:    1.0,
	}
}

// Validate ensures the configuration is internally consistent.
func (c Config) Validate() error {
	if c.AmountWeight < 0 || c.DateWeight < 0 || c.ReferenceWeight < 0 ||
		c.CounterpartyWeight < 0 || c.PatternBoostCap < 0 {
		return fmt.Errorf("feature weights cannot be negative")
	}
	if c.AmountTolerancePct < 0 || c.AmountCutoffPct <= c.AmountTolerancePct {
		return fmt.Errorf("amount cutoff must exceed tolerance")
	}
	if c.MaxDateOffsetDays <= 0 {
		return fmt.Errorf("max date offset must be positive")
	}
	if c.CounterpartySimilarityFloor < 0 || c.CounterpartySimilarityFloor > 1 {
		return fmt.Errorf("counterparty similarity floor must be between 0 and 1")
	}
	if c.AutoThreshold < c.SuggestThreshold {
		return fmt.Errorf("auto threshold cannot be below suggest threshold")
	}
	if c.AutoThreshold > 100 || c.SuggestThreshold < 0 {
		return fmt.Errorf("thresholds must be between 0 and 100")
	}
	if c.MinSeparation < 0 {
		return fmt.Errorf("minimum separation cannot be negative")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("batch workers must be positive")
	}
	return nil
}
