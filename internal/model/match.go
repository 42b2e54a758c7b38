package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Confidence is the coarse tier derived from a numeric match score.
type Confidence string

// Confidence tiers. The tier is always a function of the score, never
// computed independently.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Confidence band boundaries on the 0-100 score scale.
const (
	HighConfidenceFloor   = 85
	MediumConfidenceFloor = 60
)

// ConfidenceForScore maps a 0-100 score onto its confidence tier.
func ConfidenceForScore(score int) Confidence {
	switch {
	case score >= HighConfidenceFloor:
		return ConfidenceHigh
	case score >= MediumConfidenceFloor:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// MatchMethod records how a match came to exist.
type MatchMethod string

// Match methods.
const (
	MethodAISuggested MatchMethod = "ai_suggested"
	MethodManual      MatchMethod = "manual"
)

// MatchStatus is the lifecycle state of a durable match record.
type MatchStatus string

// Match statuses.
const (
	StatusSuggested     MatchStatus = "suggested"
	StatusConfirmed     MatchStatus = "confirmed"
	StatusAutoConfirmed MatchStatus = "auto_confirmed"
	StatusRejected      MatchStatus = "rejected"
	StatusUnmatched     MatchStatus = "unmatched"
)

// Active reports whether the status represents an applied match that blocks
// further auto-apply consideration for its transaction.
func (s MatchStatus) Active() bool {
	return s == StatusConfirmed || s == StatusAutoConfirmed
}

// Reason is a single human-readable explanation for a score contribution.
type Reason struct {
	Code         string
	Detail       string
	Contribution int
}

// MatchResult is the ephemeral outcome of scoring one (transaction, candidate)
// pair. It is discarded, surfaced as a suggestion, or promoted into a Match.
type MatchResult struct {
	Candidate  Candidate
	Reasons    []Reason
	Score      int
	DayOffset  int
	Confidence Confidence
}

// SortReasons orders reasons by contribution, largest first, with a stable
// code tiebreak so identical inputs always produce identical output.
func (r *MatchResult) SortReasons() {
	sort.SliceStable(r.Reasons, func(i, j int) bool {
		if r.Reasons[i].Contribution != r.Reasons[j].Contribution {
			return r.Reasons[i].Contribution > r.Reasons[j].Contribution
		}
		return r.Reasons[i].Code < r.Reasons[j].Code
	})
}

// ReasonSummary renders the reason codes as a single comma-separated string
// for logs and audit records.
func (r *MatchResult) ReasonSummary() string {
	codes := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		codes[i] = reason.Code
	}
	return strings.Join(codes, ",")
}

// Match is the durable record of a transaction-to-candidate association.
// At most one Match row exists per transaction; lifecycle transitions replace
// the row rather than duplicating it.
type Match struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ID            string
	TenantID      string
	TransactionID string
	CandidateID   string
	CreatedBy     string
	ConfirmedBy   string
	ReasonCodes   string
	CandidateType CandidateType
	Method        MatchMethod
	Status        MatchStatus
	Confidence    Confidence
	Score         int
}

// Validate ensures the match has the fields required for persistence.
func (m *Match) Validate() error {
	if m.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if m.TransactionID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if m.CandidateID == "" {
		return fmt.Errorf("candidate id is required")
	}
	if !ValidType(m.CandidateType) {
		return fmt.Errorf("invalid candidate type: %s", m.CandidateType)
	}
	if m.Score < 0 || m.Score > 100 {
		return fmt.Errorf("score must be between 0 and 100")
	}
	switch m.Method {
	case MethodAISuggested, MethodManual:
	default:
		return fmt.Errorf("invalid match method: %s", m.Method)
	}
	switch m.Status {
	case StatusSuggested, StatusConfirmed, StatusAutoConfirmed, StatusRejected, StatusUnmatched:
	default:
		return fmt.Errorf("invalid match status: %s", m.Status)
	}
	return nil
}
