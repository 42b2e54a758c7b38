package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Pattern is a learned, tenant-scoped association between a counterparty and
// a candidate type. Strength grows on confirmations and shrinks on
// rejections; a pattern whose strength reaches zero is deactivated but
// retained for audit until cleanup removes it.
type Pattern struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastSeenAt        time.Time
	TenantID          string
	Fingerprint       string
	CounterpartyKey   string
	CandidateType     CandidateType
	ID                int64
	Strength          float64
	ConfirmationCount int
	Active            bool
}

// PatternFingerprint derives the canonical fingerprint for a counterparty and
// candidate type pair. The counterparty portion is normalized so that minor
// formatting differences in bank feeds collapse onto the same pattern.
func PatternFingerprint(counterparty string, candidateType CandidateType) string {
	return NormalizeCounterparty(counterparty) + "|" + string(candidateType)
}

// NormalizeCounterparty lowercases, strips punctuation, and collapses
// whitespace in a counterparty name so equivalent spellings compare equal.
func NormalizeCounterparty(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Boost returns the bounded score bonus this pattern contributes. The curve
// has diminishing returns and never exceeds cap, so a stale pattern alone can
// never force an auto-match.
func (p *Pattern) Boost(cap int) int {
	if !p.Active || p.Strength <= 0 {
		return 0
	}
	return int(float64(cap) * p.Strength / (p.Strength + 1))
}

// Reinforce increases strength with diminishing marginal gain.
func (p *Pattern) Reinforce(gain float64) {
	if gain <= 0 {
		gain = 1.0
	}
	p.Strength += gain / (1 + p.Strength)
	p.ConfirmationCount++
}

// Weaken decreases strength by penalty, deactivating the pattern once
// strength falls to or below zero.
func (p *Pattern) Weaken(penalty float64) {
	if penalty <= 0 {
		penalty = 1.0
	}
	p.Strength -= penalty
	if p.Strength <= 0 {
		p.Strength = 0
		p.Active = false
	}
}

// Validate ensures the pattern has valid data before persistence.
func (p *Pattern) Validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if p.CounterpartyKey == "" {
		return fmt.Errorf("counterparty key is required")
	}
	if !ValidType(p.CandidateType) {
		return fmt.Errorf("invalid candidate type: %s", p.CandidateType)
	}
	if p.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if p.Strength < 0 {
		return fmt.Errorf("strength cannot be negative")
	}
	return nil
}
