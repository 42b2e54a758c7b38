// Package model defines the core domain types for transaction reconciliation.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents an incoming bank transaction awaiting reconciliation.
// Transactions are created by external feed importers; the engine only reads
// them, except for the Matched/MatchID fields which the match-apply step owns.
type Transaction struct {
	Date                time.Time
	ID                  string
	TenantID            string
	Currency            string
	Description         string // Raw bank description line
	Reference           string // Payment reference as supplied by the bank
	CounterpartyName    string
	CounterpartyAccount string
	MatchID             *string
	Amount              decimal.Decimal // Signed; negative for outgoing funds
	Matched             bool
}

// DayOffset returns the absolute distance in whole days between the
// transaction date and t, ignoring the time-of-day component.
func (t *Transaction) DayOffset(other time.Time) int {
	a := time.Date(t.Date.Year(), t.Date.Month(), t.Date.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(other.Year(), other.Month(), other.Day(), 0, 0, 0, 0, time.UTC)
	days := int(a.Sub(b).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
