// Package service defines the contracts between the reconciliation engine
// and its persistence layer.
package service

import (
	"context"
	"time"

	"github.com/caseline/ledgermatch/internal/model"
)

// TransactionFilter defines filtering options for transaction queries. All
// queries are tenant-scoped.
type TransactionFilter struct {
	StartDate     *time.Time
	EndDate       *time.Time
	TenantID      string
	UnmatchedOnly bool
	Limit         int
}

// CandidateScope bounds a candidate lookup. The pre-filter keeps the scorer's
// cost linear: only open candidates inside the amount and date windows are
// returned, capped at Limit.
type CandidateScope struct {
	TenantID        string
	Types           []model.CandidateType
	AmountWindowPct float64
	DateWindowDays  int
	Limit           int
}

// PatternFilter selects which active patterns to return.
type PatternFilter struct {
	Type        model.CandidateType
	MinStrength float64
	Limit       int
}

// CleanupOptions bounds pattern retention for a tenant.
type CleanupOptions struct {
	MaxAgeDays  int
	MaxPatterns int
}

// CleanupResult reports what a pattern cleanup pass did.
type CleanupResult struct {
	Deactivated int
	Removed     int
	Remaining   int
}

// MatchingStats aggregates the match ledger for a tenant.
type MatchingStats struct {
	TenantID          string
	TotalTransactions int
	MatchedCount      int
	AutoConfirmed     int
	Confirmed         int
	Suggested         int
	Rejected          int
	AutoMatchRate     float64
}

// PatternStatistics summarizes a tenant's learned patterns.
type PatternStatistics struct {
	TenantID           string
	ActivePatterns     int
	InactivePatterns   int
	TotalConfirmations int
	AverageStrength    float64
	MaxStrength        float64
}

// ConfirmResult reports the outcome of confirming a match. AlreadyConfirmed
// is true when the transaction already carried the same active match, in
// which case no state changed and learning must not double-count.
type ConfirmResult struct {
	Match            *model.Match
	AlreadyConfirmed bool
}

// Tx represents an open storage transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// Storage defines the contract for the persistence layer. Match-applying
// operations (ApplyMatch, ConfirmMatch, RejectMatch, UnmatchTransaction) are
// each atomic: the match upsert and the transaction flag flip commit or roll
// back together, scoped to a single bank transaction.
type Storage interface {
	// Transaction ledger access.
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, tenantID, id string) (*model.Transaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)

	// Candidate lookup. CandidatesForTransaction is the CandidateSource:
	// side-effect free, tenant-restricted, bounded by scope.
	SaveCandidates(ctx context.Context, candidates []model.Candidate) error
	GetCandidateByID(ctx context.Context, tenantID, id string) (*model.Candidate, error)
	CandidatesForTransaction(ctx context.Context, txn *model.Transaction, scope CandidateScope) ([]model.Candidate, error)

	// Match lifecycle. Upsert semantics keyed by transaction id enforce at
	// most one active match per transaction.
	ApplyMatch(ctx context.Context, match *model.Match) error
	ConfirmMatch(ctx context.Context, match *model.Match) (*ConfirmResult, error)
	RejectMatch(ctx context.Context, match *model.Match) error
	UnmatchTransaction(ctx context.Context, tenantID, transactionID string) error
	GetMatchByTransaction(ctx context.Context, tenantID, transactionID string) (*model.Match, error)
	GetMatchingStats(ctx context.Context, tenantID string) (*MatchingStats, error)

	// Pattern store.
	SavePattern(ctx context.Context, pattern *model.Pattern) error
	GetPatternByFingerprint(ctx context.Context, tenantID, fingerprint string) (*model.Pattern, error)
	GetActivePatterns(ctx context.Context, tenantID string, filter PatternFilter) ([]model.Pattern, error)
	GetPatternsForCounterparty(ctx context.Context, tenantID, counterpartyKey string) ([]model.Pattern, error)
	CleanupPatterns(ctx context.Context, tenantID string, opts CleanupOptions) (*CleanupResult, error)
	GetPatternStatistics(ctx context.Context, tenantID string) (*PatternStatistics, error)

	// Database management.
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}
