package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseline/ledgermatch/internal/common"
	"github.com/caseline/ledgermatch/internal/model"
	"github.com/caseline/ledgermatch/internal/service"

	"golang.org/x/sync/errgroup"
)

// Engine orchestrates candidate lookup, scoring, and the decision policy for
// single transactions and bounded batches.
type Engine struct {
	store    service.Storage
	scorer   *Scorer
	policy   *DecisionPolicy
	feedback *Feedback
	cfg      Config
}

// New creates an engine with the default configuration.
func New(store service.Storage) *Engine {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates an engine with custom tuning.
func NewWithConfig(store service.Storage, cfg Config) *Engine {
	return &Engine{
		store:    store,
		scorer:   NewScorer(cfg),
		policy:   NewDecisionPolicy(cfg),
		feedback: NewFeedback(store, cfg),
		cfg:      cfg,
	}
}

// Feedback exposes the engine's learning-feedback component.
func (e *Engine) Feedback() *Feedback {
	return e.feedback
}

// FindOptions controls a single match evaluation.
type FindOptions struct {
	AppliedBy string
	Types     []model.CandidateType
	AutoApply bool
}

// MatchOutcome is the full result of one transaction's evaluation.
type MatchOutcome struct {
	Transaction         *model.Transaction
	AppliedMatch        *model.Match
	Results             []model.MatchResult
	Decision            Decision
	CandidatesEvaluated int
	AutoMatchApplied    bool
}

// FindMatches runs the candidate-source, scorer, decision-policy pipeline
// for one transaction. When opts.AutoApply is set and the policy decides to
// auto-match, the match is applied atomically before returning.
func (e *Engine) FindMatches(ctx context.Context, tenantID, transactionID string, opts FindOptions) (*MatchOutcome, error) {
	if tenantID == "" {
		return nil, common.NewValidationError("tenantID", "must not be empty")
	}
	if transactionID == "" {
		return nil, common.NewValidationError("transactionID", "must not be empty")
	}

	txn, err := e.store.GetTransactionByID(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.CandidatesForTransaction(ctx, txn, service.CandidateScope{
		TenantID:        tenantID,
		Types:           opts.Types,
		AmountWindowPct: e.cfg.AmountWindowPct,
		DateWindowDays:  e.cfg.DateWindowDays,
		Limit:           e.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate lookup for transaction %s: %w", transactionID, err)
	}

	patterns, err := e.store.GetPatternsForCounterparty(ctx, tenantID,
		model.NormalizeCounterparty(txn.CounterpartyName))
	if err != nil {
		// A pattern lookup failure degrades scoring, it does not block it.
		slog.Warn("pattern lookup failed, scoring without boosts",
			"transaction_id", transactionID, "error", err)
		patterns = nil
	}

	results := make([]model.MatchResult, 0, len(candidates))
	for i := range candidates {
		results = append(results, e.scorer.Score(txn, &candidates[i], patterns))
	}

	outcome := &MatchOutcome{
		Transaction:         txn,
		Results:             results,
		Decision:            e.policy.Decide(txn, results),
		CandidatesEvaluated: len(results),
	}

	if outcome.Decision.AutoApply && opts.AutoApply {
		applied, err := e.applyAutoMatch(ctx, txn, outcome.Decision.Best, opts.AppliedBy)
		if err != nil {
			return nil, err
		}
		outcome.AppliedMatch = applied
		outcome.AutoMatchApplied = true
	}

	return outcome, nil
}

// applyAutoMatch promotes the winning result into an auto-confirmed Match.
// The storage write is atomic per transaction; the learning update that
// follows is best-effort.
func (e *Engine) applyAutoMatch(ctx context.Context, txn *model.Transaction, best *model.MatchResult, appliedBy string) (*model.Match, error) {
	if appliedBy == "" {
		appliedBy = "engine"
	}
	match := &model.Match{
		TenantID:      txn.TenantID,
		TransactionID: txn.ID,
		CandidateID:   best.Candidate.ID,
		CandidateType: best.Candidate.Type,
		Score:         best.Score,
		Confidence:    best.Confidence,
		Method:        model.MethodAISuggested,
		Status:        model.StatusAutoConfirmed,
		ReasonCodes:   best.ReasonSummary(),
		CreatedBy:     appliedBy,
	}

	err := common.WithRetry(ctx, func() error {
		return e.store.ApplyMatch(ctx, match)
	}, common.RetryOptions{})
	if err != nil {
		return nil, err
	}

	e.feedback.reinforce(ctx, txn, &best.Candidate)
	return match, nil
}

// BatchItem holds one transaction's outcome within a batch. A failed
// evaluation carries its error here instead of aborting the batch.
type BatchItem struct {
	Outcome       *MatchOutcome
	TransactionID string
	Error         string
}

// BatchStats aggregates a batch run.
type BatchStats struct {
	Total               int
	AutoMatched         int
	Suggested           int
	Unmatched           int
	Failed              int
	CandidatesEvaluated int
	AutoMatchRate       float64
}

// BatchReport is the result of a batch evaluation. Items preserve the input
// order of the transaction ids.
type BatchReport struct {
	Items          []BatchItem
	Stats          BatchStats
	ProcessingTime time.Duration
}

// BatchMatch evaluates a bounded set of transactions independently. Each
// transaction's evaluation commits or fails on its own: one failure becomes
// an item-level error entry, never an aborted batch.
func (e *Engine) BatchMatch(ctx context.Context, tenantID string, transactionIDs []string, opts FindOptions) (*BatchReport, error) {
	if tenantID == "" {
		return nil, common.NewValidationError("tenantID", "must not be empty")
	}
	if len(transactionIDs) == 0 {
		return nil, common.NewValidationError("transactionIDs", "must not be empty")
	}
	if len(transactionIDs) > e.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d, maximum %d",
			common.ErrBatchTooLarge, len(transactionIDs), e.cfg.MaxBatchSize)
	}

	start := time.Now()
	items := make([]BatchItem, len(transactionIDs))

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchWorkers)

	for i, id := range transactionIDs {
		i, id := i, id
		items[i].TransactionID = id
		g.Go(func() error {
			outcome, err := e.FindMatches(ctx, tenantID, id, opts)
			if err != nil {
				items[i].Error = err.Error()
				slog.Warn("batch item failed",
					"transaction_id", id, "error", err)
				return nil
			}
			items[i].Outcome = outcome
			return nil
		})
	}
	// Workers never return errors; failures are recorded per item.
	_ = g.Wait()

	report := &BatchReport{
		Items:          items,
		ProcessingTime: time.Since(start),
	}
	report.Stats = summarizeBatch(items)

	slog.Info("batch match complete",
		"tenant_id", tenantID,
		"total", report.Stats.Total,
		"auto_matched", report.Stats.AutoMatched,
		"suggested", report.Stats.Suggested,
		"unmatched", report.Stats.Unmatched,
		"failed", report.Stats.Failed,
		"duration", report.ProcessingTime)
	return report, nil
}

// summarizeBatch computes aggregate statistics after all workers have joined.
func summarizeBatch(items []BatchItem) BatchStats {
	stats := BatchStats{Total: len(items)}
	for i := range items {
		item := &items[i]
		switch {
		case item.Error != "":
			stats.Failed++
			continue
		case item.Outcome.Decision.AutoApply:
			stats.AutoMatched++
		case len(item.Outcome.Decision.Suggestions) > 0:
			stats.Suggested++
		default:
			stats.Unmatched++
		}
		stats.CandidatesEvaluated += item.Outcome.CandidatesEvaluated
	}
	if stats.Total > 0 {
		stats.AutoMatchRate = float64(stats.AutoMatched) / float64(stats.Total)
	}
	return stats
}

// Unmatch releases a transaction's active match so it can be re-evaluated.
func (e *Engine) Unmatch(ctx context.Context, tenantID, transactionID string) error {
	if tenantID == "" {
		return common.NewValidationError("tenantID", "must not be empty")
	}
	if transactionID == "" {
		return common.NewValidationError("transactionID", "must not be empty")
	}
	return e.store.UnmatchTransaction(ctx, tenantID, transactionID)
}

// MatchingStats reports the tenant's match ledger. Reporting fails closed:
// unexpected storage errors produce an empty report, not a failure.
func (e *Engine) MatchingStats(ctx context.Context, tenantID string) *service.MatchingStats {
	stats, err := e.store.GetMatchingStats(ctx, tenantID)
	if err != nil {
		slog.Error("matching stats unavailable", "tenant_id", tenantID, "error", err)
		return &service.MatchingStats{TenantID: tenantID}
	}
	return stats
}

// PatternStatistics reports the tenant's pattern store. Fails closed like
// MatchingStats.
func (e *Engine) PatternStatistics(ctx context.Context, tenantID string) *service.PatternStatistics {
	stats, err := e.store.GetPatternStatistics(ctx, tenantID)
	if err != nil {
		slog.Error("pattern statistics unavailable", "tenant_id", tenantID, "error", err)
		return &service.PatternStatistics{TenantID: tenantID}
	}
	return stats
}

// CleanupPatterns enforces pattern retention bounds for a tenant. It fails
// closed: an error yields an empty result and a log line.
func (e *Engine) CleanupPatterns(ctx context.Context, tenantID string, opts service.CleanupOptions) *service.CleanupResult {
	result, err := e.store.CleanupPatterns(ctx, tenantID, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("pattern cleanup failed", "tenant_id", tenantID, "error", err)
		return &service.CleanupResult{}
	}
	if result == nil {
		return &service.CleanupResult{}
	}
	return result
}
