package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/caseline/ledgermatch/internal/common"
	"github.com/caseline/ledgermatch/internal/model"
	"github.com/caseline/ledgermatch/internal/service"
	"github.com/caseline/ledgermatch/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) service.Storage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func engineTransaction(id, tenant, amount string, date time.Time) model.Transaction {
	return model.Transaction{
		ID:               id,
		TenantID:         tenant,
		Amount:           decimal.RequireFromString(amount),
		Currency:         "EUR",
		Date:             date,
		CounterpartyName: "Acme Corp",
	}
}

func engineCandidate(id, tenant, amount string, due time.Time) model.Candidate {
	return model.Candidate{
		ID:               id,
		TenantID:         tenant,
		Type:             model.CandidateInvoice,
		Amount:           decimal.RequireFromString(amount),
		DueDate:          due,
		CounterpartyName: "Acme Corp",
		Status:           model.CandidateOpen,
	}
}

func TestFindMatchesAutoApply(t *testing.T) {
	store := newTestStore(t)
	eng := New(store)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		engineTransaction("txn-1", "tenant-a", "1250.00", date),
	}))
	require.NoError(t, store.SaveCandidates(ctx, []model.Candidate{
		engineCandidate("cand-1", "tenant-a", "1250.00", date),
	}))

	outcome, err := eng.FindMatches(ctx, "tenant-a", "txn-1", FindOptions{AutoApply: true})
	require.NoError(t, err)

	assert.True(t, outcome.Decision.AutoApply)
	assert.True(t, outcome.AutoMatchApplied)
	require.NotNil(t, outcome.AppliedMatch)
	assert.Equal(t, "cand-1", outcome.AppliedMatch.CandidateID)
	assert.Equal(t, model.StatusAutoConfirmed, outcome.AppliedMatch.Status)
	assert.Equal(t, model.MethodAISuggested, outcome.AppliedMatch.Method)
	assert.Equal(t, 1, outcome.CandidatesEvaluated)

	txn, err := store.GetTransactionByID(ctx, "tenant-a", "txn-1")
	require.NoError(t, err)
	assert.True(t, txn.Matched)

	// The auto-match reinforces the counterparty pattern at baseline.
	pattern, err := store.GetPatternByFingerprint(ctx, "tenant-a",
		model.PatternFingerprint("Acme Corp", model.CandidateInvoice))
	require.NoError(t, err)
	assert.Equal(t, 1.0, pattern.Strength)
	assert.Equal(t, 1, pattern.ConfirmationCount)
	assert.True(t, pattern.Active)
}

func TestFindMatchesSuggestOnly(t *testing.T) {
	store := newTestStore(t)
	eng := New(store)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		engineTransaction("txn-1", "tenant-a", "1250.00", date),
	}))
	// Three percent off the transaction amount: strong but not auto-match
	// material.
	require.NoError(t, store.SaveCandidates(ctx, []model.Candidate{
		engineCandidate("cand-1", "tenant-a", "1287.50", date),
	}))

	outcome, err := eng.FindMatches(ctx, "tenant-a", "txn-1", FindOptions{AutoApply: true})
	require.NoError(t, err)

	assert.False(t, outcome.Decision.AutoApply)
	assert.False(t, outcome.AutoMatchApplied)
	assert.Nil(t, outcome.AppliedMatch)
	require.NotNil(t, outcome.Decision.Best)
	assert.GreaterOrEqual(t, outcome.Decision.Best.Score, 60)
	assert.Less(t, outcome.Decision.Best.Score, 85)

	txn, err := store.GetTransactionByID(ctx, "tenant-a", "txn-1")
	require.NoError(t, err)
	assert.False(t, txn.Matched)
}

func TestFindMatchesAmbiguousCandidates(t *testing.T) {
	store := newTestStore(t)
	eng := New(store)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		engineTransaction("txn-1", "tenant-a", "1000.00", date),
	}))
	// Two near-identical invoices, one day apart. Both clear the auto
	// threshold but neither clears it by enough to win.
	require.NoError(t, store.SaveCandidates(ctx, []model.Candidate{
		engineCandidate("cand-1", "tenant-a", "1000.00", date),
		engineCandidate("cand-2", "tenant-a", "1000.00", date.AddDate(0, 0, 1)),
	}))

	outcome, err := eng.FindMatches(ctx, "tenant-a", "txn-1", FindOptions{AutoApply: true})
	require.NoError(t, err)

	assert.False(t, outcome.Decision.AutoApply)
	assert.False(t, outcome.AutoMatchApplied)
	require.Len(t, outcome.Decision.Suggestions, 2)
	assert.GreaterOrEqual(t, outcome.Decision.Suggestions[0].Score, 85)
	assert.Equal(t, "cand-1", outcome.Decision.Suggestions[0].Candidate.ID)

	txn, err := store.GetTransactionByID(ctx, "tenant-a", "txn-1")
	require.NoError(t, err)
	assert.False(t, txn.Matched)
}

func TestFindMatchesWithoutAutoApplyOption(t *testing.T) {
	store := newTestStore(t)
	eng := New(store)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		engineTransaction("txn-1", "tenant-a", "1250.00", date),
	}))
	require.NoError(t, store.SaveCandidates(ctx, []model.Candidate{
		engineCandidate("cand-1", "tenant-a", "1250.00", date),
	}))

	// A dry run: the policy decides auto-match but nothing is written.
	outcome, err := eng.FindMatches(ctx, "tenant-a", "txn-1", FindOptions{})
	require.NoError(t, err)
	assert.True(t, outcome.Decision.AutoApply)
	assert.False(t, outcome.AutoMatchApplied)

	txn, err := store.GetTransactionByID(ctx, "tenant-a", "txn-1")
	require.NoError(t, err)
	assert.False(t, txn.Matched)
}

func TestFindMatchesValidation(t *testing.T) {
	store := newTestStore(t)
	eng := New(store)
	ctx := context.Background()

	_, err := eng.FindMatches(ctx, "", "txn-1", FindOptions{})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = eng.FindMatches(ctx, "tenant-a", "", FindOptions{})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = eng.FindMatches(ctx, "tenant-a", "txn-missing", FindOptions{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFindMatchesAlreadyMatched(t *testing.T) {
	store := newTestStore(t)
	eng := New(store)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		engineTransaction("txn-1", "tenant-a", "1250.00", date),
	}))
	require.NoError(t, store.SaveCandidates(ctx, []model.Candidate{
		engineCandidate("cand-1", "tenant-a", "1250.00", date),
	}))

	first, err := eng.FindMatches(ctx, "tenant-a", "txn-1", FindOptions{AutoApply: true})
	require.NoError(t, err)
	require.True(t, first.AutoMatchApplied)

	// A re-run still ranks candidates but never re-applies.
	second, err := eng.FindMatches(ctx, "tenant-a", "txn-1", FindOptions{AutoApply: true})
	require.NoError(t, err)
	assert.False(t, second.Decision.AutoApply)
	assert.False(t, second.AutoMatchApplied)
	require.NotNil(t, second.Decision.Best)

	// After an explicit unmatch the transaction is eligible again.
	require.NoError(t, eng.Unmatch(ctx, "tenant-a", "txn-1"))
	third, err := eng.FindMatches(ctx, "tenant-a", "txn-1", FindOptions{AutoApply: true})
	require.NoError(t, err)
	assert.True(t, third.AutoMatchApplied)
}

// candidateFailStore makes candidate lookup fail for one transaction to prove
// batch isolation.
type candidateFailStore struct {
	service.Storage
	failFor string
}

func (s *candidateFailStore) CandidatesForTransaction(ctx context.Context, txn *model.Transaction, scope service.CandidateScope) ([]model.Candidate, error) {
	if txn.ID == s.failFor {
		return nil, errors.New("simulated candidate source outage")
	}
	return s.Storage.CandidatesForTransaction(ctx, txn, scope)
}

func TestBatchMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	var txns []model.Transaction
	var cands []model.Candidate
	for i := 1; i <= 3; i++ {
		amount := fmt.Sprintf("%d00.00", i)
		txns = append(txns, engineTransaction(fmt.Sprintf("txn-%d", i), "tenant-a", amount, date))
		cands = append(cands, engineCandidate(fmt.Sprintf("cand-%d", i), "tenant-a", amount, date))
	}
	require.NoError(t, store.SaveTransactions(ctx, txns))
	require.NoError(t, store.SaveCandidates(ctx, cands))

	t.Run("one failure never aborts the batch", func(t *testing.T) {
		eng := New(&candidateFailStore{Storage: store, failFor: "txn-2"})

		report, err := eng.BatchMatch(ctx, "tenant-a", []string{"txn-1", "txn-2", "txn-3"}, FindOptions{AutoApply: true})
		require.NoError(t, err)
		require.Len(t, report.Items, 3)

		// Items preserve input order.
		assert.Equal(t, "txn-1", report.Items[0].TransactionID)
		assert.Equal(t, "txn-2", report.Items[1].TransactionID)
		assert.Equal(t, "txn-3", report.Items[2].TransactionID)

		assert.Empty(t, report.Items[0].Error)
		assert.Contains(t, report.Items[1].Error, "simulated candidate source outage")
		assert.Empty(t, report.Items[2].Error)

		assert.Equal(t, 3, report.Stats.Total)
		assert.Equal(t, 2, report.Stats.AutoMatched)
		assert.Equal(t, 1, report.Stats.Failed)
		assert.InDelta(t, 2.0/3.0, report.Stats.AutoMatchRate, 1e-9)

		// The failed transaction's state is untouched.
		txn, err := store.GetTransactionByID(ctx, "tenant-a", "txn-2")
		require.NoError(t, err)
		assert.False(t, txn.Matched)

		// The successful ones committed.
		txn, err = store.GetTransactionByID(ctx, "tenant-a", "txn-1")
		require.NoError(t, err)
		assert.True(t, txn.Matched)
	})

	t.Run("empty batch is a validation error", func(t *testing.T) {
		eng := New(store)
		_, err := eng.BatchMatch(ctx, "tenant-a", nil, FindOptions{})
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("oversized batch is a validation error", func(t *testing.T) {
		eng := New(store)
		ids := make([]string, DefaultConfig().MaxBatchSize+1)
		for i := range ids {
			ids[i] = fmt.Sprintf("txn-%d", i)
		}
		_, err := eng.BatchMatch(ctx, "tenant-a", ids, FindOptions{})
		assert.ErrorIs(t, err, common.ErrBatchTooLarge)
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("unknown ids fail per item", func(t *testing.T) {
		eng := New(store)
		report, err := eng.BatchMatch(ctx, "tenant-a", []string{"txn-missing"}, FindOptions{})
		require.NoError(t, err)
		require.Len(t, report.Items, 1)
		assert.NotEmpty(t, report.Items[0].Error)
		assert.Equal(t, 1, report.Stats.Failed)
	})
}

func TestEngineReportingFailsClosed(t *testing.T) {
	store := newTestStore(t)
	eng := New(store)
	ctx := context.Background()

	// An empty tenant id makes every storage read fail; reporting still
	// returns zero-valued results instead of errors.
	stats := eng.MatchingStats(ctx, "")
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.TotalTransactions)

	patternStats := eng.PatternStatistics(ctx, "")
	require.NotNil(t, patternStats)
	assert.Equal(t, 0, patternStats.ActivePatterns)

	cleanup := eng.CleanupPatterns(ctx, "", service.CleanupOptions{MaxAgeDays: 1})
	require.NotNil(t, cleanup)
	assert.Equal(t, 0, cleanup.Deactivated)
}
