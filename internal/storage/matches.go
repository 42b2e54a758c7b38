package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseline/ledgermatch/internal/common"
	"github.com/caseline/ledgermatch/internal/model"
	"github.com/caseline/ledgermatch/internal/service"

	"github.com/google/uuid"
)

// ApplyMatch writes a match record and flips the transaction's matched state
// as a single atomic unit. The upsert is keyed by (tenant, transaction), so
// two racing apply runs cannot create two active matches for one transaction:
// the second run observes the first run's active row and fails with
// common.ErrConflict.
func (s *SQLiteStorage) ApplyMatch(ctx context.Context, match *model.Match) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("%w: match", ErrNilParameter)
	}
	if err := match.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if match.ID == "" {
		match.ID = uuid.NewString()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getMatchTx(ctx, tx, match.TenantID, match.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status.Active() {
			return fmt.Errorf("%w: transaction %s", common.ErrConflict, match.TransactionID)
		}

		if err := upsertMatchTx(ctx, tx, match); err != nil {
			return err
		}

		var matchID *string
		if match.Status.Active() {
			matchID = &match.ID
		}
		if err := setTransactionMatchedTx(ctx, tx, match.TenantID, match.TransactionID, matchID); err != nil {
			return err
		}

		return recordMatchHistoryTx(ctx, tx, match, match.CreatedBy)
	})
	if err != nil {
		return err
	}

	slog.Info("applied match",
		"transaction_id", match.TransactionID,
		"candidate_id", match.CandidateID,
		"status", match.Status,
		"score", match.Score)
	return nil
}

// ConfirmMatch transitions a transaction's match to confirmed. Confirming a
// transaction that already carries the same active match is a no-op reported
// via AlreadyConfirmed, so duplicate confirmation events never double-count
// downstream learning.
func (s *SQLiteStorage) ConfirmMatch(ctx context.Context, match *model.Match) (*service.ConfirmResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("%w: match", ErrNilParameter)
	}
	if err := match.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	var result service.ConfirmResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getMatchTx(ctx, tx, match.TenantID, match.TransactionID)
		if err != nil {
			return err
		}

		if existing != nil && existing.Status.Active() {
			if existing.CandidateID == match.CandidateID {
				result.Match = existing
				result.AlreadyConfirmed = true
				return nil
			}
			return fmt.Errorf("%w: transaction %s is matched to candidate %s",
				common.ErrConflict, match.TransactionID, existing.CandidateID)
		}

		if existing != nil {
			match.ID = existing.ID
		} else if match.ID == "" {
			match.ID = uuid.NewString()
		}

		if err := upsertMatchTx(ctx, tx, match); err != nil {
			return err
		}
		if err := setTransactionMatchedTx(ctx, tx, match.TenantID, match.TransactionID, &match.ID); err != nil {
			return err
		}
		if err := recordMatchHistoryTx(ctx, tx, match, match.ConfirmedBy); err != nil {
			return err
		}

		result.Match = match
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyConfirmed {
		slog.Debug("match already confirmed",
			"transaction_id", match.TransactionID,
			"candidate_id", match.CandidateID)
	} else {
		slog.Info("confirmed match",
			"transaction_id", match.TransactionID,
			"candidate_id", match.CandidateID,
			"method", match.Method)
	}
	return &result, nil
}

// RejectMatch records a rejection and clears the transaction's matched state.
func (s *SQLiteStorage) RejectMatch(ctx context.Context, match *model.Match) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("%w: match", ErrNilParameter)
	}
	if err := match.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getMatchTx(ctx, tx, match.TenantID, match.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			match.ID = existing.ID
		} else if match.ID == "" {
			match.ID = uuid.NewString()
		}

		if err := upsertMatchTx(ctx, tx, match); err != nil {
			return err
		}
		if err := setTransactionMatchedTx(ctx, tx, match.TenantID, match.TransactionID, nil); err != nil {
			return err
		}
		return recordMatchHistoryTx(ctx, tx, match, match.ConfirmedBy)
	})
	if err != nil {
		return err
	}

	slog.Info("rejected match",
		"transaction_id", match.TransactionID,
		"candidate_id", match.CandidateID)
	return nil
}

// UnmatchTransaction releases a transaction's match, making it eligible for
// matching runs again.
func (s *SQLiteStorage) UnmatchTransaction(ctx context.Context, tenantID, transactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getMatchTx(ctx, tx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: no match for transaction %s", common.ErrNotFound, transactionID)
		}

		existing.Status = model.StatusUnmatched
		if err := upsertMatchTx(ctx, tx, existing); err != nil {
			return err
		}
		if err := setTransactionMatchedTx(ctx, tx, tenantID, transactionID, nil); err != nil {
			return err
		}
		return recordMatchHistoryTx(ctx, tx, existing, existing.ConfirmedBy)
	})
	if err != nil {
		return err
	}

	slog.Info("unmatched transaction", "transaction_id", transactionID)
	return nil
}

// GetMatchByTransaction returns the match record for a transaction, or
// common.ErrNotFound when none exists.
func (s *SQLiteStorage) GetMatchByTransaction(ctx context.Context, tenantID, transactionID string) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	var match *model.Match
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		match, err = getMatchTx(ctx, tx, tenantID, transactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("%w: no match for transaction %s", common.ErrNotFound, transactionID)
	}
	return match, nil
}

// GetMatchingStats aggregates the tenant's match ledger.
func (s *SQLiteStorage) GetMatchingStats(ctx context.Context, tenantID string) (*service.MatchingStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	stats := &service.MatchingStats{TenantID: tenantID}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(matched), 0)
		FROM transactions WHERE tenant_id = ?
	`, tenantID).Scan(&stats.TotalTransactions, &stats.MatchedCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM matches
		WHERE tenant_id = ?
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan match counts: %w", err)
		}
		switch model.MatchStatus(status) {
		case model.StatusAutoConfirmed:
			stats.AutoConfirmed = count
		case model.StatusConfirmed:
			stats.Confirmed = count
		case model.StatusSuggested:
			stats.Suggested = count
		case model.StatusRejected:
			stats.Rejected = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match counts: %w", err)
	}

	if stats.TotalTransactions > 0 {
		stats.AutoMatchRate = float64(stats.AutoConfirmed) / float64(stats.TotalTransactions)
	}
	return stats, nil
}

func getMatchTx(ctx context.Context, tx *sql.Tx, tenantID, transactionID string) (*model.Match, error) {
	var m model.Match
	var candType, method, status, confidence string
	var reasonCodes, createdBy, confirmedBy sql.NullString
	var createdAt, updatedAt time.Time

	err := tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, transaction_id, candidate_id, candidate_type,
			score, confidence, method, status, reason_codes,
			created_by, confirmed_by, created_at, updated_at
		FROM matches
		WHERE tenant_id = ? AND transaction_id = ?
	`, tenantID, transactionID).Scan(
		&m.ID, &m.TenantID, &m.TransactionID, &m.CandidateID, &candType,
		&m.Score, &confidence, &method, &status, &reasonCodes,
		&createdBy, &confirmedBy, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query match: %w", err)
	}

	m.CandidateType = model.CandidateType(candType)
	m.Method = model.MatchMethod(method)
	m.Status = model.MatchStatus(status)
	m.Confidence = model.Confidence(confidence)
	m.ReasonCodes = reasonCodes.String
	m.CreatedBy = createdBy.String
	m.ConfirmedBy = confirmedBy.String
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	return &m, nil
}

func upsertMatchTx(ctx context.Context, tx *sql.Tx, match *model.Match) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO matches (
			id, tenant_id, transaction_id, candidate_id, candidate_type,
			score, confidence, method, status, reason_codes,
			created_by, confirmed_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, transaction_id) DO UPDATE SET
			candidate_id = excluded.candidate_id,
			candidate_type = excluded.candidate_type,
			score = excluded.score,
			confidence = excluded.confidence,
			method = excluded.method,
			status = excluded.status,
			reason_codes = excluded.reason_codes,
			confirmed_by = excluded.confirmed_by,
			updated_at = CURRENT_TIMESTAMP
	`,
		match.ID, match.TenantID, match.TransactionID, match.CandidateID,
		string(match.CandidateType), match.Score, string(match.Confidence),
		string(match.Method), string(match.Status), match.ReasonCodes,
		match.CreatedBy, match.ConfirmedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert match: %w", err)
	}
	return nil
}

func recordMatchHistoryTx(ctx context.Context, tx *sql.Tx, match *model.Match, actor string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO match_history (tenant_id, transaction_id, candidate_id, status, score, actor)
		VALUES (?, ?, ?, ?, ?, ?)
	`, match.TenantID, match.TransactionID, match.CandidateID, string(match.Status), match.Score, actor)
	if err != nil {
		return fmt.Errorf("failed to record match history: %w", err)
	}
	return nil
}
