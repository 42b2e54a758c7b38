package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caseline/ledgermatch/internal/common"
	"github.com/caseline/ledgermatch/internal/model"
	"github.com/caseline/ledgermatch/internal/service"

	"github.com/shopspring/decimal"
)

// Default candidate scope bounds, applied when the caller leaves them unset.
const (
	DefaultCandidateLimit  = 50
	DefaultAmountWindowPct = 25.0
	DefaultDateWindowDays  = 90
)

// SaveCandidates saves multiple candidates, replacing existing rows so that
// upstream modules can refresh record state.
func (s *SQLiteStorage) SaveCandidates(ctx context.Context, candidates []model.Candidate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCandidates(candidates); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candidates (
				id, tenant_id, type, amount, due_date,
				counterparty_name, reference, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				type = excluded.type,
				amount = excluded.amount,
				due_date = excluded.due_date,
				counterparty_name = excluded.counterparty_name,
				reference = excluded.reference,
				status = excluded.status
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, cand := range candidates {
			status := cand.Status
			if status == "" {
				status = model.CandidateOpen
			}
			if _, err := stmt.ExecContext(ctx,
				cand.ID,
				cand.TenantID,
				string(cand.Type),
				cand.Amount.String(),
				cand.DueDate,
				cand.CounterpartyName,
				cand.Reference,
				string(status),
			); err != nil {
				return fmt.Errorf("failed to insert candidate %s: %w", cand.ID, err)
			}
		}
		return nil
	})
}

// GetCandidateByID retrieves a candidate within the tenant's scope.
func (s *SQLiteStorage) GetCandidateByID(ctx context.Context, tenantID, id string) (*model.Candidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, type, amount, due_date, counterparty_name, reference, status
		FROM candidates
		WHERE tenant_id = ? AND id = ?
	`, tenantID, id)

	cand, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: candidate %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate: %w", err)
	}
	return cand, nil
}

// CandidatesForTransaction returns the bounded set of plausible candidates
// for a transaction. The amount and date windows are a cheap pre-filter that
// keeps the scorer's cost linear; exact comparison happens in the scorer.
// Returns an empty slice, not an error, when nothing plausible exists.
func (s *SQLiteStorage) CandidatesForTransaction(ctx context.Context, txn *model.Transaction, scope service.CandidateScope) ([]model.Candidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if err := validateString(scope.TenantID, "scope.TenantID"); err != nil {
		return nil, err
	}
	if scope.TenantID != txn.TenantID {
		return nil, fmt.Errorf("%w: transaction %s", common.ErrNotFound, txn.ID)
	}

	limit := scope.Limit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	windowPct := scope.AmountWindowPct
	if windowPct <= 0 {
		windowPct = DefaultAmountWindowPct
	}
	windowDays := scope.DateWindowDays
	if windowDays <= 0 {
		windowDays = DefaultDateWindowDays
	}

	absAmount := txn.Amount.Abs()
	window := absAmount.Mul(decimal.NewFromFloat(windowPct / 100.0))
	lowAmount, _ := absAmount.Sub(window).Float64()
	highAmount, _ := absAmount.Add(window).Float64()
	lowDate := txn.Date.AddDate(0, 0, -windowDays)
	highDate := txn.Date.AddDate(0, 0, windowDays)

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, tenant_id, type, amount, due_date, counterparty_name, reference, status
		FROM candidates
		WHERE tenant_id = ?
			AND status = 'open'
			AND CAST(amount AS REAL) BETWEEN ? AND ?
			AND due_date BETWEEN ? AND ?`)
	args := []any{scope.TenantID, lowAmount, highAmount, lowDate, highDate}

	if len(scope.Types) > 0 {
		placeholders := make([]string, len(scope.Types))
		for i, t := range scope.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query.WriteString(" AND type IN (" + strings.Join(placeholders, ", ") + ")")
	}

	// Closest due dates first so the cap keeps the most plausible rows.
	query.WriteString(" ORDER BY ABS(JULIANDAY(due_date) - JULIANDAY(?)), id LIMIT ?")
	args = append(args, txn.Date, limit)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	candidates := make([]model.Candidate, 0, limit)
	for rows.Next() {
		cand, scanErr := scanCandidate(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", scanErr)
		}
		candidates = append(candidates, *cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	slog.Debug("candidate lookup",
		"transaction_id", txn.ID,
		"tenant_id", scope.TenantID,
		"count", len(candidates))
	return candidates, nil
}

func scanCandidate(row rowScanner) (*model.Candidate, error) {
	var cand model.Candidate
	var amount, candType, status string
	var counterpartyName, reference sql.NullString
	var dueDate time.Time

	err := row.Scan(
		&cand.ID, &cand.TenantID, &candType, &amount, &dueDate,
		&counterpartyName, &reference, &status,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	cand.Amount = parsed
	cand.Type = model.CandidateType(candType)
	cand.Status = model.CandidateStatus(status)
	cand.DueDate = dueDate
	cand.CounterpartyName = counterpartyName.String
	cand.Reference = reference.String

	return &cand, nil
}
