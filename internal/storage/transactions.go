package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caseline/ledgermatch/internal/common"
	"github.com/caseline/ledgermatch/internal/model"
	"github.com/caseline/ledgermatch/internal/service"

	"github.com/shopspring/decimal"
)

// SaveTransactions saves multiple transactions to the database. Existing
// rows are left untouched so re-importing a feed is idempotent.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				id, tenant_id, amount, currency, date, description,
				reference, counterparty_name, counterparty_account, matched, match_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txn := range transactions {
			if _, err := stmt.ExecContext(ctx,
				txn.ID,
				txn.TenantID,
				txn.Amount.String(),
				txn.Currency,
				txn.Date,
				txn.Description,
				txn.Reference,
				txn.CounterpartyName,
				txn.CounterpartyAccount,
				txn.Matched,
				txn.MatchID,
			); err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
			}
		}
		return nil
	})
}

// GetTransactionByID retrieves a transaction within the tenant's scope.
// Returns common.ErrNotFound when no such transaction exists for the tenant.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, tenantID, id string) (*model.Transaction, error) {
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
		SELECT id, tenant_id, amount, currency, date, description,
			reference, counterparty_name, counterparty_account, matched, match_id
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`, tenantID, id)

	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return txn, nil
}

// GetTransactions returns transactions matching the filter, newest first.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.TenantID, "filter.TenantID"); err != nil {
		return nil, err
	}

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, tenant_id, amount, currency, date, description,
			reference, counterparty_name, counterparty_account, matched, match_id
		FROM transactions
		WHERE tenant_id = ?`)
	args := []any{filter.TenantID}

	if filter.StartDate != nil {
		query.WriteString(" AND date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		query.WriteString(" AND date <= ?")
		args = append(args, *filter.EndDate)
	}
	if filter.UnmatchedOnly {
		query.WriteString(" AND matched = 0")
	}
	query.WriteString(" ORDER BY date DESC, id")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var transactions []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// setTransactionMatchedTx flips the matched flag and match pointer inside an
// open transaction. This is the only write path for the matched state.
func setTransactionMatchedTx(ctx context.Context, tx *sql.Tx, tenantID, transactionID string, matchID *string) error {
	matched := matchID != nil
	result, err := tx.ExecContext(ctx, `
		UPDATE transactions SET matched = ?, match_id = ?
		WHERE tenant_id = ? AND id = ?
	`, matched, matchID, tenantID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to update transaction matched state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: transaction %s", common.ErrNotFound, transactionID)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var amount string
	var description, reference, counterpartyName, counterpartyAccount sql.NullString
	var matchID sql.NullString

	err := row.Scan(
		&txn.ID, &txn.TenantID, &amount, &txn.Currency, &txn.Date,
		&description, &reference, &counterpartyName, &counterpartyAccount,
		&txn.Matched, &matchID,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	txn.Amount = parsed
	txn.Description = description.String
	txn.Reference = reference.String
	txn.CounterpartyName = counterpartyName.String
	txn.CounterpartyAccount = counterpartyAccount.String
	if matchID.Valid {
		txn.MatchID = &matchID.String
	}

	return &txn, nil
}
