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
)

// SavePattern creates or updates a learned pattern. The upsert is keyed by
// (tenant, fingerprint) so concurrent tenants' learning never interferes and
// repeat confirmations of a fingerprint strengthen one row.
func (s *SQLiteStorage) SavePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if pattern == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	lastSeen := pattern.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO patterns (
				tenant_id, fingerprint, counterparty_key, candidate_type,
				strength, confirmation_count, active, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, fingerprint) DO UPDATE SET
				strength = excluded.strength,
				confirmation_count = excluded.confirmation_count,
				active = excluded.active,
				last_seen_at = excluded.last_seen_at,
				updated_at = CURRENT_TIMESTAMP
		`,
			pattern.TenantID, pattern.Fingerprint, pattern.CounterpartyKey,
			string(pattern.CandidateType), pattern.Strength,
			pattern.ConfirmationCount, pattern.Active, lastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert pattern: %w", err)
		}

		return tx.QueryRowContext(ctx, `
			SELECT id FROM patterns WHERE tenant_id = ? AND fingerprint = ?
		`, pattern.TenantID, pattern.Fingerprint).Scan(&pattern.ID)
	})
	if err != nil {
		return err
	}

	slog.Debug("saved pattern",
		"tenant_id", pattern.TenantID,
		"fingerprint", pattern.Fingerprint,
		"strength", pattern.Strength,
		"active", pattern.Active)
	return nil
}

// GetPatternByFingerprint retrieves one pattern, active or not.
func (s *SQLiteStorage) GetPatternByFingerprint(ctx context.Context, tenantID, fingerprint string) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, patternSelect+`
		WHERE tenant_id = ? AND fingerprint = ?
	`, tenantID, fingerprint)

	pattern, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pattern %s", common.ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern: %w", err)
	}
	return pattern, nil
}

// GetActivePatterns returns a tenant's active patterns, strongest first.
func (s *SQLiteStorage) GetActivePatterns(ctx context.Context, tenantID string, filter service.PatternFilter) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	query := strings.Builder{}
	query.WriteString(patternSelect)
	query.WriteString(" WHERE tenant_id = ? AND active = 1")
	args := []any{tenantID}

	if filter.Type != "" {
		query.WriteString(" AND candidate_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.MinStrength > 0 {
		query.WriteString(" AND strength >= ?")
		args = append(args, filter.MinStrength)
	}
	query.WriteString(" ORDER BY strength DESC, fingerprint")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	return s.queryPatterns(ctx, query.String(), args...)
}

// GetPatternsForCounterparty returns the active patterns keyed by the given
// normalized counterparty name. Used by the scorer.
func (s *SQLiteStorage) GetPatternsForCounterparty(ctx context.Context, tenantID, counterpartyKey string) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(counterpartyKey) == "" {
		return nil, nil
	}

	return s.queryPatterns(ctx, patternSelect+`
		WHERE tenant_id = ? AND counterparty_key = ? AND active = 1
		ORDER BY strength DESC
	`, tenantID, counterpartyKey)
}

// CleanupPatterns enforces the tenant's retention bounds: patterns with no
// reinforcement within MaxAgeDays are deactivated, long-inactive rows are
// removed, and the active set is trimmed to MaxPatterns keeping the
// strongest. Runs outside any request path and never blocks scoring reads.
func (s *SQLiteStorage) CleanupPatterns(ctx context.Context, tenantID string, opts service.CleanupOptions) (*service.CleanupResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	result := &service.CleanupResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if opts.MaxAgeDays > 0 {
			cutoff := time.Now().UTC().AddDate(0, 0, -opts.MaxAgeDays)

			res, err := tx.ExecContext(ctx, `
				UPDATE patterns SET active = 0, updated_at = CURRENT_TIMESTAMP
				WHERE tenant_id = ? AND active = 1 AND last_seen_at < ?
			`, tenantID, cutoff)
			if err != nil {
				return fmt.Errorf("failed to deactivate stale patterns: %w", err)
			}
			stale, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			result.Deactivated += int(stale)

			res, err = tx.ExecContext(ctx, `
				DELETE FROM patterns
				WHERE tenant_id = ? AND active = 0 AND last_seen_at < ?
			`, tenantID, cutoff)
			if err != nil {
				return fmt.Errorf("failed to remove inactive patterns: %w", err)
			}
			removed, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			result.Removed = int(removed)
		}

		if opts.MaxPatterns > 0 {
			// Weakest first beyond the ceiling; strongest patterns survive.
			res, err := tx.ExecContext(ctx, `
				UPDATE patterns SET active = 0, updated_at = CURRENT_TIMESTAMP
				WHERE tenant_id = ? AND active = 1 AND id NOT IN (
					SELECT id FROM patterns
					WHERE tenant_id = ? AND active = 1
					ORDER BY strength DESC, last_seen_at DESC
					LIMIT ?
				)
			`, tenantID, tenantID, opts.MaxPatterns)
			if err != nil {
				return fmt.Errorf("failed to trim patterns: %w", err)
			}
			trimmed, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			result.Deactivated += int(trimmed)
		}

		return tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM patterns WHERE tenant_id = ? AND active = 1
		`, tenantID).Scan(&result.Remaining)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("pattern cleanup complete",
		"tenant_id", tenantID,
		"deactivated", result.Deactivated,
		"removed", result.Removed,
		"remaining", result.Remaining)
	return result, nil
}

// GetPatternStatistics summarizes the tenant's pattern store.
func (s *SQLiteStorage) GetPatternStatistics(ctx context.Context, tenantID string) (*service.PatternStatistics, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	stats := &service.PatternStatistics{TenantID: tenantID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(active), 0),
			COALESCE(SUM(1 - active), 0),
			COALESCE(SUM(confirmation_count), 0),
			COALESCE(AVG(CASE WHEN active = 1 THEN strength END), 0),
			COALESCE(MAX(CASE WHEN active = 1 THEN strength END), 0)
		FROM patterns WHERE tenant_id = ?
	`, tenantID).Scan(
		&stats.ActivePatterns,
		&stats.InactivePatterns,
		&stats.TotalConfirmations,
		&stats.AverageStrength,
		&stats.MaxStrength,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern statistics: %w", err)
	}
	return stats, nil
}

const patternSelect = `
	SELECT id, tenant_id, fingerprint, counterparty_key, candidate_type,
		strength, confirmation_count, active, last_seen_at, created_at, updated_at
	FROM patterns`

func (s *SQLiteStorage) queryPatterns(ctx context.Context, query string, args ...any) ([]model.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var patterns []model.Pattern
	for rows.Next() {
		pattern, scanErr := scanPattern(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", scanErr)
		}
		patterns = append(patterns, *pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}
	return patterns, nil
}

func scanPattern(row rowScanner) (*model.Pattern, error) {
	var p model.Pattern
	var candType string
	var lastSeen sql.NullTime

	err := row.Scan(
		&p.ID, &p.TenantID, &p.Fingerprint, &p.CounterpartyKey, &candType,
		&p.Strength, &p.ConfirmationCount, &p.Active, &lastSeen,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.CandidateType = model.CandidateType(candType)
	if lastSeen.Valid {
		p.LastSeenAt = lastSeen.Time
	}
	return &p, nil
}
