package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/caseline/ledgermatch/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidCandidate   = errors.New("invalid candidate")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidTransaction)
	}
	return nil
}

// validateCandidates validates a slice of candidates.
func validateCandidates(candidates []model.Candidate) error {
	if candidates == nil {
		return fmt.Errorf("%w: candidates", ErrNilParameter)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: candidates", ErrEmptySlice)
	}

	for i, cand := range candidates {
		if err := validateCandidate(&cand); err != nil {
			return fmt.Errorf("candidate at index %d: %w", i, err)
		}
	}
	return nil
}

// validateCandidate validates a single candidate.
func validateCandidate(cand *model.Candidate) error {
	if cand == nil {
		return fmt.Errorf("%w: candidate", ErrNilParameter)
	}
	if cand.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidCandidate)
	}
	if cand.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidCandidate)
	}
	if !model.ValidType(cand.Type) {
		return fmt.Errorf("%w: invalid type %q", ErrInvalidCandidate, cand.Type)
	}
	return nil
}
