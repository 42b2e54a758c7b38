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
)

// Feedback consumes confirmation and rejection events and maintains the
// pattern store. The match-state write is atomic and authoritative; the
// pattern update that follows is deliberately separate and allowed to fail
// without failing the user's action, since learning-data loss is acceptable
// but match-state loss is not.
type Feedback struct {
	store service.Storage
	cfg   Config
}

// NewFeedback creates the learning-feedback component.
func NewFeedback(store service.Storage, cfg Config) *Feedback {
	return &Feedback{store: store, cfg: cfg}
}

// ConfirmationEvent describes a user confirming a match.
type ConfirmationEvent struct {
	TenantID      string
	TransactionID string
	CandidateID   string
	ConfirmedBy   string
	ReasonCodes   string
	Method        model.MatchMethod
	Score         int
}

// RejectionEvent describes a user rejecting a suggested match.
type RejectionEvent struct {
	TenantID      string
	TransactionID string
	CandidateID   string
	RejectedBy    string
	Reason        string
}

// RecordConfirmation confirms a transaction-candidate match and reinforces
// the counterparty pattern. Duplicate confirmations of the same pair are
// idempotent: the pattern is strengthened exactly once.
func (f *Feedback) RecordConfirmation(ctx context.Context, event ConfirmationEvent) (*model.Match, error) {
	if err := validateEvent(event.TenantID, event.TransactionID, event.CandidateID); err != nil {
		return nil, err
	}

	txn, err := f.store.GetTransactionByID(ctx, event.TenantID, event.TransactionID)
	if err != nil {
		return nil, err
	}
	cand, err := f.store.GetCandidateByID(ctx, event.TenantID, event.CandidateID)
	if err != nil {
		return nil, err
	}

	method := event.Method
	if method == "" {
		method = model.MethodManual
	}

	match := &model.Match{
		TenantID:      event.TenantID,
		TransactionID: event.TransactionID,
		CandidateID:   cand.ID,
		CandidateType: cand.Type,
		Score:         event.Score,
		Confidence:    model.ConfidenceForScore(event.Score),
		Method:        method,
		Status:        model.StatusConfirmed,
		ReasonCodes:   event.ReasonCodes,
		ConfirmedBy:   event.ConfirmedBy,
	}

	result, err := f.store.ConfirmMatch(ctx, match)
	if err != nil {
		return nil, err
	}
	if result.AlreadyConfirmed {
		return result.Match, nil
	}

	f.reinforce(ctx, txn, cand)
	return result.Match, nil
}

// RecordRejection marks a suggested match as rejected and weakens the
// counterparty pattern.
func (f *Feedback) RecordRejection(ctx context.Context, event RejectionEvent) error {
	if err := validateEvent(event.TenantID, event.TransactionID, event.CandidateID); err != nil {
		return err
	}

	txn, err := f.store.GetTransactionByID(ctx, event.TenantID, event.TransactionID)
	if err != nil {
		return err
	}
	cand, err := f.store.GetCandidateByID(ctx, event.TenantID, event.CandidateID)
	if err != nil {
		return err
	}

	match := &model.Match{
		TenantID:      event.TenantID,
		TransactionID: event.TransactionID,
		CandidateID:   cand.ID,
		CandidateType: cand.Type,
		Method:        model.MethodManual,
		Status:        model.StatusRejected,
		ConfirmedBy:   event.RejectedBy,
	}
	if existing, lookupErr := f.store.GetMatchByTransaction(ctx, event.TenantID, event.TransactionID); lookupErr == nil {
		match.Score = existing.Score
		match.Confidence = existing.Confidence
		match.Method = existing.Method
	} else {
		match.Confidence = model.ConfidenceForScore(0)
	}

	if err := f.store.RejectMatch(ctx, match); err != nil {
		return err
	}

	slog.Info("rejection recorded",
		"transaction_id", event.TransactionID,
		"candidate_id", event.CandidateID,
		"reason", event.Reason)

	f.weaken(ctx, txn, cand)
	return nil
}

// reinforce creates or strengthens the pattern for the transaction's
// counterparty and the candidate's type. Best-effort: failures are logged.
func (f *Feedback) reinforce(ctx context.Context, txn *model.Transaction, cand *model.Candidate) {
	counterpartyKey := model.NormalizeCounterparty(txn.CounterpartyName)
	if counterpartyKey == "" {
		return
	}
	fingerprint := model.PatternFingerprint(txn.CounterpartyName, cand.Type)

	pattern, err := f.store.GetPatternByFingerprint(ctx, txn.TenantID, fingerprint)
	switch {
	case errors.Is(err, common.ErrNotFound):
		pattern = &model.Pattern{
			TenantID:          txn.TenantID,
			Fingerprint:       fingerprint,
			CounterpartyKey:   counterpartyKey,
			CandidateType:     cand.Type,
			Strength:          f.cfg.BaselineStrength,
			ConfirmationCount: 1,
			Active:            true,
		}
	case err != nil:
		f.logLearningError(txn.ID, fmt.Errorf("pattern lookup: %w", err))
		return
	case !pattern.Active:
		// A previously rejected pattern earns its way back at baseline.
		pattern.Active = true
		pattern.Strength = f.cfg.BaselineStrength
		pattern.ConfirmationCount++
	default:
		pattern.Reinforce(f.cfg.ReinforceGain)
	}

	pattern.LastSeenAt = time.Now().UTC()
	if err := f.store.SavePattern(ctx, pattern); err != nil {
		f.logLearningError(txn.ID, fmt.Errorf("pattern save: %w", err))
		return
	}

	slog.Debug("pattern reinforced",
		"tenant_id", txn.TenantID,
		"fingerprint", fingerprint,
		"strength", pattern.Strength)
}

// weaken decrements the matching pattern after a rejection, deactivating it
// once strength reaches zero. Best-effort like reinforce.
func (f *Feedback) weaken(ctx context.Context, txn *model.Transaction, cand *model.Candidate) {
	fingerprint := model.PatternFingerprint(txn.CounterpartyName, cand.Type)

	pattern, err := f.store.GetPatternByFingerprint(ctx, txn.TenantID, fingerprint)
	if errors.Is(err, common.ErrNotFound) {
		return
	}
	if err != nil {
		f.logLearningError(txn.ID, fmt.Errorf("pattern lookup: %w", err))
		return
	}

	pattern.Weaken(f.cfg.RejectPenalty)
	pattern.LastSeenAt = time.Now().UTC()
	if err := f.store.SavePattern(ctx, pattern); err != nil {
		f.logLearningError(txn.ID, fmt.Errorf("pattern save: %w", err))
		return
	}

	slog.Debug("pattern weakened",
		"tenant_id", txn.TenantID,
		"fingerprint", fingerprint,
		"strength", pattern.Strength,
		"active", pattern.Active)
}

func (f *Feedback) logLearningError(transactionID string, err error) {
	learningErr := &common.LearningUpdateError{TransactionID: transactionID, Err: err}
	slog.Error("learning update failed", "error", learningErr)
}

func validateEvent(tenantID, transactionID, candidateID string) error {
	if tenantID == "" {
		return common.NewValidationError("tenantID", "must not be empty")
	}
	if transactionID == "" {
		return common.NewValidationError("transactionID", "must not be empty")
	}
	if candidateID == "" {
		return common.NewValidationError("candidateID", "must not be empty")
	}
	return nil
}
