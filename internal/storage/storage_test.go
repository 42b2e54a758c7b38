package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/caseline/ledgermatch/internal/model"

	"github.com/shopspring/decimal"
)

// createTestStorage creates a migrated storage backed by a temp database.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return store, func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
}

func testTransaction(id, tenant string, amount string, date time.Time) model.Transaction {
	return model.Transaction{
		ID:               id,
		TenantID:         tenant,
		Amount:           decimal.RequireFromString(amount),
		Currency:         "EUR",
		Date:             date,
		Description:      "SEPA transfer",
		Reference:        "INV 2024 001",
		CounterpartyName: "Acme Corp",
	}
}

func testCandidate(id, tenant string, amount string, due time.Time) model.Candidate {
	return model.Candidate{
		ID:               id,
		TenantID:         tenant,
		Type:             model.CandidateInvoice,
		Amount:           decimal.RequireFromString(amount),
		DueDate:          due,
		CounterpartyName: "Acme Corp",
		Reference:        "INV-2024-001",
		Status:           model.CandidateOpen,
	}
}

func testMatch(tenant, txnID, candID string) *model.Match {
	return &model.Match{
		TenantID:      tenant,
		TransactionID: txnID,
		CandidateID:   candID,
		CandidateType: model.CandidateInvoice,
		Score:         90,
		Confidence:    model.ConfidenceHigh,
		Method:        model.MethodAISuggested,
		Status:        model.StatusAutoConfirmed,
		CreatedBy:     "engine",
	}
}
