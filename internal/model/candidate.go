package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CandidateType identifies the kind of business record a candidate refers to.
type CandidateType string

// Candidate record types.
const (
	CandidateInvoice         CandidateType = "invoice"
	CandidatePayment         CandidateType = "payment"
	CandidateExpectedReceipt CandidateType = "expected_receipt"
)

// CandidateStatus is the settlement state of the underlying business record.
type CandidateStatus string

// Candidate statuses. Only open candidates are eligible for matching.
const (
	CandidateOpen    CandidateStatus = "open"
	CandidateSettled CandidateStatus = "settled"
	CandidateVoid    CandidateStatus = "void"
)

// Candidate is a business record (invoice, payment, expected receipt) eligible
// to reconcile against a transaction. Candidates are owned by the invoicing
// and payments modules; the engine never mutates them.
type Candidate struct {
	DueDate          time.Time
	ID               string
	TenantID         string
	CounterpartyName string
	Reference        string
	Type             CandidateType
	Status           CandidateStatus
	Amount           decimal.Decimal
}

// ValidType reports whether t is a known candidate type.
func ValidType(t CandidateType) bool {
	switch t {
	case CandidateInvoice, CandidatePayment, CandidateExpectedReceipt:
		return true
	}
	return false
}
