package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/caseline/ledgermatch/internal/model"

	"github.com/shopspring/decimal"
)

func scorerTransaction(amount string, date time.Time) model.Transaction {
	return model.Transaction{
		ID:               "txn-1",
		TenantID:         "tenant-a",
		Amount:           decimal.RequireFromString(amount),
		Currency:         "EUR",
		Date:             date,
		CounterpartyName: "Acme Corp",
	}
}

func scorerCandidate(amount string, due time.Time) model.Candidate {
	return model.Candidate{
		ID:               "cand-1",
		TenantID:         "tenant-a",
		Type:             model.CandidateInvoice,
		Amount:           decimal.RequireFromString(amount),
		DueDate:          due,
		CounterpartyName: "Acme Corp",
		Status:           model.CandidateOpen,
	}
}

func TestScorerPerfectAgreement(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	txn := scorerTransaction("1250.00", date)
	cand := scorerCandidate("1250.00", date)

	result := scorer.Score(&txn, &cand, nil)

	// Exact amount, same day, matching counterparty: 45 + 25 + 20.
	if result.Score != 90 {
		t.Errorf("Score = %d, want 90", result.Score)
	}
	if result.Confidence != model.ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", result.Confidence)
	}
	if result.DayOffset != 0 {
		t.Errorf("DayOffset = %d, want 0", result.DayOffset)
	}

	codes := make(map[string]bool)
	for _, r := range result.Reasons {
		codes[r.Code] = true
	}
	for _, want := range []string{"amount_exact", "date_exact", "counterparty_match"} {
		if !codes[want] {
			t.Errorf("missing reason %s in %v", want, codes)
		}
	}
}

func TestScorerDeterminism(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	txn := scorerTransaction("1250.00", date)
	txn.Reference = "INV 2024 001"
	cand := scorerCandidate("1243.00", date.AddDate(0, 0, 2))
	cand.Reference = "INV-2024-001"
	patterns := []model.Pattern{{
		TenantID:        "tenant-a",
		Fingerprint:     model.PatternFingerprint("Acme Corp", model.CandidateInvoice),
		CounterpartyKey: "acme corp",
		CandidateType:   model.CandidateInvoice,
		Strength:        2.5,
		Active:          true,
	}}

	first := scorer.Score(&txn, &cand, patterns)
	for i := 0; i < 5; i++ {
		again := scorer.Score(&txn, &cand, patterns)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("scoring is not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestScorerAmountDecay(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	txn := scorerTransaction("1000.00", date)

	// Strip everything except the amount signal.
	txn.CounterpartyName = ""
	amounts := []string{
		"1000.00", // exact
		"1005.00", // 0.5%, within tolerance
		"1020.00", // 2%
		"1050.00", // 5%
		"1090.00", // 9%
		"1100.00", // 10%, at cutoff
		"1250.00", // far beyond
	}

	prev := -1
	for i, amount := range amounts {
		cand := scorerCandidate(amount, date)
		cand.CounterpartyName = ""
		score := scorer.Score(&txn, &cand, nil).Score

		if i > 0 && score > prev {
			t.Errorf("score increased from %d to %d as amount diverged (%s)", prev, score, amount)
		}
		prev = score
	}

	t.Run("tolerance earns full weight", func(t *testing.T) {
		cand := scorerCandidate("1005.00", date)
		cand.CounterpartyName = ""
		exact := scorerCandidate("1000.00", date)
		exact.CounterpartyName = ""
		if got, want := scorer.Score(&txn, &cand, nil).Score, scorer.Score(&txn, &exact, nil).Score; got != want {
			t.Errorf("within-tolerance score = %d, want full %d", got, want)
		}
	})

	t.Run("cutoff earns nothing", func(t *testing.T) {
		cand := scorerCandidate("1100.00", date)
		cand.CounterpartyName = ""
		result := scorer.Score(&txn, &cand, nil)
		for _, r := range result.Reasons {
			if r.Code == "amount_exact" || r.Code == "amount_close" || r.Code == "amount_within_tolerance" {
				t.Errorf("amount at cutoff still contributed: %+v", r)
			}
		}
	})
}

func TestScorerDateDecay(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	txn := scorerTransaction("1000.00", date)

	prev := -1
	for offset := 7; offset >= 0; offset-- {
		cand := scorerCandidate("1000.00", date.AddDate(0, 0, offset))
		score := scorer.Score(&txn, &cand, nil).Score
		if score < prev {
			t.Errorf("score fell from %d to %d as dates converged (offset %d)", prev, score, offset)
		}
		prev = score
	}

	t.Run("offset at maximum earns nothing", func(t *testing.T) {
		near := scorerCandidate("1000.00", date.AddDate(0, 0, 7))
		far := scorerCandidate("1000.00", date.AddDate(0, 0, 60))
		if a, b := scorer.Score(&txn, &near, nil).Score, scorer.Score(&txn, &far, nil).Score; a != b {
			t.Errorf("7-day offset scored %d, 60-day scored %d, want equal", a, b)
		}
	})
}

func TestScorerPatternBoost(t *testing.T) {
	cfg := DefaultConfig()
	scorer := NewScorer(cfg)
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	txn := scorerTransaction("1000.00", date)

	pattern := func(strength float64, active bool) []model.Pattern {
		return []model.Pattern{{
			TenantID:        "tenant-a",
			Fingerprint:     model.PatternFingerprint("Acme Corp", model.CandidateInvoice),
			CounterpartyKey: "acme corp",
			CandidateType:   model.CandidateInvoice,
			Strength:        strength,
			Active:          active,
		}}
	}

	// A weak candidate that earns nothing from the base features.
	cand := scorerCandidate("1180.00", date.AddDate(0, 0, 30))
	cand.CounterpartyName = "Completely Different Name"

	t.Run("boost never exceeds the cap", func(t *testing.T) {
		score := scorer.Score(&txn, &cand, pattern(10000, true)).Score
		if score > cfg.PatternBoostCap {
			t.Errorf("pattern-only score = %d, exceeds cap %d", score, cfg.PatternBoostCap)
		}
	})

	t.Run("stronger patterns boost more", func(t *testing.T) {
		weak := scorer.Score(&txn, &cand, pattern(0.5, true)).Score
		strong := scorer.Score(&txn, &cand, pattern(9, true)).Score
		if strong <= weak {
			t.Errorf("strength 9 scored %d, strength 0.5 scored %d", strong, weak)
		}
	})

	t.Run("inactive patterns contribute nothing", func(t *testing.T) {
		base := scorer.Score(&txn, &cand, nil).Score
		with := scorer.Score(&txn, &cand, pattern(5, false)).Score
		if with != base {
			t.Errorf("inactive pattern changed score from %d to %d", base, with)
		}
	})

	t.Run("pattern for another type contributes nothing", func(t *testing.T) {
		other := pattern(5, true)
		other[0].Fingerprint = model.PatternFingerprint("Acme Corp", model.CandidatePayment)
		other[0].CandidateType = model.CandidatePayment
		base := scorer.Score(&txn, &cand, nil).Score
		with := scorer.Score(&txn, &cand, other).Score
		if with != base {
			t.Errorf("mismatched pattern changed score from %d to %d", base, with)
		}
	})
}

func TestScorerCapsAtHundred(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	txn := scorerTransaction("1250.00", date)
	txn.Reference = "INV 2024 001"
	cand := scorerCandidate("1250.00", date)
	cand.Reference = "INV 2024 001"
	patterns := []model.Pattern{{
		TenantID:        "tenant-a",
		Fingerprint:     model.PatternFingerprint("Acme Corp", model.CandidateInvoice),
		CounterpartyKey: "acme corp",
		CandidateType:   model.CandidateInvoice,
		Strength:        50,
		Active:          true,
	}}

	result := scorer.Score(&txn, &cand, patterns)
	if result.Score != 100 {
		t.Errorf("Score = %d, want capped at 100", result.Score)
	}
	if result.Confidence != model.ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", result.Confidence)
	}
}

func TestScorerCounterpartyFuzzy(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	txn := scorerTransaction("1000.00", date)

	t.Run("near spelling earns partial credit", func(t *testing.T) {
		cand := scorerCandidate("1180.00", date.AddDate(0, 0, 30))
		cand.CounterpartyName = "Acme Korp"
		result := scorer.Score(&txn, &cand, nil)
		found := false
		for _, r := range result.Reasons {
			if r.Code == "counterparty_similar" {
				found = true
				if r.Contribution >= DefaultConfig().CounterpartyWeight {
					t.Errorf("fuzzy credit %d not below full weight", r.Contribution)
				}
			}
		}
		if !found {
			t.Error("near spelling earned no counterparty credit")
		}
	})

	t.Run("distant name earns nothing", func(t *testing.T) {
		cand := scorerCandidate("1180.00", date.AddDate(0, 0, 30))
		cand.CounterpartyName = "Omega Holdings BV"
		result := scorer.Score(&txn, &cand, nil)
		for _, r := range result.Reasons {
			if r.Code == "counterparty_similar" || r.Code == "counterparty_match" {
				t.Errorf("distant name earned credit: %+v", r)
			}
		}
	})

	t.Run("account identifier matches", func(t *testing.T) {
		txnAcct := txn
		txnAcct.CounterpartyName = ""
		txnAcct.CounterpartyAccount = "NL91ABNA0417164300"
		cand := scorerCandidate("1000.00", date)
		cand.CounterpartyName = ""
		cand.Reference = "NL91ABNA0417164300"
		result := scorer.Score(&txnAcct, &cand, nil)
		found := false
		for _, r := range result.Reasons {
			if r.Code == "counterparty_account_match" {
				found = true
			}
		}
		if !found {
			t.Error("matching account identifier earned no credit")
		}
	})
}
