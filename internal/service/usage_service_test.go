package service

import (
	"context"
	"testing"
	"time"

	"github.com/pagesift/pagesift-api/internal/models"
)

func TestUsageService_EnsureLedger_GrantsOnce(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewUsageService(repos, testBillingConfig(), 50, testLogger())

	ledger, err := svc.EnsureLedger(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("EnsureLedger() error = %v", err)
	}
	if ledger.Available() != 50 {
		t.Errorf("Available() = %d, want 50", ledger.Available())
	}

	// A second call must not grant again.
	ledger, err = svc.EnsureLedger(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("EnsureLedger() error = %v", err)
	}
	if ledger.Available() != 50 {
		t.Errorf("Available() after second call = %d, want 50", ledger.Available())
	}

	txns, err := svc.ListTransactions(context.Background(), "owner_1", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txns))
	}
	if txns[0].Type != models.TxTypeAdjustment || txns[0].Units != 50 {
		t.Errorf("transaction = %+v", txns[0])
	}
}

func TestUsageService_EnsureLedger_ZeroSignupUnits(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewUsageService(repos, testBillingConfig(), 0, testLogger())

	ledger, err := svc.EnsureLedger(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("EnsureLedger() error = %v", err)
	}
	if ledger.Available() != 0 {
		t.Errorf("Available() = %d, want 0", ledger.Available())
	}

	// No row was written.
	stored, err := repos.Ledger.Get(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != nil {
		t.Errorf("stored ledger = %+v, want none", stored)
	}
}

func TestUsageService_ApplySubscriptionPayment(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewUsageService(repos, testBillingConfig(), 50, testLogger())

	if _, err := svc.EnsureLedger(context.Background(), "owner_1"); err != nil {
		t.Fatalf("EnsureLedger() error = %v", err)
	}

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	if err := svc.ApplySubscriptionPayment(context.Background(), "owner_1", "pro", start, end, "in_001"); err != nil {
		t.Fatalf("ApplySubscriptionPayment() error = %v", err)
	}

	ledger, _ := repos.Ledger.Get(context.Background(), "owner_1")
	if ledger.RecurringUnits != 2500 {
		t.Errorf("RecurringUnits = %d, want 2500", ledger.RecurringUnits)
	}
	if ledger.OneTimeUnits != 50 {
		t.Errorf("OneTimeUnits = %d, want signup grant untouched", ledger.OneTimeUnits)
	}
	if ledger.PeriodEnd == nil || !ledger.PeriodEnd.Equal(end) {
		t.Errorf("PeriodEnd = %v, want %v", ledger.PeriodEnd, end)
	}

	// Unknown tiers fall back to the default allotment.
	if err := svc.ApplySubscriptionPayment(context.Background(), "owner_1", "mystery", start, end, "in_002"); err != nil {
		t.Fatalf("ApplySubscriptionPayment() error = %v", err)
	}
	ledger, _ = repos.Ledger.Get(context.Background(), "owner_1")
	if ledger.RecurringUnits != 500 {
		t.Errorf("RecurringUnits = %d, want default tier's 500", ledger.RecurringUnits)
	}
}

func TestUsageService_ApplyTopUp_Idempotent(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewUsageService(repos, testBillingConfig(), 0, testLogger())

	for i := 0; i < 3; i++ {
		if err := svc.ApplyTopUp(context.Background(), "owner_1", 200, "pi_once"); err != nil {
			t.Fatalf("ApplyTopUp() error = %v", err)
		}
	}

	ledger, _ := repos.Ledger.Get(context.Background(), "owner_1")
	if ledger.OneTimeUnits != 200 {
		t.Errorf("OneTimeUnits = %d, want 200 despite retries", ledger.OneTimeUnits)
	}
}

func TestUsageService_EndSubscription(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewUsageService(repos, testBillingConfig(), 50, testLogger())

	if _, err := svc.EnsureLedger(context.Background(), "owner_1"); err != nil {
		t.Fatalf("EnsureLedger() error = %v", err)
	}
	start := time.Now().UTC()
	if err := svc.ApplySubscriptionPayment(context.Background(), "owner_1", "starter", start, start.AddDate(0, 1, 0), "in_003"); err != nil {
		t.Fatalf("ApplySubscriptionPayment() error = %v", err)
	}

	if err := svc.EndSubscription(context.Background(), "owner_1"); err != nil {
		t.Fatalf("EndSubscription() error = %v", err)
	}

	ledger, _ := repos.Ledger.Get(context.Background(), "owner_1")
	if ledger.RecurringUnits != 0 {
		t.Errorf("RecurringUnits = %d, want 0", ledger.RecurringUnits)
	}
	if ledger.OneTimeUnits != 50 {
		t.Errorf("OneTimeUnits = %d, want purchased units kept", ledger.OneTimeUnits)
	}

	// Ending twice is a no-op.
	if err := svc.EndSubscription(context.Background(), "owner_1"); err != nil {
		t.Fatalf("EndSubscription() second call error = %v", err)
	}
}
