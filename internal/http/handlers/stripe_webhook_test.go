package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pagesift/pagesift-api/internal/service"
)

// signStripePayload builds a Stripe-Signature header for a test payload.
func signStripePayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookHandler(t *testing.T) (*StripeWebhookHandler, *service.UsageService, *testEnv) {
	t.Helper()
	env := setupHandlers(t)
	usageSvc := service.NewUsageService(env.repos, testBillingConfig(), 0, testLogger())
	h := NewStripeWebhookHandler(testConfig(), testBillingConfig(), usageSvc, testLogger())
	return h, usageSvc, env
}

func postWebhook(t *testing.T, h *StripeWebhookHandler, payload, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	h, _, _ := newWebhookHandler(t)

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`
	rec := postWebhook(t, h, payload, "t=1,v1=deadbeef")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStripeWebhook_TopUpCheckout(t *testing.T) {
	h, _, env := newWebhookHandler(t)

	payload := `{
		"id": "evt_1",
		"api_version": "2024-04-10",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"mode": "payment",
			"metadata": {"owner_id": "own_1", "units": "250"},
			"payment_intent": "pi_1"
		}}
	}`
	sig := signStripePayload([]byte(payload), "whsec_test")

	// Delivered twice; the payment id keeps the credit idempotent.
	for i := 0; i < 2; i++ {
		rec := postWebhook(t, h, payload, sig)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d, want 200", i+1, rec.Code)
		}
	}

	ledger, err := env.repos.Ledger.Get(context.Background(), "own_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ledger == nil || ledger.OneTimeUnits != 250 {
		t.Errorf("ledger = %+v, want 250 one-time units", ledger)
	}
}

func TestStripeWebhook_InvoicePaidRefreshesRecurring(t *testing.T) {
	h, _, env := newWebhookHandler(t)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	payload := fmt.Sprintf(`{
		"id": "evt_2",
		"api_version": "2024-04-10",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_1",
			"subscription": {"id": "sub_1", "metadata": {"owner_id": "own_1"}},
			"period_start": %d,
			"period_end": %d,
			"lines": {"data": [{
				"price": {"id": "price_pro_123"},
				"period": {"start": %d, "end": %d}
			}]}
		}}
	}`, start.Unix(), end.Unix(), start.Unix(), end.Unix())
	sig := signStripePayload([]byte(payload), "whsec_test")

	rec := postWebhook(t, h, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	ledger, _ := env.repos.Ledger.Get(context.Background(), "own_1")
	if ledger == nil || ledger.RecurringUnits != 2500 {
		t.Fatalf("ledger = %+v, want 2500 recurring units from price mapping", ledger)
	}
	if ledger.PeriodEnd == nil || !ledger.PeriodEnd.Equal(end) {
		t.Errorf("PeriodEnd = %v, want %v", ledger.PeriodEnd, end)
	}
}

func TestStripeWebhook_SubscriptionDeletedClearsRecurring(t *testing.T) {
	h, usageSvc, env := newWebhookHandler(t)

	start := time.Now().UTC()
	if err := usageSvc.ApplySubscriptionPayment(context.Background(), "own_1", "pro", start, start.AddDate(0, 1, 0), "in_seed"); err != nil {
		t.Fatalf("ApplySubscriptionPayment() error = %v", err)
	}
	if err := usageSvc.ApplyTopUp(context.Background(), "own_1", 30, "pi_seed"); err != nil {
		t.Fatalf("ApplyTopUp() error = %v", err)
	}

	payload := `{
		"id": "evt_3",
		"api_version": "2024-04-10",
		"type": "customer.subscription.deleted",
		"data": {"object": {
			"id": "sub_1",
			"metadata": {"owner_id": "own_1"}
		}}
	}`
	sig := signStripePayload([]byte(payload), "whsec_test")

	rec := postWebhook(t, h, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ledger, _ := env.repos.Ledger.Get(context.Background(), "own_1")
	if ledger.RecurringUnits != 0 {
		t.Errorf("RecurringUnits = %d, want 0", ledger.RecurringUnits)
	}
	if ledger.OneTimeUnits != 30 {
		t.Errorf("OneTimeUnits = %d, want purchased units kept", ledger.OneTimeUnits)
	}
}

func TestStripeWebhook_IgnoresUnknownEvent(t *testing.T) {
	h, _, _ := newWebhookHandler(t)

	payload := `{"id":"evt_4","api_version":"2024-04-10","type":"customer.created","data":{"object":{}}}`
	sig := signStripePayload([]byte(payload), "whsec_test")

	rec := postWebhook(t, h, payload, sig)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
