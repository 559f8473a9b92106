package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/pagesift/pagesift-api/internal/config"
	"github.com/pagesift/pagesift-api/internal/service"
)

// StripeWebhookHandler maps Stripe billing events onto ledger allotments.
type StripeWebhookHandler struct {
	cfg      *config.Config
	billing  *config.BillingConfig
	usageSvc *service.UsageService
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler.
func NewStripeWebhookHandler(cfg *config.Config, billing *config.BillingConfig, usageSvc *service.UsageService, logger *slog.Logger) *StripeWebhookHandler {
	stripe.Key = cfg.StripeSecretKey

	return &StripeWebhookHandler{
		cfg:      cfg,
		billing:  billing,
		usageSvc: usageSvc,
		logger:   logger.With("component", "stripe_webhook"),
	}
}

// HandleWebhook processes incoming Stripe webhooks. This is a raw HTTP
// handler because signature verification needs the exact request body.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sigHeader, h.cfg.StripeWebhookSecret)
	if err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.handleEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "error", err)
		// 500 makes Stripe retry; the ledger writes are idempotent per
		// payment id, so a retry after partial failure is safe.
		http.Error(w, "event handling failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	h.logger.Info("received Stripe webhook", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutComplete(ctx, event)

	case "invoice.paid":
		return h.handleInvoicePaid(ctx, event)

	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, event)

	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleCheckoutComplete credits one-time top-up purchases. Subscription
// checkouts are handled through their invoice.paid events instead.
func (h *StripeWebhookHandler) handleCheckoutComplete(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.Mode != stripe.CheckoutSessionModePayment {
		return nil
	}

	ownerID := session.Metadata["owner_id"]
	if ownerID == "" {
		h.logger.Warn("checkout session missing owner_id", "session_id", session.ID)
		return nil
	}

	units, err := strconv.ParseInt(session.Metadata["units"], 10, 64)
	if err != nil || units <= 0 {
		h.logger.Warn("checkout session missing valid units", "session_id", session.ID)
		return nil
	}

	paymentID := session.ID
	if session.PaymentIntent != nil {
		paymentID = session.PaymentIntent.ID
	}

	if err := h.usageSvc.ApplyTopUp(ctx, ownerID, units, paymentID); err != nil {
		return fmt.Errorf("failed to apply top-up: %w", err)
	}

	h.logger.Info("applied top-up", "owner_id", ownerID, "units", units, "payment_id", paymentID)
	return nil
}

// handleInvoicePaid refreshes the recurring pool for a paid billing period.
func (h *StripeWebhookHandler) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	if invoice.Subscription == nil {
		return nil
	}

	ownerID := ""
	tier := ""
	if invoice.Subscription.Metadata != nil {
		ownerID = invoice.Subscription.Metadata["owner_id"]
		tier = invoice.Subscription.Metadata["tier"]
	}
	if ownerID == "" && invoice.Customer != nil && invoice.Customer.Metadata != nil {
		ownerID = invoice.Customer.Metadata["owner_id"]
	}
	if ownerID == "" {
		h.logger.Warn("invoice missing owner_id", "invoice_id", invoice.ID)
		return nil
	}

	periodStart := time.Unix(invoice.PeriodStart, 0).UTC()
	periodEnd := time.Unix(invoice.PeriodEnd, 0).UTC()

	// The line item carries the purchased price and the exact period.
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0]
		if tier == "" && line.Price != nil {
			if t, ok := h.billing.TierForPrice(line.Price.ID); ok {
				tier = t
			}
		}
		if line.Period != nil {
			periodStart = time.Unix(line.Period.Start, 0).UTC()
			periodEnd = time.Unix(line.Period.End, 0).UTC()
		}
	}

	if err := h.usageSvc.ApplySubscriptionPayment(ctx, ownerID, tier, periodStart, periodEnd, invoice.ID); err != nil {
		return fmt.Errorf("failed to apply subscription payment: %w", err)
	}

	h.logger.Info("applied subscription period",
		"owner_id", ownerID,
		"tier", tier,
		"invoice_id", invoice.ID,
		"period_end", periodEnd.Format(time.RFC3339),
	)
	return nil
}

// handleSubscriptionDeleted zeroes the recurring pool. Purchased one-time
// units survive cancellation.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	ownerID := ""
	if subscription.Metadata != nil {
		ownerID = subscription.Metadata["owner_id"]
	}
	if ownerID == "" {
		h.logger.Warn("deleted subscription missing owner_id", "subscription_id", subscription.ID)
		return nil
	}

	if err := h.usageSvc.EndSubscription(ctx, ownerID); err != nil {
		return fmt.Errorf("failed to end subscription: %w", err)
	}

	h.logger.Info("subscription ended", "owner_id", ownerID, "subscription_id", subscription.ID)
	return nil
}
