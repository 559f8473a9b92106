package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagesift/pagesift-api/internal/config"
	"github.com/pagesift/pagesift-api/internal/models"
	"github.com/pagesift/pagesift-api/internal/repository"
)

// UsageService manages ledger allotments: the signup grant, Stripe-driven
// credits and the usage views the API exposes.
type UsageService struct {
	repos      *repository.Repositories
	billing    *config.BillingConfig
	signupUnit int64
	logger     *slog.Logger
}

// NewUsageService creates a new usage service.
func NewUsageService(repos *repository.Repositories, billing *config.BillingConfig, signupUnits int64, logger *slog.Logger) *UsageService {
	return &UsageService{
		repos:      repos,
		billing:    billing,
		signupUnit: signupUnits,
		logger:     logger,
	}
}

// EnsureLedger returns the owner's ledger, granting the signup allotment to
// owners seen for the first time.
func (s *UsageService) EnsureLedger(ctx context.Context, ownerID string) (*models.UsageLedger, error) {
	ledger, err := s.repos.Ledger.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		return ledger, nil
	}

	if s.signupUnit > 0 {
		if err := s.repos.Ledger.Credit(ctx, ownerID, models.TxTypeAdjustment, s.signupUnit, nil, "Signup grant"); err != nil {
			return nil, fmt.Errorf("failed to grant signup units: %w", err)
		}
		s.logger.Info("granted signup units", "owner_id", ownerID, "units", s.signupUnit)
	}

	ledger, err = s.repos.Ledger.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		// SignupUnits of zero leaves no row; report an empty ledger.
		ledger = &models.UsageLedger{OwnerID: ownerID}
	}
	return ledger, nil
}

// GetLedger returns the owner's ledger without creating one.
func (s *UsageService) GetLedger(ctx context.Context, ownerID string) (*models.UsageLedger, error) {
	ledger, err := s.repos.Ledger.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = &models.UsageLedger{OwnerID: ownerID}
	}
	return ledger, nil
}

// ListTransactions returns the owner's ledger history, newest first.
func (s *UsageService) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*models.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repos.Ledger.ListTransactions(ctx, ownerID, limit, offset)
}

// ApplySubscriptionPayment refreshes the owner's recurring pool for a paid
// billing period. invoiceID keeps webhook retries idempotent.
func (s *UsageService) ApplySubscriptionPayment(ctx context.Context, ownerID, tier string, periodStart, periodEnd time.Time, invoiceID string) error {
	units := s.billing.UnitsForTier(tier)

	var paymentRef *string
	if invoiceID != "" {
		paymentRef = &invoiceID
	}
	if err := s.repos.Ledger.RefreshRecurring(ctx, ownerID, units, periodStart, periodEnd, paymentRef); err != nil {
		return fmt.Errorf("failed to refresh recurring units: %w", err)
	}

	s.logger.Info("subscription period applied",
		"owner_id", ownerID,
		"tier", tier,
		"units", units,
		"period_end", periodEnd.Format(time.RFC3339),
	)
	return nil
}

// ApplyTopUp credits purchased one-time units. paymentID keeps webhook
// retries idempotent.
func (s *UsageService) ApplyTopUp(ctx context.Context, ownerID string, units int64, paymentID string) error {
	var paymentRef *string
	if paymentID != "" {
		paymentRef = &paymentID
	}
	if err := s.repos.Ledger.Credit(ctx, ownerID, models.TxTypeTopUp, units, paymentRef, fmt.Sprintf("Top-up of %d units", units)); err != nil {
		return fmt.Errorf("failed to credit top-up: %w", err)
	}

	s.logger.Info("top-up applied", "owner_id", ownerID, "units", units)
	return nil
}

// EndSubscription zeroes the recurring pool when a subscription is cancelled.
// Purchased one-time units survive.
func (s *UsageService) EndSubscription(ctx context.Context, ownerID string) error {
	if err := s.repos.Ledger.ClearRecurring(ctx, ownerID, "Subscription ended"); err != nil {
		return fmt.Errorf("failed to clear recurring units: %w", err)
	}

	s.logger.Info("subscription ended", "owner_id", ownerID)
	return nil
}
