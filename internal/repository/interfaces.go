// Package repository defines repository interfaces for data access.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pagesift/pagesift-api/internal/models"
)

// ErrQuotaExceeded is returned by CheckAndDeduct when the owner's ledger
// cannot cover the requested units. The ledger is left untouched.
var ErrQuotaExceeded = errors.New("usage quota exceeded")

// JobRepository defines methods for scrape job data access.
type JobRepository interface {
	Create(ctx context.Context, job *models.ScrapeJob) error
	GetByID(ctx context.Context, id string) (*models.ScrapeJob, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.ScrapeJob, error)
	Update(ctx context.Context, job *models.ScrapeJob) error
	// RequestCancel flips the cancel flag on a queued or running job.
	// Returns false when the job is missing or already terminal.
	RequestCancel(ctx context.Context, id string) (bool, error)
	// ClaimPending atomically claims the oldest queued job and returns it,
	// or nil when nothing is queued.
	ClaimPending(ctx context.Context) (*models.ScrapeJob, error)
	// MarkStaleRunningJobsFailed fails jobs left running longer than maxAge,
	// typically orphans from a server restart. Returns the number failed.
	MarkStaleRunningJobsFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// LedgerRepository defines methods for usage ledger data access.
//
// All mutations run in a single transaction with their audit record so a
// ledger row and its transaction history never disagree.
type LedgerRepository interface {
	Get(ctx context.Context, ownerID string) (*models.UsageLedger, error)
	// CheckAndDeduct atomically verifies the owner can cover units and
	// deducts them, recurring pool first. Returns ErrQuotaExceeded with no
	// write when the balance is short.
	CheckAndDeduct(ctx context.Context, ownerID string, units int64, jobID, description string) (*models.UsageLedger, error)
	// Credit adds units to the one-time pool, creating the ledger row if
	// needed. A duplicate stripePaymentID makes the call a no-op.
	Credit(ctx context.Context, ownerID string, txType models.LedgerTransactionType, units int64, stripePaymentID *string, description string) error
	// RefreshRecurring resets the recurring pool to units for a new billing
	// period. A duplicate stripePaymentID makes the call a no-op.
	RefreshRecurring(ctx context.Context, ownerID string, units int64, periodStart, periodEnd time.Time, stripePaymentID *string) error
	// ClearRecurring zeroes the recurring pool, used when a subscription ends.
	ClearRecurring(ctx context.Context, ownerID, description string) error
	ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*models.LedgerTransaction, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Job    JobRepository
	Ledger LedgerRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Job:    NewSQLiteJobRepository(db),
		Ledger: NewSQLiteLedgerRepository(db),
	}
}
