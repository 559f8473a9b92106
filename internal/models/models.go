// Package models defines the domain models for the application.
// Owner identity comes from the submitting caller; the service itself
// does not manage user accounts.
package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is one of the three final states.
// A terminal job is never mutated again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ScrapeJob represents one end-to-end scrape-and-extract request.
//
// Status, result and error fields are written only by the orchestrator;
// CancelRequested is the only field a caller can flip after submission.
type ScrapeJob struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Status   JobStatus `json:"status"`
	URL      string    `json:"url"`
	Query    string    `json:"query"`
	Model    string    `json:"model"`
	WaitSecs int       `json:"wait_secs"`
	Stealth  bool      `json:"stealth"`

	// Pagination configuration. ExampleURL2/ExampleURL3 are optional
	// caller-supplied URLs of pages 2 and 3, used for URL-pattern learning.
	PaginationEnabled bool   `json:"pagination_enabled"`
	MaxPages          int    `json:"max_pages"`
	ExampleURL2       string `json:"example_url_2,omitempty"`
	ExampleURL3       string `json:"example_url_3,omitempty"`

	// Login material. PasswordEncrypted and SessionJSONEncrypted hold
	// AES-GCM ciphertext; plaintext never reaches the job store.
	LoginEnabled         bool   `json:"login_enabled"`
	LoginURL             string `json:"login_url,omitempty"`
	Username             string `json:"username,omitempty"`
	PasswordEncrypted    string `json:"-"`
	SessionJSONEncrypted string `json:"-"`

	ResultJSON      string `json:"result_json,omitempty"`
	Message         string `json:"message,omitempty"`
	PagesScraped    int    `json:"pages_scraped"`
	ErrorMessage    string `json:"error_message,omitempty"`
	CancelRequested bool   `json:"cancel_requested"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UsageLedger holds an owner's consumable quota of extracted items.
//
// RecurringUnits refresh with the subscription period; OneTimeUnits are
// purchased top-ups and never expire. Deduction consumes recurring units
// first. Neither counter may go negative.
type UsageLedger struct {
	OwnerID          string     `json:"owner_id"`
	RecurringUnits   int64      `json:"recurring_units"`
	OneTimeUnits     int64      `json:"onetime_units"`
	LifetimeConsumed int64      `json:"lifetime_consumed"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Available returns the total units the owner may still consume.
func (l *UsageLedger) Available() int64 {
	return l.RecurringUnits + l.OneTimeUnits
}

// LedgerTransactionType classifies a ledger mutation.
type LedgerTransactionType string

const (
	TxTypeSubscription LedgerTransactionType = "subscription"
	TxTypeTopUp        LedgerTransactionType = "topup"
	TxTypeUsage        LedgerTransactionType = "usage"
	TxTypeAdjustment   LedgerTransactionType = "adjustment"
)

// LedgerTransaction is an audit record of a single ledger mutation.
// StripePaymentID carries the payment-provider idempotency key for credits.
type LedgerTransaction struct {
	ID              string                `json:"id"`
	OwnerID         string                `json:"owner_id"`
	Type            LedgerTransactionType `json:"type"`
	Units           int64                 `json:"units"` // negative for usage
	FromRecurring   int64                 `json:"from_recurring"`
	FromOneTime     int64                 `json:"from_onetime"`
	JobID           *string               `json:"job_id,omitempty"`
	StripePaymentID *string               `json:"stripe_payment_id,omitempty"`
	Description     string                `json:"description"`
	CreatedAt       time.Time             `json:"created_at"`
}
