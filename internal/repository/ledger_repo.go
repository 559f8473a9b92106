package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pagesift/pagesift-api/internal/models"
)

// SQLiteLedgerRepository implements LedgerRepository for SQLite.
//
// Every mutation writes the ledger row and its audit transaction inside one
// database transaction, so balances and history cannot drift apart.
type SQLiteLedgerRepository struct {
	db *sql.DB
}

// NewSQLiteLedgerRepository creates a new SQLite ledger repository.
func NewSQLiteLedgerRepository(db *sql.DB) *SQLiteLedgerRepository {
	return &SQLiteLedgerRepository{db: db}
}

func (r *SQLiteLedgerRepository) Get(ctx context.Context, ownerID string) (*models.UsageLedger, error) {
	query := `SELECT owner_id, recurring_units, onetime_units, lifetime_consumed, period_start, period_end, updated_at
		FROM usage_ledgers WHERE owner_id = ?`

	var ledger models.UsageLedger
	var periodStart, periodEnd sql.NullString
	var updatedAt string
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(
		&ledger.OwnerID, &ledger.RecurringUnits, &ledger.OneTimeUnits, &ledger.LifetimeConsumed,
		&periodStart, &periodEnd, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}

	if periodStart.Valid {
		t, _ := time.Parse(time.RFC3339, periodStart.String)
		ledger.PeriodStart = &t
	}
	if periodEnd.Valid {
		t, _ := time.Parse(time.RFC3339, periodEnd.String)
		ledger.PeriodEnd = &t
	}
	ledger.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &ledger, nil
}

// CheckAndDeduct verifies the owner can cover units and deducts them in one
// transaction, draining the recurring pool before the one-time pool. A short
// balance returns ErrQuotaExceeded and leaves both pools untouched.
func (r *SQLiteLedgerRepository) CheckAndDeduct(ctx context.Context, ownerID string, units int64, jobID, description string) (*models.UsageLedger, error) {
	if units <= 0 {
		return nil, fmt.Errorf("deduction units must be positive, got %d", units)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var recurring, onetime, lifetime int64
	err = tx.QueryRowContext(ctx,
		`SELECT recurring_units, onetime_units, lifetime_consumed FROM usage_ledgers WHERE owner_id = ?`,
		ownerID,
	).Scan(&recurring, &onetime, &lifetime)
	if err == sql.ErrNoRows {
		// No ledger means no quota was ever granted.
		return nil, ErrQuotaExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	if recurring+onetime < units {
		return nil, ErrQuotaExceeded
	}

	fromRecurring := units
	if fromRecurring > recurring {
		fromRecurring = recurring
	}
	fromOneTime := units - fromRecurring

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE usage_ledgers
		SET recurring_units = recurring_units - ?, onetime_units = onetime_units - ?,
			lifetime_consumed = lifetime_consumed + ?, updated_at = ?
		WHERE owner_id = ?`,
		fromRecurring, fromOneTime, units, now.Format(time.RFC3339), ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to deduct from ledger: %w", err)
	}

	var jobRef *string
	if jobID != "" {
		jobRef = &jobID
	}
	if err := insertTransaction(ctx, tx, &models.LedgerTransaction{
		ID:            ulid.Make().String(),
		OwnerID:       ownerID,
		Type:          models.TxTypeUsage,
		Units:         -units,
		FromRecurring: fromRecurring,
		FromOneTime:   fromOneTime,
		JobID:         jobRef,
		Description:   description,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return &models.UsageLedger{
		OwnerID:          ownerID,
		RecurringUnits:   recurring - fromRecurring,
		OneTimeUnits:     onetime - fromOneTime,
		LifetimeConsumed: lifetime + units,
		UpdatedAt:        now,
	}, nil
}

// Credit adds units to the one-time pool, creating the ledger row when the
// owner has none. A stripePaymentID already on record makes the whole call a
// no-op, which keeps webhook retries harmless.
func (r *SQLiteLedgerRepository) Credit(ctx context.Context, ownerID string, txType models.LedgerTransactionType, units int64, stripePaymentID *string, description string) error {
	if units <= 0 {
		return fmt.Errorf("credit units must be positive, got %d", units)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	applied, err := paymentAlreadyApplied(ctx, tx, stripePaymentID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO usage_ledgers (owner_id, recurring_units, onetime_units, lifetime_consumed, updated_at)
		VALUES (?, 0, ?, 0, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			onetime_units = onetime_units + excluded.onetime_units,
			updated_at = excluded.updated_at`,
		ownerID, units, now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to credit ledger: %w", err)
	}

	if err := insertTransaction(ctx, tx, &models.LedgerTransaction{
		ID:              ulid.Make().String(),
		OwnerID:         ownerID,
		Type:            txType,
		Units:           units,
		FromOneTime:     units,
		StripePaymentID: stripePaymentID,
		Description:     description,
		CreatedAt:       now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// RefreshRecurring resets the recurring pool to units and records the new
// billing period. Unused recurring units from the previous period do not
// carry over. A stripePaymentID already on record makes the call a no-op.
func (r *SQLiteLedgerRepository) RefreshRecurring(ctx context.Context, ownerID string, units int64, periodStart, periodEnd time.Time, stripePaymentID *string) error {
	if units < 0 {
		return fmt.Errorf("recurring units must not be negative, got %d", units)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	applied, err := paymentAlreadyApplied(ctx, tx, stripePaymentID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO usage_ledgers (owner_id, recurring_units, onetime_units, lifetime_consumed, period_start, period_end, updated_at)
		VALUES (?, ?, 0, 0, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			recurring_units = excluded.recurring_units,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			updated_at = excluded.updated_at`,
		ownerID, units,
		periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to refresh recurring units: %w", err)
	}

	if err := insertTransaction(ctx, tx, &models.LedgerTransaction{
		ID:              ulid.Make().String(),
		OwnerID:         ownerID,
		Type:            models.TxTypeSubscription,
		Units:           units,
		FromRecurring:   units,
		StripePaymentID: stripePaymentID,
		Description:     fmt.Sprintf("Subscription period %s to %s", periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02")),
		CreatedAt:       now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// ClearRecurring zeroes the recurring pool when a subscription ends. One-time
// units are untouched.
func (r *SQLiteLedgerRepository) ClearRecurring(ctx context.Context, ownerID, description string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var recurring int64
	err = tx.QueryRowContext(ctx,
		`SELECT recurring_units FROM usage_ledgers WHERE owner_id = ?`, ownerID,
	).Scan(&recurring)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if recurring == 0 {
		return tx.Commit()
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE usage_ledgers SET recurring_units = 0, period_start = NULL, period_end = NULL, updated_at = ? WHERE owner_id = ?`,
		now.Format(time.RFC3339), ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear recurring units: %w", err)
	}

	if err := insertTransaction(ctx, tx, &models.LedgerTransaction{
		ID:            ulid.Make().String(),
		OwnerID:       ownerID,
		Type:          models.TxTypeAdjustment,
		Units:         -recurring,
		FromRecurring: -recurring,
		Description:   description,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (r *SQLiteLedgerRepository) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*models.LedgerTransaction, error) {
	query := `SELECT id, owner_id, type, units, from_recurring, from_onetime, job_id, stripe_payment_id, description, created_at
		FROM ledger_transactions WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.LedgerTransaction
	for rows.Next() {
		var txn models.LedgerTransaction
		var jobID, stripePaymentID, description sql.NullString
		var createdAt string

		if err := rows.Scan(&txn.ID, &txn.OwnerID, &txn.Type, &txn.Units, &txn.FromRecurring, &txn.FromOneTime, &jobID, &stripePaymentID, &description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if jobID.Valid {
			txn.JobID = &jobID.String
		}
		if stripePaymentID.Valid {
			txn.StripePaymentID = &stripePaymentID.String
		}
		txn.Description = description.String
		txn.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		transactions = append(transactions, &txn)
	}
	return transactions, rows.Err()
}

// paymentAlreadyApplied reports whether a Stripe payment id has a recorded
// transaction. Nil and empty ids never match.
func paymentAlreadyApplied(ctx context.Context, tx *sql.Tx, stripePaymentID *string) (bool, error) {
	if stripePaymentID == nil || *stripePaymentID == "" {
		return false, nil
	}
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE stripe_payment_id = ?`, *stripePaymentID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check payment id: %w", err)
	}
	return count > 0, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, txn *models.LedgerTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (id, owner_id, type, units, from_recurring, from_onetime, job_id, stripe_payment_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.OwnerID, txn.Type, txn.Units, txn.FromRecurring, txn.FromOneTime,
		nullStringPtr(txn.JobID), nullStringPtr(txn.StripePaymentID), nullString(txn.Description),
		txn.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record ledger transaction: %w", err)
	}
	return nil
}
