package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pagesift/pagesift-api/internal/models"
)

const jobColumns = `id, owner_id, status, url, query, model, wait_secs, stealth,
	pagination_enabled, max_pages, example_url_2, example_url_3,
	login_enabled, login_url, username, password_encrypted, session_json_encrypted,
	result_json, message, pages_scraped, error_message, cancel_requested,
	started_at, completed_at, created_at, updated_at`

// SQLiteJobRepository implements JobRepository for SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		INSERT INTO scrape_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.Status,
		job.URL,
		job.Query,
		job.Model,
		job.WaitSecs,
		boolToInt(job.Stealth),
		boolToInt(job.PaginationEnabled),
		job.MaxPages,
		nullString(job.ExampleURL2),
		nullString(job.ExampleURL3),
		boolToInt(job.LoginEnabled),
		nullString(job.LoginURL),
		nullString(job.Username),
		nullString(job.PasswordEncrypted),
		nullString(job.SessionJSONEncrypted),
		nullString(job.ResultJSON),
		nullString(job.Message),
		job.PagesScraped,
		nullString(job.ErrorMessage),
		boolToInt(job.CancelRequested),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.CreatedAt.Format(time.RFC3339),
		job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE id = ?`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *SQLiteJobRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *SQLiteJobRepository) Update(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		UPDATE scrape_jobs SET status = ?, session_json_encrypted = ?, result_json = ?,
			message = ?, pages_scraped = ?, error_message = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		job.Status,
		nullString(job.SessionJSONEncrypted),
		nullString(job.ResultJSON),
		nullString(job.Message),
		job.PagesScraped,
		nullString(job.ErrorMessage),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		time.Now().Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// RequestCancel sets the cancel flag on a non-terminal job. The running
// orchestrator observes the flag at its next checkpoint; queued jobs are
// finalized as cancelled when the worker claims them.
func (r *SQLiteJobRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE scrape_jobs SET cancel_requested = 1, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'running')
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("failed to request cancellation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *SQLiteJobRepository) ClaimPending(ctx context.Context) (*models.ScrapeJob, error) {
	// Begin transaction (SQLite/libsql doesn't support custom isolation levels)
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

	// UPDATE ... RETURNING claims and fetches in one statement, which keeps
	// lock contention low when several worker goroutines poll.
	now := time.Now().Format(time.RFC3339)
	query := `
		UPDATE scrape_jobs
		SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM scrape_jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := scanJob(tx.QueryRowContext(ctx, query, now, now))
	if err == sql.ErrNoRows {
		// No queued jobs - this is normal, not an error
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return job, nil
}

// MarkStaleRunningJobsFailed fails jobs that have been running longer than
// maxAge, typically jobs orphaned by a server restart.
func (r *SQLiteJobRepository) MarkStaleRunningJobsFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().Format(time.RFC3339)

	query := `
		UPDATE scrape_jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND started_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusFailed,
		"Job terminated: server restart or timeout",
		now,
		now,
		models.JobStatusRunning,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs as failed: %w", err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	var stealth, paginationEnabled, loginEnabled, cancelRequested int
	var exampleURL2, exampleURL3, loginURL, username, passwordEnc, sessionEnc sql.NullString
	var resultJSON, message, errorMessage sql.NullString
	var startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Status, &job.URL, &job.Query, &job.Model,
		&job.WaitSecs, &stealth, &paginationEnabled, &job.MaxPages,
		&exampleURL2, &exampleURL3,
		&loginEnabled, &loginURL, &username, &passwordEnc, &sessionEnc,
		&resultJSON, &message, &job.PagesScraped, &errorMessage, &cancelRequested,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Stealth = stealth == 1
	job.PaginationEnabled = paginationEnabled == 1
	job.LoginEnabled = loginEnabled == 1
	job.CancelRequested = cancelRequested == 1
	job.ExampleURL2 = exampleURL2.String
	job.ExampleURL3 = exampleURL3.String
	job.LoginURL = loginURL.String
	job.Username = username.String
	job.PasswordEncrypted = passwordEnc.String
	job.SessionJSONEncrypted = sessionEnc.String
	job.ResultJSON = resultJSON.String
	job.Message = message.String
	job.ErrorMessage = errorMessage.String
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}

	return &job, nil
}

// Helper functions
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
