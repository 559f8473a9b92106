package repository

import (
	"database/sql"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/pagesift/pagesift-api/internal/database/migrations"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// insertTestJob inserts a job row directly, bypassing the repository.
func insertTestJob(t *testing.T, db *sql.DB, id, ownerID, status string) {
	t.Helper()
	query := `
		INSERT INTO scrape_jobs (id, owner_id, status, url, query, model, created_at, updated_at)
		VALUES (?, ?, ?, 'https://example.com', 'all products', 'gemini-2.0-flash', datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, ownerID, status); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}

// insertTestLedger inserts a ledger row with the given pool balances.
func insertTestLedger(t *testing.T, db *sql.DB, ownerID string, recurring, onetime int64) {
	t.Helper()
	query := `
		INSERT INTO usage_ledgers (owner_id, recurring_units, onetime_units, lifetime_consumed, updated_at)
		VALUES (?, ?, ?, 0, datetime('now'))
	`
	if _, err := db.Exec(query, ownerID, recurring, onetime); err != nil {
		t.Fatalf("failed to insert test ledger: %v", err)
	}
}
