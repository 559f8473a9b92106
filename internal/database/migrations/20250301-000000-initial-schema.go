package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250301-000000",
		Description: "Initial schema",
		Up: []string{
			// Scrape jobs. Encrypted columns hold AES-GCM ciphertext; the
			// orchestrator owns every column except cancel_requested.
			`CREATE TABLE IF NOT EXISTS scrape_jobs (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'queued',
				url TEXT NOT NULL,
				query TEXT NOT NULL,
				model TEXT NOT NULL,
				wait_secs INTEGER NOT NULL DEFAULT 3,
				stealth INTEGER NOT NULL DEFAULT 0,
				pagination_enabled INTEGER NOT NULL DEFAULT 0,
				max_pages INTEGER NOT NULL DEFAULT 1,
				example_url_2 TEXT,
				example_url_3 TEXT,
				login_enabled INTEGER NOT NULL DEFAULT 0,
				login_url TEXT,
				username TEXT,
				password_encrypted TEXT,
				session_json_encrypted TEXT,
				result_json TEXT,
				message TEXT,
				pages_scraped INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				cancel_requested INTEGER NOT NULL DEFAULT 0,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_owner_id ON scrape_jobs(owner_id)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created_at ON scrape_jobs(created_at)`,

			// Usage ledgers. Two pools per owner: recurring units refresh with
			// the subscription period, one-time units never expire. CHECKs
			// back the never-negative invariant at the storage layer.
			`CREATE TABLE IF NOT EXISTS usage_ledgers (
				owner_id TEXT PRIMARY KEY,
				recurring_units INTEGER NOT NULL DEFAULT 0 CHECK (recurring_units >= 0),
				onetime_units INTEGER NOT NULL DEFAULT 0 CHECK (onetime_units >= 0),
				lifetime_consumed INTEGER NOT NULL DEFAULT 0,
				period_start TEXT,
				period_end TEXT,
				updated_at TEXT NOT NULL
			)`,

			// Ledger transactions - audit trail for all allotment movements.
			// stripe_payment_id is UNIQUE so webhook retries stay idempotent.
			`CREATE TABLE IF NOT EXISTS ledger_transactions (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				type TEXT NOT NULL,
				units INTEGER NOT NULL,
				from_recurring INTEGER NOT NULL DEFAULT 0,
				from_onetime INTEGER NOT NULL DEFAULT 0,
				job_id TEXT REFERENCES scrape_jobs(id) ON DELETE SET NULL,
				stripe_payment_id TEXT UNIQUE,
				description TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_tx_owner ON ledger_transactions(owner_id)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_tx_stripe ON ledger_transactions(stripe_payment_id)`,
		},
	})
}
