package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/pagesift/pagesift-api/internal/browser"
	"github.com/pagesift/pagesift-api/internal/config"
	"github.com/pagesift/pagesift-api/internal/crypto"
	"github.com/pagesift/pagesift-api/internal/database/migrations"
	"github.com/pagesift/pagesift-api/internal/models"
	"github.com/pagesift/pagesift-api/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:           "http://localhost:8080",
		DefaultModel:      "gemini-2.0-flash",
		NavigationTimeout: 5 * time.Second,
		DefaultWaitSecs:   1,
		MaxWaitSecs:       10,
		MaxPagesLimit:     20,
		JobMaxDuration:    time.Minute,
		SignupUnits:       50,
		EncryptionKey:     make([]byte, 32),
	}
}

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor(make([]byte, 32))
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return enc
}

// setupTestRepos creates repositories over an in-memory migrated database.
func setupTestRepos(t *testing.T) *repository.Repositories {
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

	return repository.NewRepositories(db)
}

// fakePage simulates a browser tab over a fixed sequence of page snapshots.
// Navigate and Click both advance to the next snapshot once the first
// navigation has landed.
type fakePage struct {
	htmls       []string
	idx         int
	loaded      bool
	navigated   []string
	clicked     []string
	filled      map[string]string
	navigateErr error
	closed      bool
}

func (p *fakePage) Navigate(_ context.Context, pageURL string) error {
	if p.navigateErr != nil {
		return p.navigateErr
	}
	if p.loaded {
		p.advance()
	}
	p.loaded = true
	p.navigated = append(p.navigated, pageURL)
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.clicked = append(p.clicked, selector)
	p.advance()
	return nil
}

func (p *fakePage) advance() {
	if p.idx < len(p.htmls)-1 {
		p.idx++
	}
}

func (p *fakePage) CurrentURL(_ context.Context) (string, error) {
	if len(p.navigated) == 0 {
		return "", nil
	}
	return p.navigated[len(p.navigated)-1], nil
}

func (p *fakePage) Content(_ context.Context) (string, error) {
	if len(p.htmls) == 0 {
		return "", nil
	}
	return p.htmls[p.idx], nil
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	if p.filled == nil {
		p.filled = map[string]string{}
	}
	p.filled[selector] = value
	return nil
}

func (p *fakePage) Submit(ctx context.Context, selector string) error {
	return p.Click(ctx, selector)
}

func (p *fakePage) Close() {
	p.closed = true
}

type fakeOpener struct {
	page    *fakePage
	opts    browser.Options
	openErr error
}

func (f *fakeOpener) NewPage(_ context.Context, opts browser.Options) (browser.Page, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opts = opts
	return f.page, nil
}

// fakeExtractor returns one payload per call and can run a hook before
// answering, which tests use to flip the cancel flag mid-run.
type fakeExtractor struct {
	payloads []map[string]any
	err      error
	calls    int
	onCall   func(call int)
}

func (f *fakeExtractor) Extract(_ context.Context, _, _, _ string) (map[string]any, error) {
	call := f.calls
	f.calls++
	if f.onCall != nil {
		f.onCall(call)
	}
	if f.err != nil {
		return nil, f.err
	}
	if call < len(f.payloads) {
		return f.payloads[call], nil
	}
	return map[string]any{}, nil
}

type fakeFinder struct {
	selector string
	err      error
}

func (f *fakeFinder) FindNextSelector(_ context.Context, _, _ string) (string, error) {
	return f.selector, f.err
}

type fakeLearner struct {
	url string
	err error
}

func (f *fakeLearner) LearnPaginationURL(_ context.Context, _, _, _ string, _ int, _ string) (string, error) {
	return f.url, f.err
}

func claimedTestJob(t *testing.T, repos *repository.Repositories, job *models.ScrapeJob) *models.ScrapeJob {
	t.Helper()
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
		job.UpdatedAt = now
	}
	if err := repos.Job.Create(context.Background(), job); err != nil {
		t.Fatalf("failed to create test job: %v", err)
	}
	return job
}
