package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagesift/pagesift-api/internal/browser"
	"github.com/pagesift/pagesift-api/internal/config"
	"github.com/pagesift/pagesift-api/internal/crypto"
	"github.com/pagesift/pagesift-api/internal/logging"
	"github.com/pagesift/pagesift-api/internal/models"
	"github.com/pagesift/pagesift-api/internal/normalize"
	"github.com/pagesift/pagesift-api/internal/paginate"
	"github.com/pagesift/pagesift-api/internal/protection"
	"github.com/pagesift/pagesift-api/internal/repository"
	"github.com/pagesift/pagesift-api/internal/session"
)

// Login form selectors, tried in document order by the browser.
const (
	usernameSelector = `input[type="email"], input[name="email"], input[name="username"], input[type="text"]`
	passwordSelector = `input[type="password"]`
	submitSelector   = `button[type="submit"], input[type="submit"]`
)

// errCancelled aborts a run at a cancellation checkpoint.
var errCancelled = errors.New("job cancelled")

// ExtractionClient is the model call the orchestrator needs per page.
type ExtractionClient interface {
	Extract(ctx context.Context, content, query, model string) (map[string]any, error)
}

// PageOpener hands out browser sessions. Local Chrome and the remote
// rendering service both implement it; a job never falls back from one to
// the other.
type PageOpener interface {
	NewPage(ctx context.Context, opts browser.Options) (browser.Page, error)
}

// ScrapeService runs a claimed job end to end: browser session, optional
// login, per-page extraction, pagination, aggregation and the final ledger
// deduction.
type ScrapeService struct {
	cfg       *config.Config
	repos     *repository.Repositories
	llm       ExtractionClient
	pages     PageOpener
	paginator *paginate.Engine
	encryptor *crypto.Encryptor
	logger    *slog.Logger
}

// NewScrapeService creates a new scrape orchestrator.
func NewScrapeService(cfg *config.Config, repos *repository.Repositories, llmClient ExtractionClient, pages PageOpener, paginator *paginate.Engine, encryptor *crypto.Encryptor, logger *slog.Logger) *ScrapeService {
	return &ScrapeService{
		cfg:       cfg,
		repos:     repos,
		llm:       llmClient,
		pages:     pages,
		paginator: paginator,
		encryptor: encryptor,
		logger:    logger,
	}
}

type runResult struct {
	merged       map[string]any
	itemCount    int
	pagesScraped int
	attempts     []paginate.Attempt
}

// Run executes a claimed job and finalizes it in exactly one terminal state.
func (s *ScrapeService) Run(ctx context.Context, job *models.ScrapeJob) {
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithOwnerID(ctx, job.OwnerID)
	logger := logging.FromContext(ctx, s.logger)

	// A cancel request can land while the job sits in the queue.
	if job.CancelRequested {
		s.finalizeCancelled(ctx, job, 0, logger)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobMaxDuration)
	defer cancel()

	result, err := s.execute(runCtx, job, logger)
	switch {
	case errors.Is(err, errCancelled):
		// The partial aggregate is discarded, but the page count survives
		// so the caller can see how far the run got.
		s.finalizeCancelled(ctx, job, result.pagesScraped, logger)
	case err != nil:
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("job exceeded maximum duration of %s", s.cfg.JobMaxDuration)
		}
		s.finalizeFailed(ctx, job, msg, logger)
	default:
		s.finalizeCompleted(ctx, job, result, logger)
	}
}

func (s *ScrapeService) execute(ctx context.Context, job *models.ScrapeJob, logger *slog.Logger) (*runResult, error) {
	opts := browser.Options{
		Stealth:           job.Stealth,
		NavigationTimeout: s.cfg.NavigationTimeout,
		SettleWait:        time.Duration(job.WaitSecs) * time.Second,
	}

	if job.SessionJSONEncrypted != "" {
		sessionJSON, err := s.encryptor.Decrypt(job.SessionJSONEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt session: %w", err)
		}
		state, err := session.Parse([]byte(sessionJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to parse session: %w", err)
		}
		opts.SessionState = session.Normalize(state)
	}

	page, err := s.pages.NewPage(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer page.Close()

	// Restored sessions skip the credential flow.
	if job.LoginEnabled && opts.SessionState == nil {
		if err := s.login(ctx, page, job, logger); err != nil {
			return nil, err
		}
	}

	if err := page.Navigate(ctx, job.URL); err != nil {
		return nil, err
	}

	maxPages := job.MaxPages
	if !job.PaginationEnabled || maxPages < 1 {
		maxPages = 1
	}

	st := &paginate.State{
		BaseURL:     job.URL,
		ExampleURL2: job.ExampleURL2,
		ExampleURL3: job.ExampleURL3,
		Model:       job.Model,
		CurrentURL:  job.URL,
	}

	var payloads []map[string]any
	pagesScraped := 0

	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		// Cancellation checkpoint before every page, including the first.
		cancelled, err := s.cancelRequested(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			return &runResult{pagesScraped: pagesScraped}, errCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageHTML, err := page.Content(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", pageNum, err)
		}

		// A challenge interstitial on entry means the whole run is blocked.
		if pageNum == 1 {
			if blocked := protection.Detect(pageHTML); blocked.Detected {
				return nil, fmt.Errorf("blocked by bot protection (%s): %s", blocked.Signal, blocked.Description)
			}
		}

		payload, err := s.llm.Extract(ctx, normalize.Text(pageHTML), job.Query, job.Model)
		if err != nil {
			// Transport or provider failure; a bad payload would have come
			// back as data.
			return nil, fmt.Errorf("extraction failed on page %d: %w", pageNum, err)
		}
		payloads = append(payloads, payload)
		pagesScraped = pageNum

		logger.Debug("page extracted", "page", pageNum, "fields", len(payload))

		if pageNum == maxPages {
			break
		}

		st.PageHTML = pageHTML
		st.TargetPage = pageNum + 1
		advanced, err := s.paginator.Advance(ctx, page, st)
		if err != nil {
			return nil, err
		}
		if !advanced {
			logger.Info("pagination exhausted", "pages_scraped", pagesScraped, "attempts", len(st.Attempts))
			break
		}
	}

	merged := paginate.Aggregate(payloads)
	return &runResult{
		merged:       merged,
		itemCount:    paginate.ItemCount(payloads, merged),
		pagesScraped: pagesScraped,
		attempts:     st.Attempts,
	}, nil
}

// login drives the credential flow on the login page, then leaves the tab
// authenticated for the scrape itself.
func (s *ScrapeService) login(ctx context.Context, page browser.Page, job *models.ScrapeJob, logger *slog.Logger) error {
	password, err := s.encryptor.Decrypt(job.PasswordEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt password: %w", err)
	}

	if err := page.Navigate(ctx, job.LoginURL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	if err := page.Fill(ctx, usernameSelector, job.Username); err != nil {
		return fmt.Errorf("failed to fill username: %w", err)
	}
	if err := page.Fill(ctx, passwordSelector, password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	if err := page.Submit(ctx, submitSelector); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}

	logger.Info("login form submitted", "login_url", job.LoginURL)
	return nil
}

// cancelRequested re-reads the cancel flag from the store.
func (s *ScrapeService) cancelRequested(ctx context.Context, jobID string) (bool, error) {
	// Use a fresh context so a run-deadline expiry surfaces as the timeout it
	// is, not as a failed status read.
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	current, err := s.repos.Job.GetByID(readCtx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to refresh job: %w", err)
	}
	if current == nil {
		return false, fmt.Errorf("job %s disappeared mid-run", jobID)
	}
	return current.CancelRequested, nil
}

func (s *ScrapeService) finalizeCompleted(ctx context.Context, job *models.ScrapeJob, result *runResult, logger *slog.Logger) {
	resultJSON, err := json.Marshal(result.merged)
	if err != nil {
		s.finalizeFailed(ctx, job, fmt.Sprintf("failed to serialize result: %v", err), logger)
		return
	}

	message := fmt.Sprintf("Extracted %d items across %d pages", result.itemCount, result.pagesScraped)

	if result.itemCount > 0 {
		deducted, note := s.deduct(ctx, job, int64(result.itemCount), logger)
		if note != "" {
			message += "; " + note
		}
		logger.Info("usage deducted", "items", result.itemCount, "units", deducted)
	}

	now := time.Now()
	job.Status = models.JobStatusCompleted
	job.ResultJSON = string(resultJSON)
	job.Message = message
	job.PagesScraped = result.pagesScraped
	job.ErrorMessage = ""
	job.CompletedAt = &now
	job.UpdatedAt = now

	if err := s.repos.Job.Update(ctx, job); err != nil {
		logger.Error("failed to persist completed job", "error", err)
		return
	}

	logger.Info("job completed",
		"items", result.itemCount,
		"pages_scraped", result.pagesScraped,
		"pagination_attempts", len(result.attempts),
	)
}

// deduct charges the extracted items against the owner's ledger. When the
// ledger cannot cover the full count the remainder is drained instead of
// failing a job whose work is already done.
func (s *ScrapeService) deduct(ctx context.Context, job *models.ScrapeJob, units int64, logger *slog.Logger) (int64, string) {
	description := fmt.Sprintf("%d items extracted", units)
	_, err := s.repos.Ledger.CheckAndDeduct(ctx, job.OwnerID, units, job.ID, description)
	if err == nil {
		return units, ""
	}
	if !errors.Is(err, repository.ErrQuotaExceeded) {
		logger.Error("ledger deduction failed", "error", err)
		return 0, "usage deduction failed"
	}

	ledger, lerr := s.repos.Ledger.Get(ctx, job.OwnerID)
	if lerr != nil || ledger == nil || ledger.Available() <= 0 {
		return 0, "quota exhausted"
	}
	remaining := ledger.Available()
	if _, derr := s.repos.Ledger.CheckAndDeduct(ctx, job.OwnerID, remaining, job.ID, description+" (quota exhausted)"); derr != nil {
		logger.Error("partial ledger deduction failed", "error", derr)
		return 0, "quota exhausted"
	}
	return remaining, fmt.Sprintf("quota exhausted after %d of %d units", remaining, units)
}

func (s *ScrapeService) finalizeFailed(ctx context.Context, job *models.ScrapeJob, message string, logger *slog.Logger) {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorMessage = message
	job.ResultJSON = ""
	job.CompletedAt = &now
	job.UpdatedAt = now

	if err := s.repos.Job.Update(ctx, job); err != nil {
		logger.Error("failed to persist failed job", "error", err)
		return
	}

	logger.Warn("job failed", "error_message", message)
}

func (s *ScrapeService) finalizeCancelled(ctx context.Context, job *models.ScrapeJob, pagesScraped int, logger *slog.Logger) {
	now := time.Now()
	job.Status = models.JobStatusCancelled
	job.Message = "Cancelled by request"
	job.ResultJSON = ""
	job.PagesScraped = pagesScraped
	job.CompletedAt = &now
	job.UpdatedAt = now

	if err := s.repos.Job.Update(ctx, job); err != nil {
		logger.Error("failed to persist cancelled job", "error", err)
		return
	}

	logger.Info("job cancelled")
}
