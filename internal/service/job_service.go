package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pagesift/pagesift-api/internal/config"
	"github.com/pagesift/pagesift-api/internal/crypto"
	"github.com/pagesift/pagesift-api/internal/models"
	"github.com/pagesift/pagesift-api/internal/repository"
	"github.com/pagesift/pagesift-api/internal/session"
)

// JobService handles scrape job submission and lifecycle queries.
type JobService struct {
	cfg       *config.Config
	repos     *repository.Repositories
	usage     *UsageService
	encryptor *crypto.Encryptor
	logger    *slog.Logger
}

// NewJobService creates a new job service.
func NewJobService(cfg *config.Config, repos *repository.Repositories, usage *UsageService, encryptor *crypto.Encryptor, logger *slog.Logger) *JobService {
	return &JobService{
		cfg:       cfg,
		repos:     repos,
		usage:     usage,
		encryptor: encryptor,
		logger:    logger,
	}
}

// SubmitJobInput is the caller-facing scrape request.
type SubmitJobInput struct {
	URL      string `json:"url"`
	Query    string `json:"query"`
	Model    string `json:"model,omitempty"`
	WaitSecs int    `json:"wait_secs,omitempty"`
	Stealth  bool   `json:"stealth,omitempty"`

	PaginationEnabled bool   `json:"pagination_enabled,omitempty"`
	MaxPages          int    `json:"max_pages,omitempty"`
	ExampleURL2       string `json:"example_url_2,omitempty"`
	ExampleURL3       string `json:"example_url_3,omitempty"`

	LoginEnabled bool   `json:"login_enabled,omitempty"`
	LoginURL     string `json:"login_url,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	// SessionJSON is a previously captured browser session bundle. When set it
	// replaces the credential login flow.
	SessionJSON string `json:"session_json,omitempty"`
}

// SubmitJobOutput points the caller at the queued job.
type SubmitJobOutput struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

// Submit validates the request, gates it on the owner's remaining quota and
// queues a scrape job. The quota gate is optimistic: the real deduction
// happens at completion when the item count is known.
func (s *JobService) Submit(ctx context.Context, ownerID string, input SubmitJobInput) (*SubmitJobOutput, error) {
	if err := s.validate(&input); err != nil {
		return nil, err
	}

	ledger, err := s.usage.EnsureLedger(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check quota: %w", err)
	}
	if ledger.Available() <= 0 {
		return nil, repository.ErrQuotaExceeded
	}

	now := time.Now()
	job := &models.ScrapeJob{
		ID:                ulid.Make().String(),
		OwnerID:           ownerID,
		Status:            models.JobStatusQueued,
		URL:               input.URL,
		Query:             input.Query,
		Model:             input.Model,
		WaitSecs:          input.WaitSecs,
		Stealth:           input.Stealth,
		PaginationEnabled: input.PaginationEnabled,
		MaxPages:          input.MaxPages,
		ExampleURL2:       input.ExampleURL2,
		ExampleURL3:       input.ExampleURL3,
		LoginEnabled:      input.LoginEnabled,
		LoginURL:          input.LoginURL,
		Username:          input.Username,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if input.Password != "" {
		encrypted, err := s.encryptor.Encrypt(input.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
		job.PasswordEncrypted = encrypted
	}
	if input.SessionJSON != "" {
		// Parse first so malformed bundles are rejected at submission, not
		// mid-run.
		if _, err := session.Parse([]byte(input.SessionJSON)); err != nil {
			return nil, fmt.Errorf("invalid session_json: %w", err)
		}
		encrypted, err := s.encryptor.Encrypt(input.SessionJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt session: %w", err)
		}
		job.SessionJSONEncrypted = encrypted
	}

	if err := s.repos.Job.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("queued scrape job",
		"job_id", job.ID,
		"owner_id", ownerID,
		"url", job.URL,
		"pagination", job.PaginationEnabled,
		"max_pages", job.MaxPages,
	)

	return &SubmitJobOutput{
		JobID:     job.ID,
		Status:    string(job.Status),
		StatusURL: fmt.Sprintf("%s/api/v1/jobs/%s", s.cfg.BaseURL, job.ID),
	}, nil
}

func (s *JobService) validate(input *SubmitJobInput) error {
	if !strings.HasPrefix(input.URL, "http://") && !strings.HasPrefix(input.URL, "https://") {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if strings.TrimSpace(input.Query) == "" {
		return fmt.Errorf("query is required")
	}

	if input.Model == "" {
		input.Model = s.cfg.DefaultModel
	}
	if input.WaitSecs <= 0 {
		input.WaitSecs = s.cfg.DefaultWaitSecs
	}
	if input.WaitSecs > s.cfg.MaxWaitSecs {
		input.WaitSecs = s.cfg.MaxWaitSecs
	}

	if input.PaginationEnabled {
		if input.MaxPages <= 0 {
			return fmt.Errorf("max_pages must be positive when pagination is enabled")
		}
		if input.MaxPages > s.cfg.MaxPagesLimit {
			input.MaxPages = s.cfg.MaxPagesLimit
		}
		if (input.ExampleURL2 == "") != (input.ExampleURL3 == "") {
			return fmt.Errorf("example_url_2 and example_url_3 must be provided together")
		}
	} else {
		input.MaxPages = 1
	}

	if input.LoginEnabled {
		if input.SessionJSON == "" && (input.LoginURL == "" || input.Username == "" || input.Password == "") {
			return fmt.Errorf("login requires either session_json or login_url, username and password")
		}
	}

	return nil
}

// Get retrieves a job scoped to its owner.
func (s *JobService) Get(ctx context.Context, ownerID, jobID string) (*models.ScrapeJob, error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil || job.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List retrieves an owner's jobs, newest first.
func (s *JobService) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.ScrapeJob, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repos.Job.ListByOwner(ctx, ownerID, limit, offset)
}

// Cancel requests cooperative cancellation. A running job stops at its next
// page boundary; a queued job is finalized as cancelled when claimed.
func (s *JobService) Cancel(ctx context.Context, ownerID, jobID string) error {
	job, err := s.Get(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobFinished
	}

	ok, err := s.repos.Job.RequestCancel(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	if !ok {
		// Lost the race with the orchestrator finishing the job.
		return ErrJobFinished
	}

	s.logger.Info("cancellation requested", "job_id", jobID, "owner_id", ownerID)
	return nil
}
