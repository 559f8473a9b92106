package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pagesift/pagesift-api/internal/models"
	"github.com/pagesift/pagesift-api/internal/repository"
	"github.com/pagesift/pagesift-api/internal/service"
)

// JobHandler handles scrape submission and job lifecycle endpoints.
type JobHandler struct {
	jobSvc *service.JobService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobSvc *service.JobService) *JobHandler {
	return &JobHandler{jobSvc: jobSvc}
}

// SubmitScrapeInput represents a scrape job submission.
type SubmitScrapeInput struct {
	Body struct {
		URL      string `json:"url" minLength:"1" example:"https://example.com/products" doc:"Page to scrape. Must be an absolute http(s) URL."`
		Query    string `json:"query" minLength:"1" example:"product names and prices" doc:"Natural-language description of the data to extract"`
		Model    string `json:"model,omitempty" example:"gemini-2.0-flash" doc:"Model id override; server default when empty"`
		WaitSecs int    `json:"wait_secs,omitempty" minimum:"0" example:"3" doc:"Seconds to wait after page load before extraction"`
		Stealth  bool   `json:"stealth,omitempty" doc:"Launch the browser with detection-resistant settings"`

		PaginationEnabled bool   `json:"pagination_enabled,omitempty" doc:"Follow listing pagination and merge results"`
		MaxPages          int    `json:"max_pages,omitempty" minimum:"0" example:"5" doc:"Page budget when pagination is enabled"`
		ExampleURL2       string `json:"example_url_2,omitempty" format:"uri" doc:"URL of page 2, enables URL-pattern pagination"`
		ExampleURL3       string `json:"example_url_3,omitempty" format:"uri" doc:"URL of page 3, required together with example_url_2"`

		LoginEnabled bool   `json:"login_enabled,omitempty" doc:"Log in before scraping"`
		LoginURL     string `json:"login_url,omitempty" format:"uri" doc:"Login form page"`
		Username     string `json:"username,omitempty" doc:"Login username or email"`
		Password     string `json:"password,omitempty" doc:"Login password; stored encrypted"`
		SessionJSON  string `json:"session_json,omitempty" doc:"Previously captured browser session bundle; replaces the credential flow"`
	}
}

// SubmitScrapeOutput represents a scrape job submission response.
type SubmitScrapeOutput struct {
	Status int
	Body   struct {
		JobID     string `json:"job_id" example:"01HXYZ123ABC456DEF789" doc:"Unique job identifier (ULID)"`
		Status    string `json:"status" example:"queued"`
		StatusURL string `json:"status_url" doc:"URL to poll for job status"`
	}
}

// SubmitScrape queues a scrape job.
func (h *JobHandler) SubmitScrape(ctx context.Context, input *SubmitScrapeInput) (*SubmitScrapeOutput, error) {
	ownerID := getOwnerID(ctx)
	if ownerID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	result, err := h.jobSvc.Submit(ctx, ownerID, service.SubmitJobInput{
		URL:               input.Body.URL,
		Query:             input.Body.Query,
		Model:             input.Body.Model,
		WaitSecs:          input.Body.WaitSecs,
		Stealth:           input.Body.Stealth,
		PaginationEnabled: input.Body.PaginationEnabled,
		MaxPages:          input.Body.MaxPages,
		ExampleURL2:       input.Body.ExampleURL2,
		ExampleURL3:       input.Body.ExampleURL3,
		LoginEnabled:      input.Body.LoginEnabled,
		LoginURL:          input.Body.LoginURL,
		Username:          input.Body.Username,
		Password:          input.Body.Password,
		SessionJSON:       input.Body.SessionJSON,
	})
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			return nil, huma.NewError(http.StatusPaymentRequired, "usage quota exhausted")
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	out := &SubmitScrapeOutput{Status: http.StatusCreated}
	out.Body.JobID = result.JobID
	out.Body.Status = result.Status
	out.Body.StatusURL = result.StatusURL
	return out, nil
}

// JobBody is the caller-facing view of a scrape job.
type JobBody struct {
	ID                string          `json:"id"`
	Status            string          `json:"status" example:"completed" doc:"queued, running, completed, failed or cancelled"`
	URL               string          `json:"url"`
	Query             string          `json:"query"`
	Model             string          `json:"model"`
	PaginationEnabled bool            `json:"pagination_enabled"`
	MaxPages          int             `json:"max_pages,omitempty"`
	PagesScraped      int             `json:"pages_scraped"`
	Result            json.RawMessage `json:"result,omitempty" doc:"Merged extraction payload, present once completed"`
	Message           string          `json:"message,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	CancelRequested   bool            `json:"cancel_requested,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func toJobBody(job *models.ScrapeJob) JobBody {
	body := JobBody{
		ID:                job.ID,
		Status:            string(job.Status),
		URL:               job.URL,
		Query:             job.Query,
		Model:             job.Model,
		PaginationEnabled: job.PaginationEnabled,
		MaxPages:          job.MaxPages,
		PagesScraped:      job.PagesScraped,
		Message:           job.Message,
		ErrorMessage:      job.ErrorMessage,
		CancelRequested:   job.CancelRequested,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
		CreatedAt:         job.CreatedAt,
	}
	if job.ResultJSON != "" {
		body.Result = json.RawMessage(job.ResultJSON)
	}
	return body
}

// GetJobInput represents a job status request.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput represents a job status response.
type GetJobOutput struct {
	Body JobBody
}

// GetJob returns the status and result of one job.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	ownerID := getOwnerID(ctx)
	if ownerID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	job, err := h.jobSvc.Get(ctx, ownerID, input.ID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("failed to get job")
	}

	return &GetJobOutput{Body: toJobBody(job)}, nil
}

// ListJobsInput represents a job history request.
type ListJobsInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Max jobs to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Jobs to skip"`
}

// ListJobsOutput represents a job history response.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobBody `json:"jobs"`
	}
}

// ListJobs returns the caller's job history, newest first.
func (h *JobHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	ownerID := getOwnerID(ctx)
	if ownerID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	jobs, err := h.jobSvc.List(ctx, ownerID, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs")
	}

	out := &ListJobsOutput{}
	out.Body.Jobs = make([]JobBody, 0, len(jobs))
	for _, job := range jobs {
		out.Body.Jobs = append(out.Body.Jobs, toJobBody(job))
	}
	return out, nil
}

// CancelJobInput represents a job cancellation request.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// CancelJobOutput represents a job cancellation response.
type CancelJobOutput struct {
	Status int
	Body   struct {
		JobID  string `json:"job_id"`
		Status string `json:"status" example:"cancel_requested"`
	}
}

// CancelJob requests cooperative cancellation. A running job stops at its
// next page boundary.
func (h *JobHandler) CancelJob(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	ownerID := getOwnerID(ctx)
	if ownerID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	if err := h.jobSvc.Cancel(ctx, ownerID, input.ID); err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound("job not found")
		case errors.Is(err, service.ErrJobFinished):
			return nil, huma.Error409Conflict("job already finished")
		default:
			return nil, huma.Error500InternalServerError("failed to cancel job")
		}
	}

	out := &CancelJobOutput{Status: http.StatusAccepted}
	out.Body.JobID = input.ID
	out.Body.Status = "cancel_requested"
	return out, nil
}
