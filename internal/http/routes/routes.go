// Package routes wires the API surface onto a Huma instance.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/pagesift/pagesift-api/internal/http/handlers"
	"github.com/pagesift/pagesift-api/internal/http/mw"
	"github.com/pagesift/pagesift-api/internal/version"
)

// Handlers aggregates the handler instances used for route registration.
type Handlers struct {
	Job   *handlers.JobHandler
	Usage *handlers.UsageHandler
}

// NewHumaConfig creates the shared Huma configuration for the API: metadata,
// the bearer security scheme and documentation tags.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Pagesift API", version.Get().Short())
	cfg.Info.Description = "LLM-driven web scraping API: submit a URL and a natural-language query, get merged structured JSON back."

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "API key authentication. Include your key in the Authorization header as `Bearer your_key`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Scraping", Description: "Scrape job submission"},
		{Name: "Jobs", Description: "Job status, history and cancellation"},
		{Name: "Usage", Description: "Usage ledger and billing history"},
		{Name: "Health", Description: "System health and status"},
	}

	return cfg
}

// Register registers all API routes with the given Huma API instance.
func Register(api huma.API, h *Handlers) {
	// Public routes.
	mw.PublicGet(api, "/api/v1/health", handlers.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	// Kubernetes probes (hidden from docs).
	mw.HiddenGet(api, "/healthz", handlers.Livez)
	mw.HiddenGet(api, "/readyz", handlers.Readyz)

	// Scrape submission.
	mw.ProtectedPost(api, "/api/v1/scrape", h.Job.SubmitScrape,
		mw.WithTags("Scraping"),
		mw.WithSummary("Submit scrape job"),
		mw.WithDescription("Queues a scrape-and-extract job and returns its id. Poll the status URL for results; billing happens per extracted item on completion."),
		mw.WithOperationID("submitScrape"))

	// Jobs.
	mw.ProtectedGet(api, "/api/v1/jobs", h.Job.ListJobs,
		mw.WithTags("Jobs"),
		mw.WithSummary("List jobs"),
		mw.WithOperationID("listJobs"))
	mw.ProtectedGet(api, "/api/v1/jobs/{id}", h.Job.GetJob,
		mw.WithTags("Jobs"),
		mw.WithSummary("Get job details"),
		mw.WithOperationID("getJob"))
	mw.ProtectedPost(api, "/api/v1/jobs/{id}/cancel", h.Job.CancelJob,
		mw.WithTags("Jobs"),
		mw.WithSummary("Cancel job"),
		mw.WithDescription("Requests cooperative cancellation. A running job stops before its next page; work already persisted is discarded."),
		mw.WithOperationID("cancelJob"))

	// Usage.
	mw.ProtectedGet(api, "/api/v1/usage", h.Usage.GetUsage,
		mw.WithTags("Usage"),
		mw.WithSummary("Get usage ledger"),
		mw.WithOperationID("getUsage"))
	mw.ProtectedGet(api, "/api/v1/usage/transactions", h.Usage.ListTransactions,
		mw.WithTags("Usage"),
		mw.WithSummary("List ledger transactions"),
		mw.WithOperationID("listUsageTransactions"))
}
