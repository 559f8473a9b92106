// Package service contains the business logic layer.
// Owner identity arrives with each request; the service stores no accounts.
package service

import (
	"fmt"
	"log/slog"

	"github.com/pagesift/pagesift-api/internal/browser"
	"github.com/pagesift/pagesift-api/internal/config"
	"github.com/pagesift/pagesift-api/internal/crypto"
	"github.com/pagesift/pagesift-api/internal/llm"
	"github.com/pagesift/pagesift-api/internal/paginate"
	"github.com/pagesift/pagesift-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Job    *JobService
	Usage  *UsageService
	Scrape *ScrapeService

	// Billing is the tier and price mapping shared with the Stripe webhook.
	Billing *config.BillingConfig

	// browserEngine is non-nil only when jobs render locally.
	browserEngine *browser.Engine
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	llmClient := llm.New(llm.Config{
		BaseURL:      cfg.GeminiBaseURL,
		APIKey:       cfg.GeminiAPIKey,
		DefaultModel: cfg.DefaultModel,
		Timeout:      cfg.LLMTimeout,
	}, logger)

	paginator := paginate.NewEngine(llmClient, llmClient, logger)

	var pages PageOpener
	var engine *browser.Engine
	if cfg.DelegationEnabled() {
		pages = NewRemoteBrowser(cfg.BrowserServiceURL, logger)
		logger.Info("browser delegation enabled", "service_url", cfg.BrowserServiceURL)
	} else {
		engine = browser.NewEngine(logger)
		pages = engine
	}

	billingCfg := config.LoadBillingConfig()
	usageSvc := NewUsageService(repos, &billingCfg, cfg.SignupUnits, logger)
	jobSvc := NewJobService(cfg, repos, usageSvc, encryptor, logger)
	scrapeSvc := NewScrapeService(cfg, repos, llmClient, pages, paginator, encryptor, logger)

	return &Services{
		Job:           jobSvc,
		Usage:         usageSvc,
		Scrape:        scrapeSvc,
		Billing:       &billingCfg,
		browserEngine: engine,
	}, nil
}

// Close releases resources held by long-lived services.
func (s *Services) Close() {
	if s.browserEngine != nil {
		s.browserEngine.Close()
	}
}
