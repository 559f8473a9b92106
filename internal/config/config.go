// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// SecretKey seeds the encryption key derivation when ENCRYPTION_KEY is
	// not set explicitly.
	SecretKey     string
	EncryptionKey []byte // 32-byte key for AES-256-GCM encryption

	// LLM provider (Gemini generateContent REST API)
	GeminiAPIKey  string
	GeminiBaseURL string
	DefaultModel  string
	LLMTimeout    time.Duration

	// Remote browser delegation. When set, the navigate/render phase of every
	// job is forwarded to this endpoint instead of a local headless browser.
	BrowserServiceURL string

	// Browser / scraping limits
	NavigationTimeout time.Duration // per-page navigation budget
	DefaultWaitSecs   int           // post-load settle wait when caller gives none
	MaxWaitSecs       int           // upper bound on caller-supplied wait
	MaxPagesLimit     int           // hard cap on pagination page budget
	JobMaxDuration    time.Duration // wall-clock ceiling for a whole job

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Ledger
	SignupUnits int64 // one-time allotment granted to first-seen owners

	// CORS
	CORSOrigins []string

	// Worker
	WorkerPollInterval        time.Duration // how often to poll for queued jobs
	WorkerConcurrency         int           // number of concurrent job runners
	WorkerShutdownGracePeriod time.Duration // max wait for running jobs at shutdown

	// IdleTimeout stops the server after this long without requests or
	// running jobs. Zero disables it; set it on scale-to-zero platforms.
	IdleTimeout time.Duration
}

// Load reads configuration from .env files and environment variables.
// Real environment variables win over .env file entries.
func Load() (*Config, error) {
	// Missing dotenv files are fine; explicit env always takes precedence
	// because godotenv.Load never overwrites existing variables.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:pagesift.db?_journal=WAL&_timeout=5000"),
		SecretKey:   getEnv("SECRET_KEY", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		DefaultModel:  getEnv("DEFAULT_MODEL", "gemini-2.0-flash"),
		LLMTimeout:    getEnvDuration("LLM_TIMEOUT", 120*time.Second),

		BrowserServiceURL: getEnv("BROWSER_SERVICE_URL", ""),

		NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 60*time.Second),
		DefaultWaitSecs:   getEnvInt("DEFAULT_WAIT_SECS", 3),
		MaxWaitSecs:       getEnvInt("MAX_WAIT_SECS", 30),
		MaxPagesLimit:     getEnvInt("MAX_PAGES_LIMIT", 20),
		JobMaxDuration:    getEnvDuration("JOB_MAX_DURATION", 10*time.Minute),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		SignupUnits: int64(getEnvInt("SIGNUP_UNITS", 50)),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		WorkerPollInterval:        getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 3),
		WorkerShutdownGracePeriod: getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute),

		IdleTimeout: getEnvDuration("IDLE_TIMEOUT", 0),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	// Set up encryption key (derive from the secret key if not explicitly set)
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	switch {
	case encKeyStr != "":
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	case cfg.SecretKey != "":
		cfg.EncryptionKey = deriveEncryptionKey(cfg.SecretKey)
	default:
		return nil, fmt.Errorf("either ENCRYPTION_KEY or SECRET_KEY must be set")
	}

	return cfg, nil
}

// DelegationEnabled reports whether browser work is forwarded to a remote
// rendering service.
func (c *Config) DelegationEnabled() bool {
	return c.BrowserServiceURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string using
// HKDF. Appropriate for high-entropy secrets; low-entropy passwords would need
// Argon2 instead.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("pagesift-api-encryption-key-v1")
	info := []byte("aes-256-gcm-encryption")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
