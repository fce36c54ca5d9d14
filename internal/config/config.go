// Package config loads the recognized settings of spec §6.4, failing
// fast on mandatory fields (teacher's config package loads .env via
// godotenv but leaves validation to callers; this package adds the
// fail-fast discipline the pipeline's startup requires).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found or error loading it, using system environment variables")
	}
}

// Config is the fully-resolved, typed configuration surface.
type Config struct {
	Env string // "production" or anything else (development/test)

	DatabaseURL string

	PollIntervalMs   int
	Concurrency      int
	MaxRetries       int
	RetryBaseDelayMs int64
	MaxImagesPerSKU  int
	DefaultTheme     string

	WebhookSecret          string
	WebhookSignatureHeader string
	WebhookMaxBytes        int64
	WebhookSkipVerify      bool // only honored outside production

	ObjectStoreBucket          string
	ObjectStoreRegion          string
	ObjectStoreEndpoint        string
	ObjectStoreAccessKeyID     string
	ObjectStoreSecretAccessKey string
	ObjectStorePublicBaseURL   string

	PresignTTLSeconds int
	AllowedOrigins    []string

	AdminToken string

	SegmentationEndpoint string
	SegmentationAPIKey   string
	SegmentationCostUSD  float64

	BackgroundCostUSD float64 // flat cost charged per synthesized background variant
	DownloadTimeoutMs int     // timeout for fetching the source image, spec §4.4 stage 0
}

// Load reads every recognized setting from the environment and validates
// the mandatory ones, returning an error that names every violation at
// once so a misconfigured deploy fails at startup rather than mid-request.
func Load() (*Config, error) {
	cfg := &Config{
		Env: strings.ToLower(getEnv("APP_ENV", "development")),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		PollIntervalMs:   getInt("POLL_INTERVAL_MS", 5000),
		Concurrency:      getInt("CONCURRENCY", 1),
		MaxRetries:       getInt("MAX_RETRIES", 3),
		RetryBaseDelayMs: getInt64("RETRY_BASE_DELAY_MS", 60000),
		MaxImagesPerSKU:  getInt("MAX_IMAGES_PER_SKU", 4),
		DefaultTheme:     getEnv("DEFAULT_THEME", "default"),

		WebhookSecret:          os.Getenv("WEBHOOK_SECRET"),
		WebhookSignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "x-source-signature"),
		WebhookMaxBytes:        getInt64("WEBHOOK_MAX_BYTES", 10*1024*1024),
		WebhookSkipVerify:      getBool("WEBHOOK_SKIP_VERIFY", false),

		ObjectStoreBucket:          os.Getenv("OBJECT_STORE_BUCKET"),
		ObjectStoreRegion:          os.Getenv("OBJECT_STORE_REGION"),
		ObjectStoreEndpoint:        os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreAccessKeyID:     os.Getenv("OBJECT_STORE_ACCESS_KEY_ID"),
		ObjectStoreSecretAccessKey: os.Getenv("OBJECT_STORE_SECRET_ACCESS_KEY"),
		ObjectStorePublicBaseURL:   os.Getenv("OBJECT_STORE_PUBLIC_BASE_URL"),

		PresignTTLSeconds: getInt("PRESIGN_TTL_SECONDS", 3600),
		AllowedOrigins:    getList("ALLOWED_ORIGINS", nil),

		AdminToken: os.Getenv("ADMIN_TOKEN"),

		SegmentationEndpoint: os.Getenv("SEGMENTATION_ENDPOINT"),
		SegmentationAPIKey:   os.Getenv("SEGMENTATION_API_KEY"),
		SegmentationCostUSD:  getFloat("SEGMENTATION_COST_USD", 0.05),

		BackgroundCostUSD: getFloat("BACKGROUND_COST_USD", 0.01),
		DownloadTimeoutMs: getInt("DOWNLOAD_TIMEOUT_MS", 30000),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV selects the production posture
// (mandatory webhook secret, allowed origins, and admin token).
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.ObjectStoreBucket == "" {
		problems = append(problems, "OBJECT_STORE_BUCKET is required")
	}
	if c.ObjectStoreRegion == "" {
		problems = append(problems, "OBJECT_STORE_REGION is required")
	}
	if c.Concurrency < 1 {
		problems = append(problems, "CONCURRENCY must be >= 1")
	}

	if c.IsProduction() {
		if c.WebhookSecret == "" {
			problems = append(problems, "WEBHOOK_SECRET is required in production")
		}
		if len(c.AllowedOrigins) == 0 {
			problems = append(problems, "ALLOWED_ORIGINS is required in production")
		}
		if c.AdminToken == "" {
			problems = append(problems, "ADMIN_TOKEN is required in production")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
