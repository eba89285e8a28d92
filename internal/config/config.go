package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"lmsmail/internal/email"
)

type Config struct {
	// ----------------------------
	// Postmark (fallback transport)
	// ----------------------------
	PostmarkServerToken  string `envconfig:"POSTMARK_SERVER_TOKEN" default:""`
	PostmarkAccountToken string `envconfig:"POSTMARK_ACCOUNT_TOKEN" default:""`

	// ----------------------------
	// Queue
	// ----------------------------
	BatchSize         int           `envconfig:"BATCH_SIZE" default:"10"`
	RetryBaseDelay    time.Duration `envconfig:"RETRY_BASE_DELAY" default:"60s"`
	ErrorMessageLimit int           `envconfig:"ERROR_MESSAGE_LIMIT" default:"500"`
	DefaultMaxRetries int           `envconfig:"DEFAULT_MAX_RETRIES" default:"3"`
	SendTimeout       time.Duration `envconfig:"SEND_TIMEOUT" default:"30s"`
	RateLimit         int           `envconfig:"RATE_LIMIT" default:"10"`
	DrainInterval     time.Duration `envconfig:"DRAIN_INTERVAL" default:"0s"`

	// ----------------------------
	// Drain lease
	// ----------------------------
	RedisURL     string        `envconfig:"REDIS_URL" default:""`
	DrainLockTTL time.Duration `envconfig:"DRAIN_LOCK_TTL" default:"10m"`

	// ----------------------------
	// Settings
	// ----------------------------
	SettingsFile string `envconfig:"SETTINGS_FILE" default:""`

	// ----------------------------
	// Student import
	// ----------------------------
	ImportMaxRows int `envconfig:"IMPORT_MAX_ROWS" default:"1000"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL       string `envconfig:"DATABASE_URL" required:"true"`
	DBConnectAttempts int    `envconfig:"DB_CONNECT_ATTEMPTS" default:"5"`
	Migrate           bool   `envconfig:"MIGRATE" default:"false"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive, got %s", c.RetryBaseDelay)
	}
	if c.ErrorMessageLimit <= 0 {
		return fmt.Errorf("ERROR_MESSAGE_LIMIT must be positive, got %d", c.ErrorMessageLimit)
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("DEFAULT_MAX_RETRIES must not be negative, got %d", c.DefaultMaxRetries)
	}
	if c.DrainInterval < 0 {
		return fmt.Errorf("DRAIN_INTERVAL must not be negative, got %s", c.DrainInterval)
	}
	if c.RedisURL != "" {
		if budget := c.BatchBudget(); c.DrainLockTTL <= budget {
			return fmt.Errorf("DRAIN_LOCK_TTL must exceed the worst-case batch time %s, got %s", budget, c.DrainLockTTL)
		}
	}
	return nil
}

// BatchBudget is the longest a batch can take: every send running into
// SEND_TIMEOUT and the SMTP abort grace, plus the waits RATE_LIMIT imposes.
func (c *Config) BatchBudget() time.Duration {
	budget := time.Duration(c.BatchSize) * (c.SendTimeout + email.AbortGrace)
	if c.RateLimit > 0 {
		budget += time.Duration(c.BatchSize) * time.Second / time.Duration(c.RateLimit)
	}
	return budget
}
