/*
config.go - Runtime configuration for the server and the worker

Every key is an environment variable with a default. A .env file, when
present, is loaded first; variables already set in the environment win.

KEYS:
  APP_ENV, APP_ADDR, APP_READ_TIMEOUT, APP_WRITE_TIMEOUT   HTTP server
  DB_PATH                                                  SQLite file (":memory:" allowed)
  LOG_FORMAT (text|json), LOG_LEVEL                        logging
  TIMEZONE                                                 zone "today" is read in
  REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX       shared marker + asynq
  SCHEDULER_ENABLED, SCHEDULER_INTERVAL, ROLLOVER_CRON     rollover triggers
  PROCESSING_ANCHOR, STRICT_TERMINATION,
  REACTIVATION_LEAD_DAYS                                   billing policy
  RATE_LIMIT_PER_MINUTE, CORS_ORIGINS                      HTTP guards
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/warp/billing-ledger/billing"
)

type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	DBPath string `envconfig:"DB_PATH" default:"billing.db"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Timezone  string `envconfig:"TIMEZONE" default:"UTC"`

	// Empty RedisAddr keeps the rollover marker in the database and disables
	// the asynq worker.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX"`

	SchedulerEnabled  bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1h"`
	RolloverCron      string        `envconfig:"ROLLOVER_CRON" default:"5 0 * * *"`

	ProcessingAnchor     string `envconfig:"PROCESSING_ANCHOR" default:"end"`
	StrictTermination    bool   `envconfig:"STRICT_TERMINATION" default:"false"`
	ReactivationLeadDays int    `envconfig:"REACTIVATION_LEAD_DAYS" default:"0"`

	RateLimitPerMinute int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"300"`
	CORSOrigins        []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
}

// Load reads envFile (skipped when empty or missing) and then the
// environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
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
	var problems []string
	switch billing.ProcessingAnchor(c.ProcessingAnchor) {
	case billing.AnchorPeriodEnd, billing.AnchorPeriodStart:
	default:
		problems = append(problems, fmt.Sprintf("PROCESSING_ANCHOR must be %q or %q", billing.AnchorPeriodEnd, billing.AnchorPeriodStart))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, "LOG_FORMAT must be text or json")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("TIMEZONE: %v", err))
	}
	if c.ReactivationLeadDays < 0 {
		problems = append(problems, "REACTIVATION_LEAD_DAYS must be >= 0")
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		problems = append(problems, "SCHEDULER_INTERVAL must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Clock reads "today" in the configured zone.
func (c *Config) Clock() billing.Clock {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return billing.SystemClock{Location: loc}
}

// Apply copies the billing policy keys onto a service.
func (c *Config) Apply(svc *billing.Service) {
	svc.ProcessingAnchor = billing.ProcessingAnchor(c.ProcessingAnchor)
	svc.StrictTermination = c.StrictTermination
	svc.ReactivationLeadDays = c.ReactivationLeadDays
}

// =============================================================================
// LOGGER
// =============================================================================

// NewLogger builds the process logger writing to stdout.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	format := "text"
	if cfg != nil {
		if lvl, err := parseLevel(cfg.LogLevel); err == nil {
			opts.Level = lvl
		}
		format = cfg.LogFormat
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: must be debug, info, warn or error", s)
	}
	return lvl, nil
}
