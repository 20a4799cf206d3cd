package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - scheduler.go: supervisor, engine, and executor tuning
//   - features.go: feature flags
//   - database.go: PostgreSQL configuration
//   - redis.go: Redis event bridge configuration
//   - observability.go: metrics and failure-notification configuration
type AppConfig struct {
	// IsDev controls development mode behavior (console logging, demo
	// seeding allowed, etc.). Set DEV=true or NODE_ENV=development for
	// development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Scheduler supervises the engine and executor lifecycle.
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`

	// Engine tunes the timer engine.
	Engine EngineConfig `envPrefix:"ENGINE_"`

	// Executor tunes the task executor.
	Executor ExecutorConfig `envPrefix:"EXECUTOR_"`

	// Features toggles optional subsystems.
	Features FeatureFlags `envPrefix:"FEATURE_"`

	// Database configuration
	Database DatabaseConfig `envPrefix:"DB_"`

	// Redis event bridge configuration
	Redis RedisConfig `envPrefix:"REDIS_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// Out-of-range values snap to the nearest bound; every adjustment is
// reported as a warning string for the caller to log. This should be
// called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() []string {
	var warnings []string

	warnings = append(warnings, c.Scheduler.Sanitize()...)
	warnings = append(warnings, c.Engine.Sanitize()...)
	warnings = append(warnings, c.Executor.Sanitize()...)
	warnings = append(warnings, c.Database.Sanitize()...)
	warnings = append(warnings, c.Redis.Sanitize()...)
	warnings = append(warnings, c.Observability.Sanitize()...)

	// Check NODE_ENV for dev mode
	c.detectDevMode()

	return warnings
}

// Validate checks cross-field consistency after sanitization. It never
// mutates the config.
func (c *AppConfig) Validate() error {
	if c.Features.Persistence && !c.Database.Configured() {
		return fmt.Errorf("persistence is enabled but the database is not configured (set DB_HOST and DB_NAME, or DB_URL)")
	}
	if c.Redis.Enabled && !c.Redis.Configured() {
		return fmt.Errorf("redis is enabled but no address is configured (set REDIS_URI, sentinel nodes, or cluster nodes)")
	}
	return nil
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// warnf formats one sanitization warning.
func warnf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
