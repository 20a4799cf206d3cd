package config

import (
	"time"

	"github.com/homeshield/aegis/internal/core"
)

// SchedulerConfig contains supervisor-level scheduler configuration.
type SchedulerConfig struct {
	// AutoStart starts the engine as soon as the supervisor initializes.
	AutoStart bool `env:"AUTO_START" envDefault:"true"`

	// LoadExisting schedules every ACTIVE stored task on startup.
	LoadExisting bool `env:"LOAD_EXISTING" envDefault:"true"`

	// ShutdownTimeout bounds the concurrent engine/executor shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to supervisor configuration values.
func (s *SchedulerConfig) Sanitize() []string {
	var warnings []string
	if s.ShutdownTimeout < time.Second {
		warnings = append(warnings, warnf("SCHEDULER_SHUTDOWN_TIMEOUT %s below minimum, raised to 1s", s.ShutdownTimeout))
		s.ShutdownTimeout = time.Second
	}
	return warnings
}

// EngineConfig contains timer engine configuration.
type EngineConfig struct {
	// SweepInterval is the period of the periodic due-task sweep.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`

	// Tolerance is how far past its fire instant a task may still run.
	Tolerance time.Duration `env:"TOLERANCE" envDefault:"5m"`

	// MaxConcurrent caps engine-launched executions in flight.
	MaxConcurrent int `env:"MAX_CONCURRENT" envDefault:"5"`

	// HealthInterval is how often stale timers are detected and purged.
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" envDefault:"5m"`

	// CleanupInterval is how often the timer map is fully resynced
	// against storage.
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"30m"`

	// MaxTimerDrift is the staleness threshold for the health check.
	MaxTimerDrift time.Duration `env:"MAX_TIMER_DRIFT" envDefault:"60s"`

	// DeferDelay is how far a fire is pushed when the engine is at
	// capacity.
	DeferDelay time.Duration `env:"DEFER_DELAY" envDefault:"30s"`

	// StartupDelay is how far overdue tasks are pushed at startup.
	StartupDelay time.Duration `env:"STARTUP_DELAY" envDefault:"1s"`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() []string {
	var warnings []string
	if e.SweepInterval < time.Second {
		warnings = append(warnings, warnf("ENGINE_SWEEP_INTERVAL %s below minimum, raised to 1s", e.SweepInterval))
		e.SweepInterval = time.Second
	}
	if e.Tolerance < 0 {
		warnings = append(warnings, warnf("ENGINE_TOLERANCE %s negative, raised to 0", e.Tolerance))
		e.Tolerance = 0
	}
	if e.MaxConcurrent < 1 {
		warnings = append(warnings, warnf("ENGINE_MAX_CONCURRENT %d below minimum, raised to 1", e.MaxConcurrent))
		e.MaxConcurrent = 1
	}
	if e.MaxConcurrent > 100 {
		warnings = append(warnings, warnf("ENGINE_MAX_CONCURRENT %d above maximum, lowered to 100", e.MaxConcurrent))
		e.MaxConcurrent = 100
	}
	if e.HealthInterval < 10*time.Second {
		warnings = append(warnings, warnf("ENGINE_HEALTH_INTERVAL %s below minimum, raised to 10s", e.HealthInterval))
		e.HealthInterval = 10 * time.Second
	}
	if e.CleanupInterval < time.Minute {
		warnings = append(warnings, warnf("ENGINE_CLEANUP_INTERVAL %s below minimum, raised to 1m", e.CleanupInterval))
		e.CleanupInterval = time.Minute
	}
	if e.MaxTimerDrift < time.Second {
		warnings = append(warnings, warnf("ENGINE_MAX_TIMER_DRIFT %s below minimum, raised to 1s", e.MaxTimerDrift))
		e.MaxTimerDrift = time.Second
	}
	if e.DeferDelay < time.Second {
		warnings = append(warnings, warnf("ENGINE_DEFER_DELAY %s below minimum, raised to 1s", e.DeferDelay))
		e.DeferDelay = time.Second
	}
	if e.StartupDelay < 0 {
		warnings = append(warnings, warnf("ENGINE_STARTUP_DELAY %s negative, raised to 0", e.StartupDelay))
		e.StartupDelay = 0
	}
	return warnings
}

// ToCore converts to the engine's runtime configuration.
func (e EngineConfig) ToCore() core.EngineConfig {
	return core.EngineConfig{
		SweepInterval:   e.SweepInterval,
		Tolerance:       e.Tolerance,
		MaxConcurrent:   e.MaxConcurrent,
		HealthInterval:  e.HealthInterval,
		CleanupInterval: e.CleanupInterval,
		MaxTimerDrift:   e.MaxTimerDrift,
		DeferDelay:      e.DeferDelay,
		StartupDelay:    e.StartupDelay,
	}
}

// ExecutorConfig contains task executor configuration.
type ExecutorConfig struct {
	// MaxConcurrent is the hard admission cap for simultaneous
	// dispatches.
	MaxConcurrent int `env:"MAX_CONCURRENT" envDefault:"3"`

	// Timeout bounds a single dispatch attempt.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5m"`

	// MaxRetries is how many times a failed attempt is retried.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"3"`

	// BackoffBase seeds the exponential retry delay.
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `env:"BACKOFF_MAX" envDefault:"30s"`

	// QueueTimeout bounds how long a submission waits for a free slot.
	QueueTimeout time.Duration `env:"QUEUE_TIMEOUT" envDefault:"10m"`

	// RetryOnTimeout controls whether a timed-out attempt is retried.
	RetryOnTimeout bool `env:"RETRY_ON_TIMEOUT" envDefault:"true"`

	// ShutdownGrace bounds the drain wait during shutdown.
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() []string {
	var warnings []string
	if e.MaxConcurrent < 1 {
		warnings = append(warnings, warnf("EXECUTOR_MAX_CONCURRENT %d below minimum, raised to 1", e.MaxConcurrent))
		e.MaxConcurrent = 1
	}
	if e.MaxConcurrent > 100 {
		warnings = append(warnings, warnf("EXECUTOR_MAX_CONCURRENT %d above maximum, lowered to 100", e.MaxConcurrent))
		e.MaxConcurrent = 100
	}
	if e.Timeout < time.Second {
		warnings = append(warnings, warnf("EXECUTOR_TIMEOUT %s below minimum, raised to 1s", e.Timeout))
		e.Timeout = time.Second
	}
	if e.MaxRetries < 0 {
		warnings = append(warnings, warnf("EXECUTOR_MAX_RETRIES %d negative, raised to 0", e.MaxRetries))
		e.MaxRetries = 0
	}
	if e.MaxRetries > 10 {
		warnings = append(warnings, warnf("EXECUTOR_MAX_RETRIES %d above maximum, lowered to 10", e.MaxRetries))
		e.MaxRetries = 10
	}
	if e.BackoffBase < 10*time.Millisecond {
		warnings = append(warnings, warnf("EXECUTOR_BACKOFF_BASE %s below minimum, raised to 10ms", e.BackoffBase))
		e.BackoffBase = 10 * time.Millisecond
	}
	if e.BackoffMax < e.BackoffBase {
		warnings = append(warnings, warnf("EXECUTOR_BACKOFF_MAX %s below backoff base, raised to %s", e.BackoffMax, e.BackoffBase))
		e.BackoffMax = e.BackoffBase
	}
	if e.QueueTimeout < time.Second {
		warnings = append(warnings, warnf("EXECUTOR_QUEUE_TIMEOUT %s below minimum, raised to 1s", e.QueueTimeout))
		e.QueueTimeout = time.Second
	}
	if e.ShutdownGrace < time.Second {
		warnings = append(warnings, warnf("EXECUTOR_SHUTDOWN_GRACE %s below minimum, raised to 1s", e.ShutdownGrace))
		e.ShutdownGrace = time.Second
	}
	return warnings
}

// ToCore converts to the executor's runtime configuration.
func (e ExecutorConfig) ToCore() core.ExecutorConfig {
	return core.ExecutorConfig{
		MaxConcurrent:  e.MaxConcurrent,
		Timeout:        e.Timeout,
		MaxRetries:     e.MaxRetries,
		BackoffBase:    e.BackoffBase,
		BackoffMax:     e.BackoffMax,
		QueueTimeout:   e.QueueTimeout,
		RetryOnTimeout: e.RetryOnTimeout,
		ShutdownGrace:  e.ShutdownGrace,
	}
}
