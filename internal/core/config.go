package core

import "time"

// EngineConfig holds runtime tuning for the scheduling engine.
type EngineConfig struct {
	// SweepInterval is how often the engine scans storage for due tasks
	// that lost their timer (crash recovery, drifted clocks).
	SweepInterval time.Duration
	// Tolerance bounds how far past its fire instant a task may still be
	// executed by the sweep. Beyond it the occurrence is skipped and the
	// schedule recomputed.
	Tolerance time.Duration
	// MaxConcurrent caps how many executions the engine hands to the
	// executor at once. Timer firings beyond the cap are deferred.
	MaxConcurrent int
	// HealthInterval is how often stale timers are detected and purged.
	HealthInterval time.Duration
	// CleanupInterval is how often the timer map is fully resynced
	// against storage.
	CleanupInterval time.Duration
	// MaxTimerDrift is the staleness threshold for the health check: a
	// timer whose fire instant is more than this far in the past never
	// fired and is replaced.
	MaxTimerDrift time.Duration
	// DeferDelay is how long a firing deferred by the concurrency cap
	// waits before it is retried.
	DeferDelay time.Duration
	// StartupDelay is the fire offset applied to tasks already overdue
	// when the engine starts.
	StartupDelay time.Duration
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SweepInterval:   60 * time.Second,
		Tolerance:       5 * time.Minute,
		MaxConcurrent:   5,
		HealthInterval:  5 * time.Minute,
		CleanupInterval: 30 * time.Minute,
		MaxTimerDrift:   60 * time.Second,
		DeferDelay:      30 * time.Second,
		StartupDelay:    time.Second,
	}
}

// ExecutorConfig holds runtime tuning for the task executor.
type ExecutorConfig struct {
	// MaxConcurrent caps simultaneous action dispatches.
	MaxConcurrent int
	// Timeout bounds a single dispatch attempt.
	Timeout time.Duration
	// MaxRetries is how many times a failed attempt is retried. The
	// total attempt count is MaxRetries+1.
	MaxRetries int
	// BackoffBase seeds the exponential retry delay.
	BackoffBase time.Duration
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
	// QueueTimeout bounds how long a submission waits for a free slot.
	QueueTimeout time.Duration
	// RetryOnTimeout controls whether a timed-out attempt is retried
	// like any other transient failure.
	RetryOnTimeout bool
	// ShutdownGrace bounds how long Shutdown waits for in-flight
	// executions to drain.
	ShutdownGrace time.Duration
}

// DefaultExecutorConfig returns the executor defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:  3,
		Timeout:        5 * time.Minute,
		MaxRetries:     3,
		BackoffBase:    time.Second,
		BackoffMax:     30 * time.Second,
		QueueTimeout:   10 * time.Minute,
		RetryOnTimeout: true,
		ShutdownGrace:  30 * time.Second,
	}
}
