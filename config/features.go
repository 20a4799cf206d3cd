package config

// FeatureFlags toggles optional subsystems. Every flag is accepted and
// plumbed; none is required for the scheduler core to function.
type FeatureFlags struct {
	// DST keeps next-fire computation aware of daylight-saving
	// transitions. Disabling it is not supported and only logged.
	DST bool `env:"ENABLE_DST" envDefault:"true"`

	// AdvancedRetries enables classified exponential-backoff retries.
	// Disabled, failed attempts are never retried.
	AdvancedRetries bool `env:"ENABLE_ADVANCED_RETRIES" envDefault:"true"`

	// Persistence stores tasks in PostgreSQL instead of memory.
	Persistence bool `env:"ENABLE_PERSISTENCE" envDefault:"false"`

	// Distributed mirrors bus events to Redis for external consumers.
	Distributed bool `env:"ENABLE_DISTRIBUTED" envDefault:"false"`

	// PerformanceMonitoring emits StatsD metrics.
	PerformanceMonitoring bool `env:"ENABLE_PERFORMANCE_MONITORING" envDefault:"false"`

	// Analytics mirrors execution events to Redis for analytics
	// consumers. Implies the Redis bridge when Redis is configured.
	Analytics bool `env:"ENABLE_ANALYTICS" envDefault:"false"`

	// FailureNotifications mirrors failure events to Redis for
	// notification consumers.
	FailureNotifications bool `env:"ENABLE_FAILURE_NOTIFICATIONS" envDefault:"false"`
}

// WantsEventBridge reports whether any enabled feature needs bus events
// mirrored to Redis.
func (f FeatureFlags) WantsEventBridge() bool {
	return f.Distributed || f.Analytics || f.FailureNotifications
}
