package config

import "strings"

// RedisConfig contains Redis configuration for the event bridge.
// Direct, sentinel, and cluster topologies are supported; direct is the
// default.
type RedisConfig struct {
	// Enabled turns the Redis event bridge on. Feature flags decide
	// which events consumers care about; this decides the transport.
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// EventChannel is the pub/sub channel bus events are mirrored to.
	EventChannel string `env:"EVENT_CHANNEL" envDefault:"aegis:events"`

	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// Sanitize applies guardrails to Redis configuration values.
func (c *RedisConfig) Sanitize() []string {
	var warnings []string
	c.URI = strings.TrimSpace(c.URI)
	c.EventChannel = strings.TrimSpace(c.EventChannel)
	if c.EventChannel == "" {
		warnings = append(warnings, warnf("REDIS_EVENT_CHANNEL empty, reset to aegis:events"))
		c.EventChannel = "aegis:events"
	}
	return warnings
}

// Configured reports whether enough is set to attempt a connection for
// the selected topology.
func (c RedisConfig) Configured() bool {
	switch {
	case c.UseCluster:
		return len(c.ClusterNodes) > 0 || c.URI != ""
	case c.UseSentinel:
		return len(c.SentinelNodes) > 0
	default:
		return c.URI != ""
	}
}
