package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DatabaseConfig contains PostgreSQL database configuration. A full URL
// takes precedence over the discrete fields when set.
type DatabaseConfig struct {
	URL      string `env:"URL"`
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"aegis"`
	Password string `env:"PASSWORD" envDefault:"aegis"`
	Name     string `env:"NAME"     envDefault:"aegis"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies the schema during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// Sanitize applies guardrails to database configuration values.
func (c *DatabaseConfig) Sanitize() []string {
	var warnings []string
	c.URL = strings.TrimSpace(c.URL)
	c.Host = strings.TrimSpace(c.Host)
	c.Name = strings.TrimSpace(c.Name)
	if c.Port < 1 || c.Port > 65535 {
		warnings = append(warnings, warnf("DB_PORT %d out of range, reset to 5432", c.Port))
		c.Port = 5432
	}
	return warnings
}

// Configured reports whether enough is set to attempt a connection.
func (c DatabaseConfig) Configured() bool {
	return c.URL != "" || (c.Host != "" && c.Name != "")
}

// DSN returns the connection string. Credentials are URL-escaped so
// special characters in passwords survive.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
