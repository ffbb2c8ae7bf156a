// Package storage provides the PostgreSQL reference implementation of the
// load subsystem's ports: the bulk merge adapter and the execution ledger.
package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/epar-io/eparload/internal/config"
)

const (
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 2
	defaultConnMaxLifetime   = 30 * time.Minute
	defaultConnMaxIdleTime   = 10 * time.Minute
	defaultStaleRunningAfter = 6 * time.Hour
)

// ErrDatabaseURLEmpty is returned when the database url is an empty string.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL connection configuration with production-ready defaults.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections

	// StaleRunningAfter bounds how long a RUNNING ledger entry may linger
	// before BeginRun reconciles it as FAILED (crashed process recovery).
	StaleRunningAfter time.Duration
}

// LoadConfig loads PostgreSQL configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:       config.GetEnvStr("DATABASE_URL", ""), // databaseURL stays private: it carries credentials
		MaxOpenConns:      config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:      config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:   config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime:   config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		StaleRunningAfter: config.GetEnvDuration("LEDGER_STALE_RUNNING_AFTER", defaultStaleRunningAfter),
	}
}

// NewConfig creates a Config with the given URL and default pool settings.
// Used by tests and by callers that resolve the URL themselves.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:       databaseURL,
		MaxOpenConns:      defaultMaxOpenConns,
		MaxIdleConns:      defaultMaxIdleConns,
		ConnMaxLifetime:   defaultConnMaxLifetime,
		ConnMaxIdleTime:   defaultConnMaxIdleTime,
		StaleRunningAfter: defaultStaleRunningAfter,
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		// No @ found, no userinfo
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		// No password
		return c.databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
