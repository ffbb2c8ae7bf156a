// Package docs finds, downloads, and hashes the documents attached to an
// EPAR page, storing their bytes through internal/blob and emitting metadata
// rows for the loader. Document work is best effort per page: one broken
// page never fails the run.
package docs

import (
	"errors"
	"time"

	"github.com/epar-io/eparload/internal/config"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 4
	defaultParallelism    = 4
)

// ErrInvalidParallelism is returned when the worker bound is not positive.
var ErrInvalidParallelism = errors.New("parallelism must be positive")

// Config holds document pipeline settings.
type Config struct {
	RequestTimeout time.Duration
	MaxRetries     uint

	// Parallelism bounds how many EPAR pages are processed concurrently.
	Parallelism int
}

// LoadConfig loads document pipeline configuration from environment
// variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		RequestTimeout: config.GetEnvDuration("DOCS_REQUEST_TIMEOUT", defaultRequestTimeout),
		MaxRetries:     uint(config.GetEnvInt("DOCS_MAX_RETRIES", defaultMaxRetries)),
		Parallelism:    config.GetEnvInt("DOCS_PARALLELISM", defaultParallelism),
	}
}

// Validate checks the document pipeline configuration.
func (c *Config) Validate() error {
	if c.Parallelism <= 0 {
		return ErrInvalidParallelism
	}

	return nil
}
