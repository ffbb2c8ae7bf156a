// Package spor looks up standardized organisation and substance identifiers
// in the SPOR registries to enrich extracted records. Lookups are best
// effort: an unreachable registry degrades records to un-enriched, it never
// fails the run.
package spor

import (
	"errors"
	"strings"
	"time"

	"github.com/epar-io/eparload/internal/config"
)

const (
	defaultBaseURL        = "https://spor.ema.europa.eu/rmswi/api"
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 4
	defaultRatePerSecond  = 5.0
	defaultBurst          = 5
)

// ErrBaseURLEmpty is returned when the registry URL is not configured.
var ErrBaseURLEmpty = errors.New("SPOR base URL cannot be empty")

// Config holds SPOR client settings. Username and password stay private so
// they cannot leak through logging.
type Config struct {
	BaseURL        string
	TenancyName    string
	RequestTimeout time.Duration
	MaxRetries     uint

	// RatePerSecond and Burst bound the request rate against the registry.
	RatePerSecond float64
	Burst         int

	username string
	password string
}

// LoadConfig loads SPOR client configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		BaseURL:        config.GetEnvStr("SPOR_API_URL", defaultBaseURL),
		TenancyName:    config.GetEnvStr("SPOR_TENANCY_NAME", ""),
		RequestTimeout: config.GetEnvDuration("SPOR_REQUEST_TIMEOUT", defaultRequestTimeout),
		MaxRetries:     uint(config.GetEnvInt("SPOR_MAX_RETRIES", defaultMaxRetries)),
		RatePerSecond:  config.GetEnvFloat("SPOR_RATE_PER_SECOND", defaultRatePerSecond),
		Burst:          config.GetEnvInt("SPOR_RATE_BURST", defaultBurst),
		username:       config.GetEnvStr("SPOR_USERNAME", ""),
		password:       config.GetEnvStr("SPOR_PASSWORD", ""),
	}
}

// NewConfig creates a Config with explicit credentials and default limits.
// Used by tests.
func NewConfig(baseURL, username, password string) *Config {
	return &Config{
		BaseURL:        baseURL,
		RequestTimeout: defaultRequestTimeout,
		MaxRetries:     defaultMaxRetries,
		RatePerSecond:  defaultRatePerSecond,
		Burst:          defaultBurst,
		username:       username,
		password:       password,
	}
}

// Validate checks the SPOR configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrBaseURLEmpty
	}

	return nil
}
