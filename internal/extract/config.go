// Package extract reads the published medicines index file and turns it into
// a lazy stream of raw records, filtered against the high-water mark.
package extract

import (
	"errors"
	"strings"
	"time"

	"github.com/epar-io/eparload/internal/config"
)

const (
	// defaultSourceURL points at the published medicines report. The loader
	// consumes the CSV rendition.
	defaultSourceURL = "https://www.ema.europa.eu/en/documents/report/medicines-output-medicines-report_en.csv"

	defaultRequestTimeout = 60 * time.Second
	defaultMaxRetries     = 5
	defaultBatchSize      = 1000
)

// ErrSourceURLEmpty is returned when the index file URL is not configured.
var ErrSourceURLEmpty = errors.New("source URL cannot be empty")

// ErrInvalidBatchSize is returned when the batch size is not positive.
var ErrInvalidBatchSize = errors.New("batch size must be positive")

// Config holds extractor settings.
type Config struct {
	SourceURL      string        // Index file URL
	RequestTimeout time.Duration // Per-request HTTP timeout
	MaxRetries     uint          // Download retry attempts
	BatchSize      int           // Records per bulk-load batch
}

// LoadConfig loads extractor configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		SourceURL:      config.GetEnvStr("EMA_FILE_URL", defaultSourceURL),
		RequestTimeout: config.GetEnvDuration("EXTRACT_REQUEST_TIMEOUT", defaultRequestTimeout),
		MaxRetries:     uint(config.GetEnvInt("EXTRACT_MAX_RETRIES", defaultMaxRetries)),
		BatchSize:      config.GetEnvInt("EXTRACT_BATCH_SIZE", defaultBatchSize),
	}
}

// Validate checks the extractor configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SourceURL) == "" {
		return ErrSourceURLEmpty
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	return nil
}
