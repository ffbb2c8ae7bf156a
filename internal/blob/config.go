package blob

import (
	"errors"
	"fmt"
	"strings"

	"github.com/epar-io/eparload/internal/config"
)

// Backend tags.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

const defaultLocalPath = "epar_documents"

// Config errors.
var (
	ErrBackendEmpty   = errors.New("storage backend cannot be empty")
	ErrLocalPathEmpty = errors.New("local storage path cannot be empty")
	ErrBucketEmpty    = errors.New("S3 bucket cannot be empty")
)

// Config selects and parameterizes the document storage backend.
type Config struct {
	Backend string // "local" or "s3"

	LocalPath string // Root directory for the local backend

	S3Bucket   string // Bucket for the s3 backend
	S3Region   string
	S3Endpoint string // Optional custom endpoint (S3-compatible stores)

	// Static credentials for S3-compatible stores that sit outside the AWS
	// credential chain. Private: they must never be logged.
	s3AccessKey string
	s3SecretKey string
}

// LoadConfig loads storage configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Backend:    config.GetEnvStr("DOCUMENT_STORAGE_BACKEND", BackendLocal),
		LocalPath:  config.GetEnvStr("DOCUMENT_STORAGE_PATH", defaultLocalPath),
		S3Bucket:   config.GetEnvStr("DOCUMENT_S3_BUCKET", ""),
		S3Region:   config.GetEnvStr("DOCUMENT_S3_REGION", ""),
		S3Endpoint: config.GetEnvStr("DOCUMENT_S3_ENDPOINT", ""),

		s3AccessKey: config.GetEnvStr("DOCUMENT_S3_ACCESS_KEY", ""),
		s3SecretKey: config.GetEnvStr("DOCUMENT_S3_SECRET_KEY", ""),
	}
}

// StaticCredentials reports whether explicit S3 credentials were configured
// instead of relying on the default AWS chain.
func (c *Config) StaticCredentials() bool {
	return c.s3AccessKey != "" && c.s3SecretKey != ""
}

// Validate checks the storage configuration for the selected backend.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendLocal:
		if strings.TrimSpace(c.LocalPath) == "" {
			return ErrLocalPathEmpty
		}
	case BackendS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			return ErrBucketEmpty
		}
	case "":
		return ErrBackendEmpty
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	return nil
}
