package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Fetcher downloads the medicines index file over HTTP with bounded
// exponential-backoff retries.
type Fetcher struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher. A nil client gets a default one with the
// configured request timeout.
func NewFetcher(config *Config, client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{config: config, client: client, logger: logger}
}

// Fetch downloads the configured index file into memory and returns a reader
// over its bytes. The file is a few megabytes; holding it in memory keeps the
// CSV parse independent of connection lifetime. Server errors and transport
// failures are retried; 4xx responses are permanent.
func (f *Fetcher) Fetch(ctx context.Context) (io.Reader, error) {
	operation := func() (io.Reader, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.SourceURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build index request: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch index file: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("fetch index file: unexpected status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read index file: %w", err)
		}

		return bytes.NewReader(body), nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.config.MaxRetries)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		f.logger.Warn("index download failed, retrying",
			slog.Any("error", err),
			slog.Duration("backoff", wait),
		)
	}

	return backoff.RetryNotifyWithData(operation, policy, notify)
}
