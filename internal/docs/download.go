package docs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/epar-io/eparload/internal/blob"
)

// Downloader fetches pages and documents with bounded retries and stores
// document bytes through a blob.Store.
type Downloader struct {
	config *Config
	client *http.Client
	store  blob.Store
	logger *slog.Logger
}

// NewDownloader creates a downloader. A nil client gets a default one with
// the configured request timeout.
func NewDownloader(config *Config, client *http.Client, store blob.Store, logger *slog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{config: config, client: client, store: store, logger: logger}
}

// FetchPage downloads an EPAR page's HTML.
func (d *Downloader) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	return d.get(ctx, pageURL)
}

// Download fetches one document, stores its bytes under
// <eparID>/<filename>, and returns the storage location and hex SHA-256 of
// the content.
func (d *Downloader) Download(ctx context.Context, eparID, docURL string) (location, hash string, err error) {
	body, err := d.get(ctx, docURL)
	if err != nil {
		return "", "", err
	}

	sum := sha256.Sum256(body)
	hash = hex.EncodeToString(sum[:])

	key := eparID + "/" + filenameFromURL(docURL)

	location, err = d.store.Put(ctx, key, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("store document %s: %w", docURL, err)
	}

	return location, hash, nil
}

// get performs one HTTP GET with exponential-backoff retries. 4xx responses
// are permanent.
func (d *Downloader) get(ctx context.Context, rawURL string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request for %s: %w", rawURL, err))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rawURL, err)
		}

		return body, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.config.MaxRetries)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		d.logger.Warn("document fetch failed, retrying",
			slog.Any("error", err),
			slog.Duration("backoff", wait),
		)
	}

	return backoff.RetryNotifyWithData(operation, policy, notify)
}

// filenameFromURL derives a storage filename from the document URL's last
// path segment.
func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "document.pdf"
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "document.pdf"
	}

	return name
}
