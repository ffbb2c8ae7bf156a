package spor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Organisation is one OMS registry entry.
type Organisation struct {
	OMSID       string `json:"orgId"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode"`
}

// Substance is one SMS registry entry.
type Substance struct {
	SMSID string `json:"smsId"`
	Name  string `json:"name"`
}

// searchPageSize requests two items: one to use, one to detect ambiguity.
const searchPageSize = 2

// Client queries the SPOR registries. Safe for use from a single run
// goroutine; the auth token is lazily fetched and reused.
type Client struct {
	config  *Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a SPOR client. A nil httpClient gets a default one with
// the configured request timeout.
func NewClient(config *Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:  config,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		logger:  logger,
	}, nil
}

// SearchOrganisation resolves a marketing authorization holder name to its
// OMS entry. Returns nil without error when the registry has no match or
// more than one: only a single high-confidence hit enriches a record.
func (c *Client) SearchOrganisation(ctx context.Context, cache *Cache, name string) (*Organisation, error) {
	if name == "" {
		return nil, nil
	}

	if org, ok := cache.organisation(name); ok {
		return org, nil
	}

	var payload struct {
		Items []Organisation `json:"items"`
	}

	if err := c.search(ctx, "/v1/spor/oms/organisations", name, &payload); err != nil {
		return nil, err
	}

	org := singleMatch(payload.Items)
	cache.putOrganisation(name, org)

	if org != nil {
		c.logger.Debug("organisation enriched",
			slog.String("name", name),
			slog.String("oms_id", org.OMSID),
		)
	}

	return org, nil
}

// SearchSubstance resolves an active substance name to its SMS entry, under
// the same single-match rule as organisations.
func (c *Client) SearchSubstance(ctx context.Context, cache *Cache, name string) (*Substance, error) {
	if name == "" {
		return nil, nil
	}

	if sub, ok := cache.substance(name); ok {
		return sub, nil
	}

	var payload struct {
		Items []Substance `json:"items"`
	}

	if err := c.search(ctx, "/v1/spor/sms/substances", name, &payload); err != nil {
		return nil, err
	}

	sub := singleMatch(payload.Items)
	cache.putSubstance(name, sub)

	return sub, nil
}

// singleMatch returns the only item, or nil when there are zero or several.
func singleMatch[T any](items []T) *T {
	if len(items) != 1 {
		return nil
	}

	return &items[0]
}

// search performs one authenticated, rate-limited registry query with
// bounded retries.
func (c *Client) search(ctx context.Context, path, name string, out any) error {
	operation := func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		token, err := c.authenticate(ctx)
		if err != nil {
			return struct{}{}, err
		}

		query := url.Values{}
		query.Set("name", name)
		query.Set("pageSize", fmt.Sprint(searchPageSize))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.config.BaseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("build search request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("search %s: %w", path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			// Token expired; drop it so the next attempt re-authenticates.
			c.invalidateToken()

			return struct{}{}, fmt.Errorf("search %s: token rejected", path)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return struct{}{}, backoff.Permanent(fmt.Errorf("search %s: status %d", path, resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return struct{}{}, fmt.Errorf("search %s: status %d", path, resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("decode search response: %w", err)
		}

		return struct{}{}, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.config.MaxRetries)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("SPOR request failed, retrying",
			slog.String("path", path),
			slog.Any("error", err),
			slog.Duration("backoff", wait),
		)
	}

	_, err := backoff.RetryNotifyWithData(operation, policy, notify)

	return err
}

// authenticate returns the cached bearer token, fetching one on first use.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"username":    c.config.username,
		"password":    c.config.password,
		"tenancyName": c.config.TenancyName,
	})
	if err != nil {
		return "", fmt.Errorf("encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/Account", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authenticate: status %d", resp.StatusCode)
	}

	var payload struct {
		Result struct {
			AccessToken string `json:"accessToken"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}

	if payload.Result.AccessToken == "" {
		return "", fmt.Errorf("authenticate: empty access token")
	}

	c.token = payload.Result.AccessToken

	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
