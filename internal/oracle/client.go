// Package oracle fetches reference prices from HTTP price endpoints.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpkeeper/internal/retry"
)

// DefaultTimeout bounds a single price request.
const DefaultTimeout = 30 * time.Second

// Config configures the oracle client.
type Config struct {
	Timeout time.Duration
	Retry   retry.Policy
}

// Client reads prices over HTTP with a bounded retry. Server errors and
// rate limiting are retried; client errors and malformed bodies are not.
type Client struct {
	httpClient *http.Client
	policy     retry.Policy
	onRetry    retry.OnRetry
	logger     *slog.Logger
}

// NewClient creates an oracle client. A zero timeout uses DefaultTimeout and
// a zero retry policy uses retry.DefaultPolicy.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     cfg.Retry,
		logger:     logger.With(slog.String("component", "oracle")),
	}
}

// OnRetry registers a callback invoked before every retry.
func (c *Client) OnRetry(fn retry.OnRetry) { c.onRetry = fn }

// Price fetches the price published at url. The body may be a bare number,
// a numeric string, or an object carrying "price" or "current_price".
func (c *Client) Price(ctx context.Context, url string) (decimal.Decimal, error) {
	return retry.DoValue(ctx, c.policy, func(ctx context.Context) (decimal.Decimal, error) {
		return c.fetch(ctx, url)
	}, func(attempt int, err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "oracle request failed, retrying",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if c.onRetry != nil {
			c.onRetry(attempt, err, wait)
		}
	})
}

func (c *Client) fetch(ctx context.Context, url string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, retry.Permanent(fmt.Errorf("oracle: create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: read %s: %w", url, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return decimal.Zero, fmt.Errorf("oracle: GET %s: status %d", url, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, retry.Permanent(fmt.Errorf("oracle: GET %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	price, err := ParsePrice(body)
	if err != nil {
		return decimal.Zero, retry.Permanent(fmt.Errorf("oracle: %s: %w", url, err))
	}
	return price, nil
}

var errNoPrice = errors.New("no price in response")

// ParsePrice extracts a price from an oracle response body.
func ParsePrice(body []byte) (decimal.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return decimal.Zero, fmt.Errorf("decode price: %w", err)
	}
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case map[string]any:
		for _, key := range []string{"price", "current_price"} {
			if raw, ok := t[key]; ok {
				switch p := raw.(type) {
				case json.Number:
					return decimal.NewFromString(p.String())
				case string:
					return decimal.NewFromString(strings.TrimSpace(p))
				}
			}
		}
	}
	return decimal.Zero, errNoPrice
}
