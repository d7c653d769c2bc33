// Package snapshot fetches the full current listing set of one item from the
// classifieds snapshot endpoint.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrRateLimited is returned when the source answers 429.
var ErrRateLimited = errors.New("snapshot source rate limited")

// RateLimitError carries the server's Retry-After hint, if any.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %v)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Snapshot is one fetched listing set. Listings stay raw so the caller
// normalizes each entry independently.
type Snapshot struct {
	Listings  []json.RawMessage `json:"listings"`
	CreatedAt float64           `json:"createdAt"`
}

// Created returns CreatedAt as a time; zero if absent.
func (s *Snapshot) Created() time.Time {
	if s.CreatedAt <= 0 {
		return time.Time{}
	}
	sec := int64(s.CreatedAt)
	return time.Unix(sec, int64((s.CreatedAt-float64(sec))*1e9))
}

// Fetcher is what the refresher needs from the snapshot source.
type Fetcher interface {
	Fetch(ctx context.Context, sku string, appID int64) (*Snapshot, error)
}

// Client talks to the snapshot endpoint over HTTP.
type Client struct {
	client *resty.Client
	path   string
	token  string
}

// Config for Client.
type Config struct {
	BaseURL string
	Path    string
	Token   string
	Timeout time.Duration
}

// NewClient creates a snapshot client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/classifieds/listings/snapshot"
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{client: client, path: cfg.Path, token: cfg.Token}
}

// Fetch returns the current snapshot of sku.
func (c *Client) Fetch(ctx context.Context, sku string, appID int64) (*Snapshot, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("sku", sku).
		SetQueryParam("appid", strconv.FormatInt(appID, 10))
	if c.token != "" {
		req.SetQueryParam("token", c.token)
	}

	resp, err := req.Get(c.path)
	if err != nil {
		return nil, fmt.Errorf("snapshot request for %s failed: %w", sku, err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"))}
	}
	if resp.IsError() {
		return nil, fmt.Errorf("snapshot for %s: http %d", sku, resp.StatusCode())
	}

	var snap Snapshot
	if err := json.Unmarshal(resp.Body(), &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot for %s: %w", sku, err)
	}
	return &snap, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var _ Fetcher = (*Client)(nil)
