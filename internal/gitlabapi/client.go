// Package gitlabapi is a minimal client for the GitLab REST API, covering
// the token lifecycle operations the secrets engine needs: introspection of
// the active token, creation and revocation of personal, project, and group
// access tokens.
package gitlabapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const apiPrefix = "/api/v4"

var (
	ErrNotFound     = errors.New("gitlab: not found")
	ErrAccessDenied = errors.New("gitlab: access denied")
)

// Error is a non-2xx GitLab API response that is not a 401/403/404.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gitlab: %s (status %d)", e.Message, e.StatusCode)
}

// Config holds the settings for a Client.
type Config struct {
	// BaseURL is the GitLab instance URL, e.g. https://gitlab.example.com.
	BaseURL string

	// Token authenticates every request via the PRIVATE-TOKEN header.
	Token string

	// Timeout bounds a single HTTP exchange. Default: 30s.
	Timeout time.Duration

	// MaxRetries is the number of retries on 429 and 5xx responses.
	// Default: 3.
	MaxRetries int

	// RequestsPerSecond paces outgoing requests client-side. Zero disables
	// pacing.
	RequestsPerSecond float64
}

// Client is a GitLab REST API client. Retries with backoff on 429/5xx are
// handled by the underlying retryable HTTP client, which also honors
// Retry-After headers.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("gitlab: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gitlab: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("gitlab: token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = retries
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    rc,
		limiter: limiter,
	}, nil
}

// do performs one API call. p must start with "/" and already be
// URL-encoded where needed (project and group paths). out, when non-nil,
// receives the decoded JSON response body.
func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gitlab: encoding request body: %w", err)
		}
		payload = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+p, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gitlab: building request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gitlab: %s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, p)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrAccessDenied, method, p)
	case resp.StatusCode >= 400:
		return &Error{StatusCode: resp.StatusCode, Message: readAPIMessage(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gitlab: decoding response for %s %s: %w", method, p, err)
		}
	}
	return nil
}

// readAPIMessage pulls the "message" or "error" field out of a GitLab error
// body, falling back to the raw body.
func readAPIMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var parsed struct {
		Message any    `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != nil {
			return fmt.Sprintf("%v", parsed.Message)
		}
	}
	return string(bytes.TrimSpace(raw))
}
