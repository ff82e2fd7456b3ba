// Package apiclient is the filesync client's HTTP client for the sync
// server's REST API (spec.md §6). Grounded on onedrive-go's
// internal/graph.Client: same retry-with-backoff loop, the same
// TokenSource seam, and the same seekable-body-rewind-on-retry trick,
// retargeted from Microsoft Graph to this project's own /api routes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "filesync-client/0.1"
)

// TokenSource supplies the bearer token to attach to every request. The
// client never refreshes tokens itself; callers rotate the underlying
// source's value after a successful /auth/refresh call.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource backed by a mutable string, the common case
// for a single logged-in client identity.
type StaticToken struct {
	value string
}

// NewStaticToken returns a TokenSource seeded with value.
func NewStaticToken(value string) *StaticToken {
	return &StaticToken{value: value}
}

// Token implements TokenSource.
func (t *StaticToken) Token() (string, error) {
	return t.value, nil
}

// Set rotates the stored token, used after a successful refresh.
func (t *StaticToken) Set(value string) {
	t.value = value
}

// Client talks to one sync server's /api surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates an apiclient.Client. baseURL is the server's own /api root,
// e.g. "http://localhost:8080/api" (spec.md §6 client.properties default).
func New(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// requestOpts customizes one call of doRetry beyond method/path/body.
type requestOpts struct {
	headers    http.Header
	unauth     bool // skip Authorization header (login/register/refresh)
	contentLen int64
}

// do executes an authenticated request with retry on transient failures.
// The caller must close the response body on success.
func (c *Client) do(ctx context.Context, method, path string, body io.ReadSeeker, opts requestOpts) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int

	for {
		if body != nil {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("apiclient: rewinding request body: %w", err)
			}
		}

		resp, err := c.doOnce(ctx, method, url, body, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("apiclient: request canceled: %w", ctx.Err())
			}

			if attempt >= maxRetries {
				return nil, fmt.Errorf("apiclient: %s %s failed after %d retries: %w", method, path, maxRetries, err)
			}

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after network error",
				slog.String("method", method), slog.String("path", path),
				slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff), slog.String("error", err.Error()))

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("apiclient: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		if resp.StatusCode < http.StatusBadRequest {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method), slog.String("path", path),
				slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff))

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("apiclient: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(errBody), Err: classifyStatus(resp.StatusCode)}
	}
}

func (c *Client) doOnce(ctx context.Context, method, url string, body io.ReadSeeker, opts requestOpts) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = body
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if !opts.unauth && c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", userAgent)

	for key, vals := range opts.headers {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// retryBackoff honors Retry-After on 429 (spec.md §5 per-request throttling
// is server-side; the client simply respects whatever it is told).
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jsonBody marshals v into a seekable reader suitable for do().
func jsonBody(v any) (io.ReadSeeker, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("apiclient: marshaling request body: %w", err)
	}

	return bytes.NewReader(data), nil
}
