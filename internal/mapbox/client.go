package mapbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the production Mapbox API endpoint.
const DefaultBaseURL = "https://api.mapbox.com"

// Common errors.
var (
	ErrUnauthorized = errors.New("mapbox: access token rejected")
	ErrForbidden    = errors.New("mapbox: access forbidden")
	ErrNotFound     = errors.New("mapbox: style or tile not found")
	ErrBadRequest   = errors.New("mapbox: request rejected")
	ErrRateLimited  = errors.New("mapbox: rate limited")
	ErrServerError  = errors.New("mapbox: server error")
)

// Options configures the tile client.
type Options struct {
	// BaseURL is the API endpoint. Default: DefaultBaseURL.
	BaseURL string

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts per tile.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:             DefaultBaseURL,
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
		RetryAttempts:       5,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// TileRequest identifies one raster tile.
type TileRequest struct {
	StyleID  string
	Zoom     int
	X, Y     int
	TileSize int // 256 or 512
	Token    string
}

// URL returns the request URL relative to the given base.
func (r TileRequest) URL(base string) string {
	q := url.Values{}
	q.Set("access_token", r.Token)
	return fmt.Sprintf("%s/styles/v1/mapbox/%s/tiles/%d/%d/%d/%d?%s",
		base, r.StyleID, r.TileSize, r.Zoom, r.X, r.Y, q.Encode())
}

// Client fetches raster tiles with retry on transient failures.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new tile client with the given options.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// GetTile fetches one tile and returns its raw raster bytes.
//
// Transient conditions (network errors, 429, 5xx) are retried with
// exponential backoff up to Options.RetryAttempts. Permanent conditions
// (4xx other than 429) return immediately with a typed error.
func (c *Client) GetTile(ctx context.Context, req TileRequest) ([]byte, error) {
	tileURL := req.URL(c.opts.BaseURL)

	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if IsPermanent(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("tile request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrServerError, code)
	default:
		return fmt.Errorf("%w: status %d", ErrBadRequest, code)
	}
}

// IsPermanent reports whether err would fail identically for every tile
// of the run (credential or style rejected), as opposed to a transient
// condition worth retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadRequest)
}
