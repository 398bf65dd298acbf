package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry tuning shared by all concrete providers. Base 1s, factor 2x, max
// 60s, ±25% jitter, matching the teacher's graph.Client backoff schedule.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per
// "accept interfaces, return structs" — concrete providers hold one, the
// credential package implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPClient is a small retrying HTTP client shared by the Spotify and
// Tidal provider implementations. It classifies terminal errors into the
// sentinel/structured errors in errors.go instead of leaking raw status
// codes or parsing response bodies for markers.
type HTTPClient struct {
	ProviderName string
	BaseURL      string
	HTTP         *http.Client
	Token        TokenSource
	Logger       *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient constructs an HTTPClient with sensible defaults.
func NewHTTPClient(name, baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPClient{
		ProviderName: name,
		BaseURL:      baseURL,
		HTTP:         httpClient,
		Token:        token,
		Logger:       logger,
		sleepFunc:    sleepCtx,
	}
}

// Do executes an authenticated request against path, retrying transient
// failures with exponential backoff and surfacing rate limits as a
// *RateLimitedError rather than a bare HTTP error.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.BaseURL + path

	var attempt int

	refreshedAuth := false

	for {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: request canceled: %w", c.ProviderName, ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.Logger.Warn("retrying after network error",
					slog.String("provider", c.ProviderName),
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("%s: request canceled: %w", c.ProviderName, sleepErr)
				}

				attempt++

				continue
			}

			return nil, &APIError{Provider: c.ProviderName, Message: err.Error(), Err: ErrTransientNetwork}
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitedError{Provider: c.ProviderName, RetryAfter: retryAfter(resp)}
		}

		if resp.StatusCode == http.StatusUnauthorized && !refreshedAuth {
			refreshedAuth = true

			c.Logger.Warn("unauthorized, refreshing token and retrying once",
				slog.String("provider", c.ProviderName),
				slog.String("method", method),
				slog.String("path", path),
			)

			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &APIError{
				Provider:   c.ProviderName,
				StatusCode: resp.StatusCode,
				Message:    string(errBody),
				Err:        ErrPermanentNetwork,
			}
		}

		if IsRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.calcBackoff(attempt)
			c.Logger.Warn("retrying after HTTP error",
				slog.String("provider", c.ProviderName),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("%s: request canceled: %w", c.ProviderName, sleepErr)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			Provider:   c.ProviderName,
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        ClassifyStatus(resp.StatusCode),
		}
	}
}

func (c *HTTPClient) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.Token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.HTTP.Do(req)
}

func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return 0
}

func (c *HTTPClient) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
