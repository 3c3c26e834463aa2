package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
)

// RawRecord is one undecoded feed entry. Numbers are json.Number.
type RawRecord map[string]interface{}

// FeedFetcher retrieves the raw records behind a feed URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]RawRecord, error)
}

// FetcherConfig bounds a fetch. The worst case for one feed is
// MaxAttempts*Timeout plus the backoff delays.
type FetcherConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	// BaseDelay is the wait before the second attempt, doubled for each
	// following one up to MaxDelay. Zero retries immediately.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// RequestsPerSecond throttles attempts across all feeds. Zero disables it.
	RequestsPerSecond float64
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:     3 * time.Second,
		MaxAttempts: 3,
		MaxDelay:    10 * time.Second,
	}
}

// Fetcher performs the HTTP GET of a feed with bounded retries. It has no
// side effects besides the network call.
type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

func NewFetcher(cfg FetcherConfig, logger *logger.Logger) *Fetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetcherConfig().Timeout
	}
	f := &Fetcher{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return f
}

// Fetch retrieves a feed using the configured number of attempts.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]RawRecord, error) {
	return f.FetchWithAttempts(ctx, feedURL, f.config.MaxAttempts)
}

// FetchWithAttempts retries connection errors, non-2xx responses and
// undecodable bodies. Once maxAttempts attempts failed it returns a
// *FetchError matching ErrFetchExhausted. Invalid URLs and cancellation of
// ctx are returned as is, without retrying.
func (f *Fetcher) FetchWithAttempts(ctx context.Context, feedURL string, maxAttempts int) ([]RawRecord, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if err := validateFeedURL(feedURL); err != nil {
		metrics.RecordFetchAttempt("error")
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := f.backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
			}
		}

		records, err := f.fetchOnce(ctx, feedURL)
		if err == nil {
			metrics.RecordFetchAttempt("success")
			return records, nil
		}
		if ctx.Err() != nil {
			metrics.RecordFetchAttempt("error")
			return nil, fmt.Errorf("fetch %s: %w", feedURL, ctx.Err())
		}

		lastErr = err
		f.logger.Warn("Feed fetch attempt %d/%d for %s failed: %v", attempt, maxAttempts, feedURL, err)
		if attempt < maxAttempts {
			metrics.RecordFetchAttempt("retry")
		}
	}

	metrics.RecordFetchAttempt("exhausted")
	return nil, &FetchError{URL: feedURL, Attempts: maxAttempts, Err: lastErr}
}

// fetchOnce performs a single attempt. Every error it returns is transient.
func (f *Fetcher) fetchOnce(ctx context.Context, feedURL string) ([]RawRecord, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()

	var records []RawRecord
	if err := decoder.Decode(&records); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if records == nil {
		return nil, &DecodeError{Err: errors.New("feed body is not a JSON array")}
	}
	return records, nil
}

// backoff waits base*2^(retry-1), capped at MaxDelay.
func (f *Fetcher) backoff(ctx context.Context, retry int) error {
	delay := retryDelay(f.config.BaseDelay, f.config.MaxDelay, retry)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryDelay(base, maxDelay time.Duration, retry int) time.Duration {
	if base <= 0 || retry < 1 {
		return 0
	}
	delay := float64(base) * math.Pow(2, float64(retry-1))
	if maxDelay > 0 && time.Duration(delay) > maxDelay {
		return maxDelay
	}
	return time.Duration(delay)
}

func validateFeedURL(feedURL string) error {
	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidURL, feedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w %q: expected an absolute http(s) URL", ErrInvalidURL, feedURL)
	}
	return nil
}
