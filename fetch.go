package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html/charset"

	"github.com/newshub/resolver/metrics"
)

// StatusError reports a non-200 response. Any non-200 is retryable from
// the fetcher's point of view; the portal answers rate-limited clients
// with transient 4xx pages as often as with 5xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// ErrFetchFailed wraps the last attempt's error once retries are exhausted.
var ErrFetchFailed = errors.New("fetch failed")

// fetchHTML GETs rawURL and returns the body decoded to UTF-8, retrying
// transport errors and non-200 responses with exponential backoff.
// referer is attached when the request originates from anchor-following;
// the portal's anti-bot heuristics check it.
func (r *Resolver) fetchHTML(ctx context.Context, rawURL, referer string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.FetchRetriesTotal.Inc()
			delay := r.config.RetryBaseDelay << (attempt - 1)
			if err := r.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		body, err := r.fetchOnce(ctx, rawURL, referer)
		if err == nil {
			metrics.FetchesTotal.WithLabelValues("ok").Inc()
			return body, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	metrics.FetchesTotal.WithLabelValues("error").Inc()
	return "", fmt.Errorf("%w: %s after %d attempts: %w", ErrFetchFailed, rawURL, r.config.MaxRetries, lastErr)
}

func (r *Resolver) fetchOnce(ctx context.Context, rawURL, referer string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.config.UserAgent)
	req.Header.Set("Accept-Language", r.config.AcceptLanguage)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("resolver.fetch.url", rawURL),
		attribute.Bool("resolver.fetch.has_referer", referer != ""),
	)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode}
	}

	// Portal pages are usually UTF-8 but legacy subdomains still serve
	// EUC-KR; decode by declared charset rather than assuming.
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("failed to decode body of %s: %w", rawURL, err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}
	return string(body), nil
}

// FetchImage downloads a profile image with a size cap, for mirroring
// into local or object storage. Returns the bytes and the content type.
func (r *Resolver) FetchImage(ctx context.Context, imageURL, referer string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.config.UserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &StatusError{Code: resp.StatusCode}
	}
	if resp.ContentLength > r.config.MaxImageBytes {
		return nil, "", fmt.Errorf("image too large: %d bytes (max %d)", resp.ContentLength, r.config.MaxImageBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.config.MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image %s: %w", imageURL, err)
	}
	if int64(len(data)) > r.config.MaxImageBytes {
		return nil, "", fmt.Errorf("image too large: exceeds %d bytes", r.config.MaxImageBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// sleepContext waits for d or until ctx is cancelled. It is the default
// sleep policy; tests inject a recording replacement.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
