package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical/page-pipeline/internal/observability"
)

// RetryConfig bounds how often a transient inference failure is retried.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig retries twice, starting at one second.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// backoff doubles per attempt and is capped at MaxBackoff.
func (rc *RetryConfig) backoff(attempt int) time.Duration {
	d := rc.InitialBackoff
	for i := 0; i < attempt && d < rc.MaxBackoff; i++ {
		d *= 2
	}
	if d > rc.MaxBackoff {
		d = rc.MaxBackoff
	}
	return d
}

// retryableStatus reports whether an inference server status is transient.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter reads a Retry-After header given in seconds, capped at max.
func retryAfter(resp *http.Response, max time.Duration) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > max {
		d = max
	}
	return d, true
}

// send issues the request produced by newReq until it succeeds, fails
// permanently or the retry budget is spent. A transient status on the final
// attempt is returned as-is so the caller can classify it.
func (c *Client) send(ctx context.Context, newReq func() (*http.Response, error)) (*http.Response, error) {
	rc := c.retry
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := newReq()
		final := attempt >= rc.MaxRetries
		wait := rc.backoff(attempt)
		reason := "transport"

		if err != nil {
			if ctx.Err() != nil || final {
				return nil, err
			}
			lastErr = err
		} else {
			if !retryableStatus(resp.StatusCode) || final {
				return resp, nil
			}
			if d, ok := retryAfter(resp, rc.MaxBackoff); ok {
				wait = d
			}
			reason = strconv.Itoa(resp.StatusCode)
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			resp.Body.Close()
		}

		observability.InferenceRetries.WithLabelValues(string(c.stage), reason).Inc()
		c.logger.Warn().Int("attempt", attempt+1).Int("max_retries", rc.MaxRetries).
			Dur("backoff", wait).Err(lastErr).Msg("inference request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
