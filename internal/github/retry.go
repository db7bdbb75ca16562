package github

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryOptions configures retry behavior
type RetryOptions struct {
	MaxAttempts int           // Total attempts including the first (default: 3)
	BaseDelay   time.Duration // Initial delay between retries (default: 1s)
	MaxDelay    time.Duration // Maximum delay between retries (default: 30s)
}

// DefaultRetryOptions returns sensible defaults for retry behavior
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// WithRetry executes an operation with jittered exponential backoff.
// It respects context cancellation and the upstream Retry-After header.
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	var result T
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}

		// Don't retry non-retryable errors
		if !isRetryableError(lastErr) {
			return result, lastErr
		}

		if attempt >= opts.MaxAttempts {
			return result, lastErr
		}

		// Exponential backoff: 1s, 2s, 4s... plus up to 50% jitter so
		// concurrent workflows don't retry in lockstep.
		delay := opts.BaseDelay * time.Duration(1<<uint(attempt-1))
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

		// A Retry-After carried in a rate limit error overrides the backoff
		if retryAfter := extractRetryAfter(lastErr); retryAfter > 0 {
			delay = retryAfter
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, lastErr
}

// WithRetryVoid is like WithRetry but for operations that don't return a value.
func WithRetryVoid(ctx context.Context, op func() error, opts RetryOptions) error {
	_, err := WithRetry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, opts)
	return err
}

// isRetryableError determines if an error is transient and should be retried.
// Returns true for:
// - 429 Too Many Requests (rate limiting)
// - 500, 502, 503, 504 (server errors)
// - Network/connection errors
// Returns false for other 4xx (400, 401, 403, 404, 422), which propagate.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	retryableStatuses := []string{
		"status 429", // Rate limited
		"status 500", // Internal Server Error
		"status 502", // Bad Gateway
		"status 503", // Service Unavailable
		"status 504", // Gateway Timeout
	}
	for _, status := range retryableStatuses {
		if strings.Contains(errStr, status) {
			return true
		}
	}

	// Network errors carry no HTTP status
	networkErrors := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"context deadline exceeded",
		"dial tcp",
	}
	errLower := strings.ToLower(errStr)
	for _, netErr := range networkErrors {
		if strings.Contains(errLower, netErr) {
			return true
		}
	}

	return false
}

var retryAfterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)retry.after[:\s]+(\d+)`),
	regexp.MustCompile(`(?i)rate.limit.*?(\d+)\s*seconds?`),
}

// extractRetryAfter extracts the Retry-After duration from a rate limit
// error. Returns 0 if no Retry-After information is found.
func extractRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	errStr := err.Error()
	for _, re := range retryAfterPatterns {
		matches := re.FindStringSubmatch(errStr)
		if len(matches) > 1 {
			if seconds, parseErr := strconv.Atoi(matches[1]); parseErr == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	// 429 without an explicit Retry-After: wait out the default rate limit
	// window of one minute.
	if strings.Contains(errStr, "status 429") {
		return 60 * time.Second
	}

	return 0
}
