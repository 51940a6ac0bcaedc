package issuer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// BackoffDelay returns the delay before retry number attempt (0-based):
// base, 2*base, 4*base, ...
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base << uint(attempt)
}

// retryableError marks an error as worth retrying. httpStatusError carries
// the issuer's HTTP status so 5xx can be classified without string matching.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("issuer returned HTTP %d", e.status)
}

// isRetryable classifies transport-level failures that a second attempt may
// clear: 5xx responses, timeouts, refused/reset connections and DNS failures.
// Anything else (4xx, malformed responses) fails immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}

// doWithRetry runs op, retrying retryable failures up to maxRetries extra
// times with exponential backoff. Non-retryable errors and context
// cancellation propagate immediately.
func doWithRetry[T any](ctx context.Context, maxRetries int, base time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt >= maxRetries {
			return zero, lastErr
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(BackoffDelay(base, attempt)):
		}
	}
}
