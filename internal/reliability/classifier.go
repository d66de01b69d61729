package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrMalformedResponse marks an upstream body that could not be decoded into
// the expected shape.
var ErrMalformedResponse = errors.New("malformed upstream response")

// StatusError is returned by HTTP clients for non-2xx upstream responses.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s http status %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s http status %d: %s", e.Service, e.Code, e.Body)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify reduces an upstream failure to a short reason usable as a metric
// label: canceled, timeout, status, malformed, transport or unknown.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "status"
	}
	if errors.Is(err, ErrMalformedResponse) {
		return "malformed"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "transport"
	}
	return "unknown"
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
