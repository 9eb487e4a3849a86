package middleware

import (
	"net/http"
	"time"
)

const (
	// DefaultRequestTimeout is the default request timeout
	DefaultRequestTimeout = 30 * time.Second
)

const timeoutBody = `{"success":false,"error":"Service Unavailable","message":"Request timed out"}`

// Timeout bounds handler execution. The request context is cancelled when
// the deadline passes and the caller receives a 503 JSON error.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, timeoutBody)
	}
}
