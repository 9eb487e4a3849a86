package middleware

import (
	"net/http"
	"time"

	logpkg "github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/request"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Logging creates logging middleware. It assigns a request id when the
// caller did not send one and echoes it on the response.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("request_id", logpkg.SanitizeString(requestID, 64)),
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.String("ip", logpkg.SanitizeString(request.ClientHost(r), 64)),
				zap.Int("status_code", wrapped.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				logger.Error("http_request", fields...)
				return
			}
			logger.Info("http_request", fields...)
		})
	}
}
