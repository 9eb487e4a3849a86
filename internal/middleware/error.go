package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	logpkg "github.com/benvon/render-gate/internal/logger"
	"go.uber.org/zap"
)

// ErrorResponse is the body written by middleware that answers on its own.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler recovers handler panics and answers with a generic internal_error.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error("panic_recovered",
					zap.Any("panic", p),
					zap.String("request_id", logpkg.SanitizeString(w.Header().Get(RequestIDHeader), 64)),
					zap.String("path", logpkg.SanitizePath(r.URL.Path)),
					zap.String("method", r.Method),
					zap.Stack("stack"),
				)
				respondErrorJSON(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred", logger)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// respondErrorJSON writes an ErrorResponse. logger may be nil.
func respondErrorJSON(w http.ResponseWriter, r *http.Request, status int, errorType, message string, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := ErrorResponse{
		Error:     errorType,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      logpkg.SanitizePath(r.URL.Path),
		RequestID: w.Header().Get(RequestIDHeader),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil && logger != nil {
		logger.Error("failed_to_encode_error_response",
			zap.Error(err),
			zap.Int("status_code", status),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
		)
	}
}
