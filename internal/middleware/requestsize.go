package middleware

import (
	"fmt"
	"net/http"
)

// DefaultMaxRequestSize bounds request bodies. Render parameters are small.
const DefaultMaxRequestSize int64 = 64 << 10

// MaxRequestSize rejects bodies whose declared length exceeds maxBytes and
// caps the reader for bodies sent without a length.
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}
	message := fmt.Sprintf("Request body must not exceed %d bytes", maxBytes)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				respondErrorJSON(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", message, nil)
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
