package middleware

import (
	"net/http"
	"strings"
)

// ContentType requires application/json on POST, PATCH and PUT requests that carry a body.
func ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength > 0 || (r.ContentLength < 0 && r.Body != nil && r.Body != http.NoBody)
		if hasBody && (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) {
			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				respondErrorJSON(w, r, http.StatusBadRequest, "Bad Request", "Content-Type header is required", nil)
				return
			}
			if !strings.HasPrefix(strings.ToLower(contentType), "application/json") {
				respondErrorJSON(w, r, http.StatusUnsupportedMediaType, "Unsupported Media Type", "Content-Type must be application/json", nil)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
