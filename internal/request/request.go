// Package request holds helpers for reading caller details off an *http.Request.
package request

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP from the request, respecting X-Forwarded-For and X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

// ClientHost is ClientIP without a port, suitable as a rate limit key.
func ClientHost(r *http.Request) string {
	ip := ClientIP(r)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// BearerToken returns the token from an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
