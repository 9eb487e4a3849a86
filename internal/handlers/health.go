package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker handles health check requests
type HealthChecker struct {
	checks []dependencyCheck
}

type dependencyCheck struct {
	name  string
	check func(ctx context.Context) error
}

// HealthOption adds a dependency to the extended health check.
type HealthOption func(*HealthChecker)

// WithDatabase checks the database with PingContext.
func WithDatabase(db interface{ PingContext(context.Context) error }) HealthOption {
	return func(h *HealthChecker) {
		h.checks = append(h.checks, dependencyCheck{"database", db.PingContext})
	}
}

// WithRedis checks the edge limiter's Redis store.
func WithRedis(r interface{ Ping(context.Context) error }) HealthOption {
	return func(h *HealthChecker) {
		h.checks = append(h.checks, dependencyCheck{"redis", r.Ping})
	}
}

// WithQueue checks the render job queue.
func WithQueue(q interface{ HealthCheck(context.Context) error }) HealthOption {
	return func(h *HealthChecker) {
		h.checks = append(h.checks, dependencyCheck{"queue", q.HealthCheck})
	}
}

// WithIdentityProvider checks that the provider's key set is reachable.
func WithIdentityProvider(p interface{ Ping(context.Context) error }) HealthOption {
	return func(h *HealthChecker) {
		h.checks = append(h.checks, dependencyCheck{"identity_provider", p.Ping})
	}
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles the /healthz endpoint. With ?mode=extended every
// configured dependency is checked and any failure answers 503.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if r.URL.Query().Get("mode") == "extended" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response.Checks = make(map[string]string, len(h.checks))
		for _, c := range h.checks {
			if err := c.check(ctx); err != nil {
				response.Status = "unhealthy"
				// Dependency errors can carry connection strings.
				response.Checks[c.name] = "unhealthy"
				continue
			}
			response.Checks[c.name] = "healthy"
		}
		if response.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
