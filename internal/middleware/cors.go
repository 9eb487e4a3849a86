package middleware

import (
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// CORS returns middleware allowing browser calls from allowedOrigins.
// Preflight requests are answered directly.
func CORS(allowedOrigins []string, logger *zap.Logger) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	if logger != nil {
		logger.Info("cors_configured", zap.Strings("allowed_origins", allowedOrigins))
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	})
	return c.Handler
}
