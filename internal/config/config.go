package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/validation"
)

// Config holds application configuration
type Config struct {
	DatabaseURL        string
	ServerPort         string
	FrontendURL        string
	AllowedOrigins     []string
	EnableHSTS         bool
	RedisURL           string
	RabbitMQURL        string
	OIDCIssuer         string
	OIDCJWKSURL        string
	OIDCAudience       string
	ServerDebugMode    bool
	OTELEnabled        bool
	OTELEndpoint       string
	OTELInsecure       bool
	OTELSampleRatio    float64 `validate:"gte=0,lte=1"`
	FreeTierLimit      int           `validate:"gte=0"`
	SweepInterval      time.Duration `validate:"gt=0"`
	UsageResetInterval time.Duration `validate:"gt=0"`
	AuditTimeout       time.Duration `validate:"gt=0"`
	EdgeRateLimit      string        `validate:"required,edge_rate"`
	LimitsFile         string
	Limits             ratelimit.Policy
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom loads configuration using getenv to look up variables.
func LoadFrom(getenv func(string) string) (*Config, error) {
	e := &env{lookup: getenv}

	cfg := &Config{
		DatabaseURL:        e.getEnv("DATABASE_URL", ""),
		ServerPort:         e.getEnv("SERVER_PORT", "8080"),
		FrontendURL:        e.getEnv("FRONTEND_URL", "http://localhost:3000"),
		EnableHSTS:         e.getEnvBool("ENABLE_HSTS", false),
		RedisURL:           e.getEnv("REDIS_URL", ""),
		RabbitMQURL:        e.getEnv("RABBITMQ_URL", ""),
		OIDCIssuer:         e.getEnv("OIDC_ISSUER", ""),
		OIDCJWKSURL:        e.getEnv("OIDC_JWKS_URL", ""),
		OIDCAudience:       e.getEnv("OIDC_AUDIENCE", ""),
		ServerDebugMode:    e.getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:        e.getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:       e.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       e.getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELSampleRatio:    e.getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		FreeTierLimit:      e.getEnvInt("FREE_TIER_LIMIT", 5),
		SweepInterval:      e.getEnvDuration("SWEEP_INTERVAL", ratelimit.DefaultSweepInterval),
		UsageResetInterval: e.getEnvDuration("USAGE_RESET_INTERVAL", time.Hour),
		AuditTimeout:       e.getEnvDuration("AUDIT_TIMEOUT", 5*time.Second),
		EdgeRateLimit:      e.getEnv("EDGE_RATE_LIMIT", "20-S"),
		LimitsFile:         e.getEnv("LIMITS_FILE", ""),
	}
	cfg.AllowedOrigins = splitList(cfg.FrontendURL)

	if cfg.OIDCJWKSURL == "" && cfg.OIDCIssuer != "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	limits := ratelimit.DefaultPolicy()
	if cfg.LimitsFile != "" {
		if err := applyLimitsFile(limits, cfg.LimitsFile); err != nil {
			return nil, err
		}
	}
	for _, class := range ratelimit.Classes {
		limits[class] = e.classOverride(class, limits[class])
	}
	cfg.Limits = limits

	if err := e.err(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := validation.Validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validation.ValidatePolicy(cfg.Limits); err != nil {
		return nil, fmt.Errorf("invalid rate limits: %w", err)
	}

	return cfg, nil
}

// splitList returns the non-empty, de-duplicated entries of a comma-separated list.
func splitList(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(raw, ",") {
		s := strings.TrimSpace(p)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// env reads variables through lookup and collects parse errors so Load can
// report every malformed value at once.
type env struct {
	lookup func(string) string
	errs   []error
}

func (e *env) err() error {
	return errors.Join(e.errs...)
}

func (e *env) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(e.lookup(key)); value != "" {
		return value
	}
	return defaultValue
}

func (e *env) getEnvBool(key string, defaultValue bool) bool {
	if value := e.lookup(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func (e *env) getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(e.lookup(key))
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return intValue
}

func (e *env) getEnvFloat(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(e.lookup(key))
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, value))
		return defaultValue
	}
	return f
}

func (e *env) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(e.lookup(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}

// classOverride applies RATE_LIMIT_<CLASS>_MAX and RATE_LIMIT_<CLASS>_WINDOW_MS.
func (e *env) classOverride(class ratelimit.Class, base ratelimit.LimitConfig) ratelimit.LimitConfig {
	prefix := "RATE_LIMIT_" + strings.ToUpper(string(class))
	base.MaxRequests = e.getEnvInt(prefix+"_MAX", base.MaxRequests)
	windowMS := e.getEnvInt(prefix+"_WINDOW_MS", int(base.Window/time.Millisecond))
	base.Window = time.Duration(windowMS) * time.Millisecond
	return base
}
