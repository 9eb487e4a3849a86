package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benvon/render-gate/internal/database"
	logpkg "github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

const edgeStorePrefix = "render_gate_edge"

// EdgeLimiter throttles requests per client IP before any credential is
// looked at. The rate is reloaded periodically from the database so operators
// can tighten it without a restart. It is a coarse first line; per-caller
// limits are enforced by the admission service.
type EdgeLimiter struct {
	store       limiter.Store
	repo        database.RatelimitConfigSource
	defaultRate string
	log         *zap.Logger
	interval    time.Duration

	mu      sync.RWMutex
	rateStr string
	mw      *stdlibmw.Middleware
}

type edgeNextKey struct{}

// NewEdgeLimiter creates an edge limiter. With a nil redisClient counters
// live in process memory. repo may be nil, in which case defaultRate is fixed.
func NewEdgeLimiter(redisClient *redis.Client, repo database.RatelimitConfigSource, defaultRate string, log *zap.Logger, reloadInterval time.Duration) (*EdgeLimiter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rate, err := limiter.NewRateFromFormatted(defaultRate)
	if err != nil {
		return nil, fmt.Errorf("parse default edge rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = redisstore.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: edgeStorePrefix})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
	} else {
		store = memorystore.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          edgeStorePrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
	}

	e := &EdgeLimiter{
		store:       store,
		repo:        repo,
		defaultRate: defaultRate,
		log:         log,
		interval:    reloadInterval,
	}
	e.setRate(rate, defaultRate)
	return e, nil
}

// setRate swaps in a limiter for rate. It reports whether the rate changed;
// an unchanged rate keeps the current middleware and its limiter.
func (e *EdgeLimiter) setRate(rate limiter.Rate, rateStr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mw != nil && e.rateStr == rateStr {
		return false
	}
	e.mw = stdlibmw.NewMiddleware(limiter.New(e.store, rate),
		stdlibmw.WithKeyGetter(request.ClientHost),
		stdlibmw.WithLimitReachedHandler(e.limitReached),
		stdlibmw.WithErrorHandler(e.storeError),
	)
	e.rateStr = rateStr
	return true
}

func (e *EdgeLimiter) current() *stdlibmw.Middleware {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mw
}

// Rate returns the rate currently enforced.
func (e *EdgeLimiter) Rate() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rateStr
}

// Middleware wraps next with the edge limit.
func (e *EdgeLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), edgeNextKey{}, next)
			e.current().Handler(next).ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (e *EdgeLimiter) limitReached(w http.ResponseWriter, r *http.Request) {
	if reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if wait := time.Until(time.Unix(reset, 0)); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
		}
	}
	respondErrorJSON(w, r, http.StatusTooManyRequests, string(models.ReasonRateLimited), models.ReasonRateLimited.Message(), e.log)
}

// storeError lets the request through when the counter store is unreachable.
// The per-caller limiter still applies downstream.
func (e *EdgeLimiter) storeError(w http.ResponseWriter, r *http.Request, err error) {
	e.log.Warn("edge_rate_limit_store_error",
		zap.String("path", logpkg.SanitizePath(r.URL.Path)),
		zap.String("error", logpkg.SanitizeError(err)),
	)
	if next, ok := r.Context().Value(edgeNextKey{}).(http.Handler); ok {
		next.ServeHTTP(w, r)
		return
	}
	respondErrorJSON(w, r, http.StatusServiceUnavailable, "Service Unavailable", "Rate limiter unavailable", e.log)
}

// Start reloads the rate every interval until ctx is cancelled.
func (e *EdgeLimiter) Start(ctx context.Context) error {
	e.Reload(ctx)
	if e.interval <= 0 || e.repo == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Reload(ctx)
		}
	}
}

// Reload fetches the stored edge rate. Missing or invalid values fall back to the default.
func (e *EdgeLimiter) Reload(ctx context.Context) {
	if e.repo == nil {
		return
	}
	rateStr := e.defaultRate
	cfg, err := e.repo.Get(ctx, database.EdgeRateKey)
	switch {
	case err != nil:
		e.log.Warn("failed_to_load_edge_rate_using_default",
			zap.Error(err),
			zap.String("default_rate", e.defaultRate),
		)
	case cfg != nil && cfg.Rate != "":
		rateStr = cfg.Rate
	}

	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		e.log.Error("failed_to_parse_edge_rate_using_default",
			zap.Error(err),
			zap.String("rate_str", logpkg.SanitizeString(rateStr, 64)),
		)
		rateStr = e.defaultRate
		rate, _ = limiter.NewRateFromFormatted(rateStr)
	}

	if e.setRate(rate, rateStr) {
		e.log.Info("edge_rate_reloaded", zap.String("rate", rateStr))
	}
}
