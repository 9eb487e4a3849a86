package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/render-gate/internal/config"
	"github.com/benvon/render-gate/internal/database"
	"github.com/benvon/render-gate/internal/gate"
	"github.com/benvon/render-gate/internal/handlers"
	"github.com/benvon/render-gate/internal/logger"
	"github.com/benvon/render-gate/internal/middleware"
	"github.com/benvon/render-gate/internal/queue"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/benvon/render-gate/internal/services/admission"
	"github.com/benvon/render-gate/internal/services/oidc"
	"github.com/benvon/render-gate/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("starting_server",
		zap.String("version", version),
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.Int("free_tier_limit", cfg.FreeTierLimit),
		zap.String("edge_rate_limit", cfg.EdgeRateLimit),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)
	for _, class := range ratelimit.Classes {
		limit := cfg.Limits[class]
		zapLogger.Info("limit_class_configured",
			zap.String("class", string(class)),
			zap.Int("max_requests", limit.MaxRequests),
			zap.Duration("window", limit.Window),
		)
	}

	if cfg.OIDCJWKSURL == "" {
		zapLogger.Fatal("oidc_not_configured",
			zap.String("hint", "set OIDC_ISSUER or OIDC_JWKS_URL"),
		)
	}

	tracingEnabled := false
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), telemetry.Options{
				ServiceName:    logger.ServiceName,
				ServiceVersion: version,
				Endpoint:       cfg.OTELEndpoint,
				Insecure:       cfg.OTELInsecure,
				SampleRatio:    cfg.OTELSampleRatio,
			})
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracingEnabled = true
				zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		zapLogger.Fatal("failed_to_ensure_schema", zap.Error(err))
	}
	schemaCancel()
	zapLogger.Info("connected_to_database")

	var redisClient *middleware.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = middleware.NewRedisClient(cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		zapLogger.Info("connected_to_redis")
	} else {
		zapLogger.Warn("redis_not_configured_edge_limits_are_per_instance")
	}

	rabbit := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	var jobQueue queue.JobQueue
	if rabbit != nil {
		jobQueue = rabbit
		defer func() {
			if err := rabbit.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
	}

	// Repositories
	profileRepo := database.NewProfileRepository(db)
	auditRepo := database.NewAuditRepository(db)
	ratelimitConfigRepo := database.NewRatelimitConfigRepository(db)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Enforcement core
	limiter := ratelimit.New(
		ratelimit.WithSweepInterval(cfg.SweepInterval),
		ratelimit.WithLogger(logger.Named(zapLogger, "ratelimit")),
		ratelimit.WithMetrics(ratelimit.NewMetrics(reg)),
	)

	jwksManager := oidc.NewJWKSManager(cfg.OIDCJWKSURL)
	resolver := oidc.NewResolver(oidc.NewVerifier(jwksManager, cfg.OIDCIssuer, cfg.OIDCAudience))

	sinks := gate.MultiSink{gate.NewLogSink(logger.Named(zapLogger, "audit")), auditRepo}
	if rabbit != nil {
		sinks = append(sinks, queue.NewAuditPublisher(rabbit))
	}
	authGate := gate.New(resolver, profileRepo, sinks, logger.Named(zapLogger, "gate"),
		gate.WithAuditTimeout(cfg.AuditTimeout),
	)
	admitter := admission.NewService(authGate, limiter, cfg.Limits, cfg.FreeTierLimit, logger.Named(zapLogger, "admission"), reg)

	var edgeRedis *redis.Client
	if redisClient != nil {
		edgeRedis = redisClient.Client()
	}
	edge, err := middleware.NewEdgeLimiter(edgeRedis, ratelimitConfigRepo, cfg.EdgeRateLimit, logger.Named(zapLogger, "edge"), time.Minute)
	if err != nil {
		zapLogger.Fatal("failed_to_create_edge_limiter", zap.Error(err))
	}

	// Handlers
	healthOpts := []handlers.HealthOption{handlers.WithDatabase(db), handlers.WithIdentityProvider(jwksManager)}
	if redisClient != nil {
		healthOpts = append(healthOpts, handlers.WithRedis(redisClient))
	}
	if jobQueue != nil {
		healthOpts = append(healthOpts, handlers.WithQueue(jobQueue))
	}
	healthChecker := handlers.NewHealthChecker(healthOpts...)
	renderHandler := handlers.NewRenderHandler(admitter, profileRepo, jobQueue, zapLogger)
	quotaHandler := handlers.NewQuotaHandler(admitter, zapLogger)
	meHandler := handlers.NewMeHandler(admitter, zapLogger)
	checkoutHandler := handlers.NewCheckoutHandler(admitter, zapLogger)
	adminHandler := handlers.NewAdminHandler(admitter, profileRepo, zapLogger).WithAudit(sinks)

	r := mux.NewRouter()

	// In gorilla/mux the middleware registered first is the outermost wrapper.
	if tracingEnabled {
		r.Use(otelmux.Middleware(logger.ServiceName))
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(cfg.AllowedOrigins, zapLogger))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	// Public routes
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/version", versionInfo).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	// API v1 routes, throttled per client address before any caller is resolved
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(edge.Middleware())
	renderHandler.RegisterRoutes(apiRouter.PathPrefix("/renders").Subrouter())
	quotaHandler.RegisterRoutes(apiRouter.PathPrefix("/quota").Subrouter())
	meHandler.RegisterRoutes(apiRouter.PathPrefix("/me").Subrouter())
	checkoutHandler.RegisterRoutes(apiRouter.PathPrefix("/checkout").Subrouter())
	adminHandler.RegisterRoutes(apiRouter.PathPrefix("/admin").Subrouter())

	// Preflight requests are answered by the CORS middleware; this only makes them routable.
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   35 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return untilCanceled(limiter.Start(gctx)) })
	g.Go(func() error { return untilCanceled(edge.Start(gctx)) })
	g.Go(func() error {
		resetter := database.NewUsageResetter(profileRepo, cfg.UsageResetInterval, logger.Named(zapLogger, "usage_resetter"))
		return untilCanceled(resetter.Start(gctx))
	})
	g.Go(func() error {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLogger.Error("server_stopped_with_error", zap.Error(err))
	}

	// Let queued audit deliveries finish before the sinks are closed.
	authGate.Close()
	zapLogger.Info("server_exited")
}

// connectRabbitMQ dials the job queue, retrying with exponential backoff to
// ride out broker startup. It returns nil when no URL is configured.
func connectRabbitMQ(url string, zapLogger *zap.Logger) *queue.RabbitMQQueue {
	if url == "" {
		zapLogger.Warn("rabbitmq_not_configured_renders_disabled")
		return nil
	}

	const maxRetries = 10
	const initialDelay = 2 * time.Second
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		q, err := queue.NewRabbitMQQueue(url)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			return q
		}

		lastErr = err
		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}

	zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
		zap.Int("max_retries", maxRetries),
		zap.Error(lastErr),
	)
	return nil
}

func untilCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"version":%q,"timestamp":%q}`, version, time.Now().UTC().Format(time.RFC3339))
}
