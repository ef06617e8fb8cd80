package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldline/dispatch/internal/dedup"
	"github.com/fieldline/dispatch/internal/dispatch"
	"github.com/fieldline/dispatch/internal/geo"
	"github.com/fieldline/dispatch/internal/nlu"
	"github.com/fieldline/dispatch/internal/scheduling"
	"github.com/fieldline/dispatch/internal/travel"
	"github.com/fieldline/dispatch/pkg/cache"
	"github.com/fieldline/dispatch/pkg/common"
	"github.com/fieldline/dispatch/pkg/config"
	apperrors "github.com/fieldline/dispatch/pkg/errors"
	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/middleware"
	"github.com/fieldline/dispatch/pkg/ratelimit"
	redisClient "github.com/fieldline/dispatch/pkg/redis"
	"github.com/fieldline/dispatch/pkg/resilience"
	"github.com/fieldline/dispatch/pkg/tracing"
	_ "github.com/fieldline/dispatch/pkg/validation"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	serviceName = "dispatch-service"
	version     = "1.0.0"
)

// Exit codes for configuration failures, so process supervisors can tell
// a bad setting from a missing provider credential.
const (
	exitInvalidConfig     = 2
	exitMissingCredential = 3
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(configExitCode(err))
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(configExitCode(err))
	}

	if err := logger.Init(cfg.Server.Environment, cfg.Server.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting dispatch service",
		zap.String("service", serviceName),
		zap.String("version", version),
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sentryConfig := apperrors.DefaultSentryConfig()
	if cfg.Telemetry.SentryDSN != "" {
		sentryConfig.DSN = cfg.Telemetry.SentryDSN
	}
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := apperrors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Sentry not initialized, continuing without error tracking", zap.Error(err))
	} else {
		defer apperrors.Flush(2 * time.Second)
		logger.Info("Sentry error tracking initialized")
	}

	if cfg.Telemetry.OTelEnabled {
		tp, err := tracing.InitTracer(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
			SampleRate:     1,
			Enabled:        true,
		}, logger.Get())
		if err != nil {
			logger.Warn("Tracer not initialized, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized")
		}
	}

	// Redis backs the shared replay cache, the rate limiter and the
	// geocode/travel memo layer. With the in-memory dedup backend and no
	// rate limit the service runs without it.
	var redis *redisClient.Client
	var cacheManager *cache.Manager
	if cfg.Dedup.Backend == "redis" || cfg.RateLimit.Enabled {
		redis, err = redisClient.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
		cacheManager = cache.NewManager(redis)
		logger.Info("Connected to Redis")
	}

	newBreaker := func(provider string) *resilience.CircuitBreaker {
		s := cfg.Resilience.CircuitBreaker.SettingsFor(provider)
		return resilience.NewCircuitBreaker(
			resilience.BuildSettings(serviceName+"-"+provider, s.IntervalSeconds, s.ResetMS, s.OpenAfter, s.SuccessThreshold),
			nil,
		)
	}

	var geocodeBreaker, llmBreaker, trafficBreaker *resilience.CircuitBreaker

	var geocoder geo.Geocoder
	if cfg.Geocoding.Enabled() {
		geocodeBreaker = newBreaker("geocoding")
		g, err := geo.NewGoogleGeocoder(cfg.Geocoding.APIKey, cfg.Geocoding.Timeout(), geocodeBreaker)
		if err != nil {
			logger.Fatal("Failed to build geocoding client", zap.Error(err))
		}
		geocoder = g
	} else {
		logger.Warn("GEOCODING_KEY not set, addresses are taken at face value")
	}
	resolver := geo.NewResolver(geocoder, cacheManager)

	var llmProvider nlu.Provider
	if cfg.LLM.Enabled() {
		llmBreaker = newBreaker("llm")
		switch cfg.LLM.Provider {
		case "gemini":
			p, err := nlu.NewGeminiProvider(rootCtx, cfg.LLM, llmBreaker)
			if err != nil {
				logger.Fatal("Failed to build Gemini client", zap.Error(err))
			}
			llmProvider = p
		default:
			llmProvider = nlu.NewOpenAIProvider(cfg.LLM, llmBreaker)
		}
	} else {
		logger.Warn("LLM_KEY not set, extraction runs on keyword rules only")
	}
	extractor := nlu.NewExtractor(llmProvider, cfg.LLM.Timeout())

	var traffic travel.TrafficClient
	if cfg.Traffic.Enabled() {
		trafficBreaker = newBreaker("traffic")
		tc, err := travel.NewGoogleTraffic(cfg.Traffic.APIKey, cfg.Traffic.Timeout(), trafficBreaker)
		if err != nil {
			logger.Fatal("Failed to build traffic client", zap.Error(err))
		}
		traffic = tc
	}
	engine := scheduling.NewEngine(travel.NewEstimator(traffic, cacheManager))

	var store dedup.Store
	if cfg.Dedup.Backend == "redis" {
		store = dedup.NewRedisStore(redis, cfg.Dedup.RedisPrefix, cfg.Dedup.TTL())
	} else {
		store = dedup.NewMemoryStore(cfg.Dedup.Capacity, cfg.Dedup.TTL())
	}
	defer store.Close()

	service := dispatch.NewService(extractor, resolver, engine)
	handler := dispatch.NewHandler(service, store)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(common.NoRouteHandler())
	router.NoMethod(common.NoMethodHandler())
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Pipeline.RequestDeadline()))
	router.Use(middleware.MaxBodySize(cfg.Server.MaxBodyBytes))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())
	if cfg.Telemetry.OTelEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}
	router.Use(middleware.ErrorHandler())

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(redis.Client, cfg.RateLimit)
		router.Use(middleware.RateLimit(limiter, cfg.RateLimit))
		logger.Info("Rate limiting enabled",
			zap.Int("per_minute", cfg.RateLimit.PerMinute),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	providerStatus := func() map[string]string {
		status := func(enabled bool, breaker *resilience.CircuitBreaker) string {
			switch {
			case !enabled:
				return common.ProviderOff
			case !breaker.Allow():
				return common.ProviderOpen
			default:
				return common.ProviderOK
			}
		}
		return map[string]string{
			"geocoding": status(cfg.Geocoding.Enabled(), geocodeBreaker),
			"llm":       status(cfg.LLM.Enabled(), llmBreaker),
			"traffic":   status(cfg.Traffic.Enabled(), trafficBreaker),
		}
	}

	router.GET("/health", common.HealthCheck(serviceName, version, providerStatus))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	readinessChecks := make(map[string]func() error)
	if redis != nil {
		readinessChecks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redis.Client.Ping(ctx).Err()
		}
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, readinessChecks))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// configExitCode distinguishes a malformed setting from a credential a
// required provider needs.
func configExitCode(err error) int {
	var missing *config.MissingCredentialError
	if errors.As(err, &missing) {
		return exitMissingCredential
	}
	return exitInvalidConfig
}
