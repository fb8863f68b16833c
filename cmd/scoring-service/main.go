// Package main is the entry point for the Scoring Service.
// The Scoring Service evaluates fraud risk for account-lifecycle events:
// device fingerprint history, behavioral drift, geographic anomalies and
// SIM-swap patterns, mapped to an allow/challenge/block decision.
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trustsignal/trustsignal/internal/api"
	"github.com/trustsignal/trustsignal/internal/common/config"
	"github.com/trustsignal/trustsignal/internal/common/database"
	"github.com/trustsignal/trustsignal/internal/common/logger"
	"github.com/trustsignal/trustsignal/internal/geo"
	"github.com/trustsignal/trustsignal/internal/metrics"
	"github.com/trustsignal/trustsignal/internal/middleware"
	"github.com/trustsignal/trustsignal/internal/scoring"
	"github.com/trustsignal/trustsignal/internal/server"
	"github.com/trustsignal/trustsignal/internal/store"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

const maxGeoPoints = 50

func main() {
	// Initialize logger
	log := logger.New()
	defer log.Sync()

	log.Info("Starting Scoring Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	// Load configuration
	cfg, err := config.Load("scoring-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg.LogSecurityWarnings(log)

	scoringCfg := buildScoringConfig(cfg)

	// Initialize the profile store and geo resolver per the configured backend
	var profileStore store.ProfileStore
	var resolver geo.Resolver
	var shutdownables []server.Shutdownable
	var redisRateLimiter *redis.Client

	switch cfg.StoreBackend {
	case "postgres":
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		shutdownables = append(shutdownables, server.CloseDB(db))
		profileStore = store.NewPostgresStore(db, maxGeoPoints, log)

		// Geo resolution still caches through Redis when available
		rdb, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, geo lookups will not be cached", zap.Error(err))
			resolver = geo.NewCachedResolver(nil, cfg.GeoIPServiceURL, cfg.GeoIPCacheTTL, log)
		} else {
			shutdownables = append(shutdownables, server.CloseRedis(rdb))
			resolver = geo.NewCachedResolver(rdb, cfg.GeoIPServiceURL, cfg.GeoIPCacheTTL, log)
			redisRateLimiter = rdb.Client
		}

	case "redis":
		rdb, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		shutdownables = append(shutdownables, server.CloseRedis(rdb))
		profileStore = store.NewRedisStore(rdb, maxGeoPoints, log)
		resolver = geo.NewCachedResolver(rdb, cfg.GeoIPServiceURL, cfg.GeoIPCacheTTL, log)
		redisRateLimiter = rdb.Client

	default: // memory
		profileStore = store.NewMemoryStore(maxGeoPoints)
		resolver = geo.NewCachedResolver(nil, cfg.GeoIPServiceURL, cfg.GeoIPCacheTTL, log)
	}

	pipeline := scoring.NewPipeline(profileStore, resolver, scoringCfg, log)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID())
	router.Use(logger.GinMiddleware(log))
	router.Use(middleware.CORSWithOrigins(cfg.GetCORSOrigins()...))
	if cfg.EnableRateLimit && redisRateLimiter != nil {
		router.Use(middleware.SlidingWindowRateLimit(redisRateLimiter, middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitRequests,
			Window:            time.Duration(cfg.RateLimitWindow) * time.Second,
		}))
	}
	router.Use(api.StandardVersionMiddleware())
	router.Use(metrics.Middleware("scoring-service"))

	// Metrics endpoint
	router.GET("/metrics", metrics.Handler())

	// Register scoring routes
	handler := scoring.NewHandler(pipeline, log)
	scoring.RegisterRoutes(router, handler)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scoring-service",
			"version": Version,
		})
	})

	// Readiness check endpoint
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "backend": cfg.StoreBackend})
	})

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	graceful := server.New(server.Config{
		Server:        httpServer,
		Logger:        log,
		Shutdownables: shutdownables,
	})

	if err := graceful.ListenAndServe(); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}

	log.Info("Server exited")
}

// buildScoringConfig overlays the deployment tunables onto the scoring
// defaults. Zero config values keep the documented default.
func buildScoringConfig(cfg *config.Config) scoring.Config {
	sc := scoring.DefaultConfig()
	t := cfg.Scoring

	if t.SimilarityThreshold > 0 {
		sc.SimilarityThreshold = t.SimilarityThreshold
	}
	if t.MinBaselineSamples > 0 {
		sc.MinBaselineSamples = t.MinBaselineSamples
	}
	if t.MaxTravelSpeedKmH > 0 {
		sc.MaxTravelSpeedKmH = t.MaxTravelSpeedKmH
	}
	if t.MinJumpDistanceKm > 0 {
		sc.MinJumpDistanceKm = t.MinJumpDistanceKm
	}
	if t.VelocityThreshold > 0 {
		sc.VelocityThreshold = t.VelocityThreshold
	}
	if t.VelocityWindow > 0 {
		sc.VelocityWindow = t.VelocityWindow
	}
	if t.MinSimAge > 0 {
		sc.MinSimAge = t.MinSimAge
	}
	if t.LookupTimeout > 0 {
		sc.LookupTimeout = t.LookupTimeout
	}
	if t.SoftDeadline > 0 {
		sc.SoftDeadline = t.SoftDeadline
	}
	if t.NoLearnOnBlock != nil {
		sc.NoLearnOnBlock = *t.NoLearnOnBlock
	}

	return sc
}
