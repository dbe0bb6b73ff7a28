package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ridepulse/ridepulse/internal/dispatch"
	"github.com/ridepulse/ridepulse/internal/flags"
	"github.com/ridepulse/ridepulse/internal/geoindex"
	"github.com/ridepulse/ridepulse/internal/lock"
	"github.com/ridepulse/ridepulse/pkg/common"
	"github.com/ridepulse/ridepulse/pkg/config"
	"github.com/ridepulse/ridepulse/pkg/database"
	"github.com/ridepulse/ridepulse/pkg/errors"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/ridepulse/ridepulse/pkg/logger"
	"github.com/ridepulse/ridepulse/pkg/middleware"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"go.uber.org/zap"
)

const (
	serviceName = "dispatch-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment, serviceName); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting dispatch service",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.String("region", cfg.Server.RegionID),
	)

	sentryConfig := errors.DefaultSentryConfig(serviceName)
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}
	if err := database.Migrate(&cfg.Database, migrationsDir); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	bus, err := eventbus.New(eventbus.Config{
		URL:        cfg.NATS.URL,
		Name:       serviceName,
		StreamName: cfg.NATS.StreamName,
	})
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer bus.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flagStore := flags.NewStore(redisClient)
	if err := flagStore.InitDefaults(rootCtx, "default"); err != nil {
		logger.Warn("Failed to seed default feature flags", zap.Error(err))
	}

	index := geoindex.NewIndex(redisClient, cfg.Dispatch.DriverMetadataTTL)
	locker := lock.NewLocker(redisClient)
	repo := dispatch.NewRepository(db)
	service := dispatch.NewService(repo, index, flagStore, locker, bus, cfg.Dispatch)

	scheduler := dispatch.NewTimeoutScheduler(service, repo, cfg.Dispatch.TimeoutSweep)
	go scheduler.Run(rootCtx)

	snapshots := geoindex.NewSnapshotPublisher(index, repo, bus, cfg.Dispatch.SnapshotInterval)
	go snapshots.Run(rootCtx)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.Tenant())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.Idempotency(redisClient))
	dispatch.NewHandler(service).RegisterRoutes(api)
	geoindex.NewHandler(index, bus).RegisterRoutes(api)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Dispatch service listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("Shutting down dispatch service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
