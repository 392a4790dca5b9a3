// Package main runs the recording pipeline HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridian-school/backend/config"
	"github.com/meridian-school/backend/internal/accounts"
	"github.com/meridian-school/backend/internal/events"
	"github.com/meridian-school/backend/internal/ingest"
	"github.com/meridian-school/backend/internal/middleware"
	"github.com/meridian-school/backend/internal/migrate"
	"github.com/meridian-school/backend/internal/provider"
	"github.com/meridian-school/backend/internal/reaper"
	"github.com/meridian-school/backend/internal/registry"
	"github.com/meridian-school/backend/internal/sessions"
	"github.com/meridian-school/backend/pkg/database"
	"github.com/meridian-school/backend/pkg/queue"
	"github.com/meridian-school/backend/pkg/redis"
	"github.com/meridian-school/backend/pkg/response"
	"github.com/meridian-school/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Bucket:               cfg.AWS.RecordingsBucket,
		PublicPlayback:       cfg.AWS.PublicPlayback,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	providerClient := provider.NewClient(provider.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		APISecret:      cfg.Provider.APISecret,
		RequestTimeout: cfg.Provider.RequestTimeout,
	}, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	eventSink := events.NewPublisher(rdb.Client, logger)

	// Host account pool
	accountRepo := accounts.NewRepository(pool)
	allocator := accounts.NewAllocator(accountRepo, logger)
	reconciler := accounts.NewReconciler(accountRepo, providerClient, cfg.Accounts.ReconcileInterval, logger)

	// Recording registry + ingest
	registryRepo := registry.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	ingestor := ingest.NewIngestor(registryRepo, jobQueue, logger)
	webhookHandler := ingest.NewWebhookHandler(ingestor, cfg.Provider.WebhookSecret, logger)
	poller := ingest.NewPoller(sessionRepo, providerClient, ingestor,
		cfg.Ingest.PollInterval, cfg.Ingest.PollWindow, logger)

	// Migration worker pool
	policy := migrate.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   cfg.Worker.BackoffBase,
		MaxDelay:    cfg.Worker.BackoffMax,
	}
	processor := migrate.NewProcessor(registryRepo, providerClient, s3Client, jobQueue, eventSink, policy, logger)

	// Reaper (source deletion)
	reap := reaper.New(registryRepo, s3Client, providerClient, eventSink,
		cfg.Reaper.SweepInterval, cfg.Reaper.SweepLimit, logger)

	sessionHandler := sessions.NewHandler(sessionRepo, allocator, registryRepo, logger)
	accountHandler := accounts.NewHandler(accountRepo, reconciler, logger)
	recordingHandler := registry.NewHandler(registryRepo, jobQueue, reap, poller, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Webhooks (HMAC signature checked in handler, no bearer auth)
	router.POST("/webhooks/recordings", webhookHandler.HandleRecordingCompleted)

	api := router.Group("/api/v1")
	api.Use(middleware.OperatorKey(cfg.Operator.APIKeyHash))
	sessionHandler.Routes(api)

	admin := router.Group("/admin")
	admin.Use(middleware.OperatorKey(cfg.Operator.APIKeyHash))
	accountHandler.Routes(admin)
	recordingHandler.Routes(admin)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		go processor.Run(bgCtx)
	}
	logger.Info("migration workers started", zap.Int("concurrency", cfg.Worker.Concurrency))

	go reconciler.Run(bgCtx)
	go poller.Run(bgCtx)
	go reap.Run(bgCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
