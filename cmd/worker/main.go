// Package main runs a standalone migration worker pool, for deployments that
// scale workers separately from the API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridian-school/backend/config"
	"github.com/meridian-school/backend/internal/events"
	"github.com/meridian-school/backend/internal/migrate"
	"github.com/meridian-school/backend/internal/provider"
	"github.com/meridian-school/backend/internal/registry"
	"github.com/meridian-school/backend/pkg/database"
	"github.com/meridian-school/backend/pkg/queue"
	"github.com/meridian-school/backend/pkg/redis"
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

	registryRepo := registry.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	eventSink := events.NewPublisher(rdb.Client, logger)

	policy := migrate.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   cfg.Worker.BackoffBase,
		MaxDelay:    cfg.Worker.BackoffMax,
	}
	processor := migrate.NewProcessor(registryRepo, providerClient, s3Client, jobQueue, eventSink, policy, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Run(workerCtx)
		}()
	}
	logger.Info("worker started", zap.Int("concurrency", cfg.Worker.Concurrency))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
