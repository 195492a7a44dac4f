package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"phCanvas/internal/config"
	"phCanvas/internal/metrics"
	"phCanvas/internal/storage"
	"phCanvas/internal/supervisor"
	"phCanvas/internal/tasks"
	"phCanvas/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
	})

	sup := supervisor.New(logger)
	sup.OnClass(supervisor.ClassNullRef, func(ctx context.Context, _ supervisor.Report) error {
		// 空引用多半意味着某个共享句柄失效，重新确认 redis 与对象存储可用。
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("re-establish redis handle: %w", err)
		}
		return storageClient.Ping(ctx)
	})

	previewHandler := worker.NewPreviewTaskHandler(
		storageClient,
		redisClient,
		logger,
		cfg.Internal.Secret,
		cfg.Internal.APIBaseURL,
	)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware(), supervisor.AsynqRecovery(sup))
	mux.Handle(tasks.TypePreviewRender, previewHandler)

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
