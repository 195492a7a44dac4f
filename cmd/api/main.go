package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"phCanvas/internal/api"
	"phCanvas/internal/cache"
	"phCanvas/internal/canvas"
	"phCanvas/internal/config"
	"phCanvas/internal/retry"
	"phCanvas/internal/session"
	"phCanvas/internal/stock"
	"phCanvas/internal/storage"
	"phCanvas/internal/supervisor"
	"phCanvas/internal/template"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       retry.Linear(cfg.Retry.BaseDelay),
	}

	templateRepo := template.NewRepository(cfg.Catalog.BaseURL, catalogCache(cfg, redisClient), logger, template.Options{
		TTL:      cfg.Catalog.CacheTTL,
		Policy:   &policy,
		TagMatch: tagMatcher(cfg),
	})

	limiter := stock.NewLimiter(stock.NewRedisQuota(redisClient), cfg.Stock.HourlyLimit)
	providers := []stock.Provider{
		&stock.Pexels{APIKey: cfg.Stock.PexelsAPIKey, BaseURL: cfg.Stock.ProviderBases["pexels"]},
		&stock.Pixabay{APIKey: cfg.Stock.PixabayAPIKey, BaseURL: cfg.Stock.ProviderBases["pixabay"]},
	}
	stockGateway := stock.NewGateway(providers, limiter, cache.NewRedis(redisClient, "phcanvas"), logger, stock.Options{
		TTL:     cfg.Stock.CacheTTL,
		Policy:  policy,
		PerPage: cfg.Stock.DefaultPerPage,
	})

	downloader := stock.NewDownloader(stock.NewMinIOProxy(storageClient), nil, logger)
	factory := canvas.NewFactory(downloader, logger)

	sessions := session.NewManager(cfg.Session.IdleTTL, logger)
	sessions.OnDestroy(func(id string) {
		// 会话没了，它的预览对象也没有存在的意义。
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := storageClient.DeletePrefix(ctx, "previews/"+id+"/"); err != nil {
			logger.Warn("清理会话预览对象失败", slog.String("session_id", id), slog.Any("error", err))
		}
	})
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx, 5*time.Minute)

	sup := supervisor.New(logger)
	sup.OnClass(supervisor.ClassTemplate, func(ctx context.Context, _ supervisor.Report) error {
		// 目录侧出错时丢掉可能已腐坏的缓存，下一次请求重新拉取。
		return templateRepo.ClearCache(ctx)
	})
	sup.OnClass(supervisor.ClassNetwork, func(ctx context.Context, _ supervisor.Report) error {
		// 网络类故障后缓存里可能躺着残缺响应，模板与图库缓存一起清。
		return errors.Join(templateRepo.ClearCache(ctx), stockGateway.ClearCache(ctx))
	})
	sup.OnClass(supervisor.ClassCanvas, func(_ context.Context, _ supervisor.Report) error {
		// 重建全部存活会话的像素缓冲，每个面只试一次。
		if failed := sessions.ReinitSurfaces(); failed > 0 {
			return fmt.Errorf("canvas reinit: %d sessions still failing", failed)
		}
		return nil
	})
	sup.OnClass(supervisor.ClassNullRef, func(ctx context.Context, _ supervisor.Report) error {
		// 空引用多半意味着某个共享句柄失效，重新确认 redis 与对象存储可用。
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("re-establish redis handle: %w", err)
		}
		return storageClient.Ping(ctx)
	})

	router := api.NewRouter(logger, sup)
	api.RegisterRoutes(router, cfg, sessions, factory, templateRepo, stockGateway, downloader, storageClient, sup, asynqClient, redisClient, logger)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}

func catalogCache(cfg *config.Config, redisClient *redis.Client) cache.Cache {
	if cfg.Catalog.CacheBackend == "memory" {
		return cache.NewMemory()
	}
	return cache.NewRedis(redisClient, "phcanvas")
}

func tagMatcher(cfg *config.Config) template.TagMatcher {
	if cfg.Catalog.SubstringTagMatch {
		return template.SubstringTagMatch
	}
	return template.ExactTagMatch
}
