package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"phCanvas/internal/api/middleware"
	"phCanvas/internal/canvas"
	"phCanvas/internal/config"
	"phCanvas/internal/session"
	"phCanvas/internal/stock"
	"phCanvas/internal/storage"
	"phCanvas/internal/supervisor"
	"phCanvas/internal/template"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	sessions *session.Manager,
	factory *canvas.Factory,
	templateRepo *template.Repository,
	stockGateway *stock.Gateway,
	downloader *stock.Downloader,
	storageClient *storage.Client,
	sup *supervisor.Supervisor,
	asynqClient *asynq.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
) {
	sinkFor := func(sessionID string) canvas.EventSink {
		return NewRedisEventSink(redisClient, sessionID, logger)
	}
	designHandler := NewDesignHandler(sessions, factory, templateRepo, asynqClient, storageClient, sinkFor, cfg, logger)
	templateHandler := NewTemplateHandler(templateRepo)
	stockHandler := NewStockHandler(stockGateway, downloader, sessions, factory)
	errorsHandler := NewErrorsHandler(sup)
	wsHandler := NewWsHandler(redisClient, sessions, logger, cfg.API.AllowedOrigins)
	internalSecret := middleware.InternalSecretMiddleware(cfg.Internal.Secret)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		sessionGroup := v1.Group("/sessions")
		{
			sessionGroup.POST("", designHandler.CreateSession)
			sessionGroup.GET("/:id", designHandler.GetSession)
			sessionGroup.DELETE("/:id", designHandler.DestroySession)
			sessionGroup.POST("/:id/sides", designHandler.CreateSide)
			sessionGroup.GET("/:id/sides/:side", designHandler.GetSideSnapshot)
			sessionGroup.POST("/:id/sides/:side/activate", designHandler.ActivateSide)
			sessionGroup.POST("/:id/objects", designHandler.AddObject)
			sessionGroup.PATCH("/:id/objects/:objectID", designHandler.ModifyObject)
			sessionGroup.DELETE("/:id/objects/:objectID", designHandler.RemoveObject)
			sessionGroup.POST("/:id/selection/:objectID", designHandler.SelectObject)
			sessionGroup.DELETE("/:id/selection", designHandler.ClearSelection)
			sessionGroup.POST("/:id/undo", designHandler.Undo)
			sessionGroup.POST("/:id/viewport", designHandler.UpdateViewport)
			sessionGroup.POST("/:id/template", designHandler.ApplyTemplate)
			sessionGroup.GET("/:id/design", designHandler.GetDesignData)
			sessionGroup.POST("/:id/preview", designHandler.EnqueuePreview)
			sessionGroup.GET("/:id/previews", designHandler.ListPreviews)
		}

		templateGroup := v1.Group("/templates")
		{
			templateGroup.GET("", templateHandler.ListTemplates)
			templateGroup.GET("/:id", templateHandler.GetTemplate)
			templateGroup.DELETE("/cache", templateHandler.ClearCache)
		}

		stockGroup := v1.Group("/stock")
		{
			stockGroup.GET("/search", stockHandler.Search)
			stockGroup.GET("/proxy", stockHandler.Proxy)
			stockGroup.POST("/import", stockHandler.Import)
		}

		errorsGroup := v1.Group("/errors")
		{
			errorsGroup.GET("", errorsHandler.Recent)
			errorsGroup.DELETE("", errorsHandler.Reset)
		}

		internalGroup := v1.Group("/internal")
		internalGroup.Use(internalSecret)
		{
			internalGroup.GET("/sessions/:id/snapshot", designHandler.InternalSnapshot)
		}
	}
}
