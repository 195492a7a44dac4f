package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phCanvas/internal/api/middleware"
	"phCanvas/internal/metrics"
	"phCanvas/internal/supervisor"
)

// NewRouter 构建 Gin 路由引擎：关联 ID、结构化日志、指标与
// 错误接管，外加健康检查与 /metrics。
func NewRouter(logger *slog.Logger, sup *supervisor.Supervisor) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
		supervisor.GinRecovery(sup),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
