package supervisor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// GinRecovery 替代 gin 自带的 Recovery:panic 进入接管器分类
// 与恢复流程，客户端收到统一的 500 响应。
func GinRecovery(s *Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				s.Capture(c.Request.Context(), err, c.FullPath())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

// AsynqRecovery 包住任务处理器:panic 转为任务失败而不是进程崩溃,
// 普通错误也走一遍分类与恢复。
func AsynqRecovery(s *Supervisor) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic: %v", rec)
					s.Capture(ctx, err, task.Type())
				}
			}()
			if err = next.ProcessTask(ctx, task); err != nil {
				s.Capture(ctx, err, task.Type())
			}
			return err
		})
	}
}
