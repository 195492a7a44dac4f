package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"phCanvas/internal/supervisor"
)

// ErrorsHandler 暴露错误接管器的诊断视图。
type ErrorsHandler struct {
	supervisor *supervisor.Supervisor
}

func NewErrorsHandler(s *supervisor.Supervisor) *ErrorsHandler {
	return &ErrorsHandler{supervisor: s}
}

// Recent 返回最近被接管的错误，最旧的在前。
func (h *ErrorsHandler) Recent(c *gin.Context) {
	reports := h.supervisor.Recent()
	c.JSON(http.StatusOK, gin.H{"count": len(reports), "errors": reports})
}

// Reset 清空错误日志与去重计数。
func (h *ErrorsHandler) Reset(c *gin.Context) {
	h.supervisor.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
