package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"phCanvas/internal/template"
)

// TemplateHandler 暴露模板目录的查询接口。
type TemplateHandler struct {
	repo *template.Repository
}

func NewTemplateHandler(repo *template.Repository) *TemplateHandler {
	return &TemplateHandler{repo: repo}
}

// ListTemplates 列出模板。目录不可达时返回兜底空模板列表,
// 状态码仍是 200——编辑器侧永远拿得到可装载的东西。
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	filters := template.Filters{
		Category:   c.Query("category"),
		ProductTag: c.Query("product_tag"),
		Search:     c.Query("search"),
		Featured:   c.Query("featured") == "true",
		Page:       queryInt(c, "page"),
		PerPage:    queryInt(c, "per_page"),
	}
	c.JSON(http.StatusOK, h.repo.LoadTemplates(c.Request.Context(), filters))
}

// GetTemplate 返回单条模板记录,templateData 已是规范形状。
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	rec, err := h.repo.LoadTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, template.ErrNotFound) {
			NotFound(c, "template not found")
			return
		}
		Internal(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ClearCache 清空模板缓存。运维接口。
func (h *TemplateHandler) ClearCache(c *gin.Context) {
	if err := h.repo.ClearCache(c.Request.Context()); err != nil {
		Internal(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}
