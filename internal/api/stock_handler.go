package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"phCanvas/internal/canvas"
	"phCanvas/internal/errcode"
	"phCanvas/internal/session"
	"phCanvas/internal/stock"
)

// StockHandler 暴露图库搜索、图片代理与导入接口。
type StockHandler struct {
	gateway    *stock.Gateway
	downloader *stock.Downloader
	sessions   *session.Manager
	factory    *canvas.Factory
}

func NewStockHandler(gateway *stock.Gateway, downloader *stock.Downloader, sessions *session.Manager, factory *canvas.Factory) *StockHandler {
	return &StockHandler{
		gateway:    gateway,
		downloader: downloader,
		sessions:   sessions,
		factory:    factory,
	}
}

// Search 搜索图库。配额用尽返回 429,上游故障降级为空结果。
func (h *StockHandler) Search(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		BadRequest(c, "q is required")
		return
	}
	q := stock.Query{
		Term:    term,
		Source:  c.Query("source"),
		Page:    queryInt(c, "page"),
		PerPage: queryInt(c, "per_page"),
	}
	result, err := h.gateway.SearchImages(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, stock.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":  errcode.RateLimited,
				"error": "hourly quota exhausted, try again later",
			})
			return
		}
		BadRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// Proxy 同源转发一张外部图片，前端拿不到也碰不到原始域。
func (h *StockHandler) Proxy(c *gin.Context) {
	rawURL := c.Query("url")
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		BadRequest(c, "url must be absolute http(s)")
		return
	}
	data, err := h.downloader.FetchImage(c.Request.Context(), rawURL)
	if err != nil {
		Error(c, http.StatusBadGateway, "image unavailable")
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

type importRequest struct {
	SessionID string  `json:"session_id"`
	Side      string  `json:"side"`
	URL       string  `json:"url"`
	Left      float64 `json:"left"`
	Top       float64 `json:"top"`
}

// Import 把一张图库图片作为图像对象放进指定会话的画布。
// 字节经代理仓落地，装载失败不影响画布上已有的对象。
func (h *StockHandler) Import(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		BadRequest(c, "url must be absolute http(s)")
		return
	}
	s, err := h.sessions.Get(req.SessionID)
	if err != nil {
		NotFound(c, "session not found")
		return
	}

	rec := canvas.Record{
		"type": "image",
		"src":  req.URL,
		"left": req.Left,
		"top":  req.Top,
	}
	obj := h.factory.WithSink(s.Registry.Sink()).FromRecord(c.Request.Context(), rec, "stock")
	if obj == nil {
		Error(c, http.StatusBadGateway, "image could not be loaded")
		return
	}

	apply := func(surface *canvas.Surface) error {
		surface.AddObject(obj)
		return surface.Render()
	}
	if req.Side == "" {
		err = s.Registry.WithActive(apply)
	} else {
		err = s.Registry.WithSurface(req.Side, apply)
	}
	if err != nil {
		if errors.Is(err, canvas.ErrSurfaceNotFound) {
			NotFound(c, "side not found")
			return
		}
		Internal(c, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"object_id": obj.ID})
}
