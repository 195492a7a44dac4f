package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"phCanvas/internal/api/middleware"
	"phCanvas/internal/canvas"
	"phCanvas/internal/config"
	"phCanvas/internal/errcode"
	"phCanvas/internal/session"
	"phCanvas/internal/storage"
	"phCanvas/internal/tasks"
	"phCanvas/internal/template"
)

// DesignHandler 承载设计会话与画布对象的全部 HTTP 操作。
type DesignHandler struct {
	sessions    *session.Manager
	factory     *canvas.Factory
	templates   *template.Repository
	asynqClient *asynq.Client
	storage     *storage.Client
	sinkFor     func(sessionID string) canvas.EventSink
	cfg         *config.Config
	logger      *slog.Logger
}

func NewDesignHandler(
	sessions *session.Manager,
	factory *canvas.Factory,
	templates *template.Repository,
	asynqClient *asynq.Client,
	storageClient *storage.Client,
	sinkFor func(sessionID string) canvas.EventSink,
	cfg *config.Config,
	logger *slog.Logger,
) *DesignHandler {
	if sinkFor == nil {
		sinkFor = func(string) canvas.EventSink { return canvas.NopSink{} }
	}
	return &DesignHandler{
		sessions:    sessions,
		factory:     factory,
		templates:   templates,
		asynqClient: asynqClient,
		storage:     storageClient,
		sinkFor:     sinkFor,
		cfg:         cfg,
		logger:      logger,
	}
}

type createSessionRequest struct {
	DesignType string   `json:"design_type"`
	Sides      []string `json:"sides"`
	Background string   `json:"background"`
}

func (h *DesignHandler) geometry() canvas.Geometry {
	c := h.cfg.Canvas
	return canvas.Geometry{
		WidthMM:    c.WidthMM,
		HeightMM:   c.HeightMM,
		DPI:        c.DPI,
		BleedMM:    c.BleedMM,
		SafeAreaMM: c.SafeAreaMM,
	}
}

// CreateSession 建立一个新的设计会话，按配置几何为每个面建立画布。
func (h *DesignHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if req.DesignType == "" {
		req.DesignType = "business-card"
	}
	if len(req.Sides) == 0 {
		req.Sides = []string{"front", "back"}
	}
	background := req.Background
	if background == "" {
		background = h.cfg.Canvas.BackgroundColor
	}

	// 注册表先建，事件下游按会话 id 稍后挂接。
	registry := canvas.NewRegistry(req.DesignType, nil, h.logger)
	s := h.sessions.Create(registry)
	registry.SetSink(h.sinkFor(s.ID))

	geom := h.geometry()
	for _, side := range req.Sides {
		if _, err := registry.CreateSurface(side, geom, background); err != nil {
			_ = h.sessions.Destroy(s.ID)
			BadRequest(c, err.Error())
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id":  s.ID,
		"design_type": registry.DesignType(),
		"sides":       registry.Sides(),
		"active_side": registry.Active().ID(),
	})
}

func (h *DesignHandler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		NotFound(c, "session not found")
		return nil, false
	}
	return s, true
}

// GetSession 返回会话概要。
func (h *DesignHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	registry := s.Registry
	active := registry.Active()
	resp := gin.H{
		"session_id":  s.ID,
		"design_type": registry.DesignType(),
		"sides":       registry.Sides(),
	}
	if active != nil {
		resp["active_side"] = active.ID()
		resp["selected"] = active.Selected()
		resp["object_count"] = active.ObjectCount()
	}
	c.JSON(http.StatusOK, resp)
}

// DestroySession 主动销毁会话。
func (h *DesignHandler) DestroySession(c *gin.Context) {
	if err := h.sessions.Destroy(c.Param("id")); err != nil {
		NotFound(c, "session not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "destroyed"})
}

type createSideRequest struct {
	Side       string `json:"side"`
	Background string `json:"background"`
}

// CreateSide 为会话追加一个印刷面。重复创建幂等。
func (h *DesignHandler) CreateSide(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req createSideRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Side) == "" {
		BadRequest(c, "side is required")
		return
	}
	background := req.Background
	if background == "" {
		background = h.cfg.Canvas.BackgroundColor
	}
	surface, err := s.Registry.CreateSurface(req.Side, h.geometry(), background)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	w, hpx := surface.PixelSize()
	c.JSON(http.StatusCreated, gin.H{"side": surface.ID(), "width": w, "height": hpx})
}

// GetSideSnapshot 返回单个面的快照。
func (h *DesignHandler) GetSideSnapshot(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := s.Registry.DesignData(c.Param("side"))
	if err != nil {
		NotFound(c, "side not found")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ActivateSide 切换当前编辑面。
func (h *DesignHandler) ActivateSide(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Registry.SwitchActive(c.Param("side")); err != nil {
		if errors.Is(err, canvas.ErrSurfaceNotFound) {
			NotFound(c, "side not found")
			return
		}
		Internal(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_side": c.Param("side")})
}

type addObjectRequest struct {
	Side   string        `json:"side"`
	Object canvas.Record `json:"object"`
}

// AddObject 从一条记录构造对象并加入画布。坏记录返回 400,
// 其余对象不受影响。
func (h *DesignHandler) AddObject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req addObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	obj := h.factory.WithSink(s.Registry.Sink()).FromRecord(c.Request.Context(), req.Object, "user")
	if obj == nil {
		BadRequest(c, "object record could not be constructed")
		return
	}

	err := h.withSide(s, req.Side, func(surface *canvas.Surface) error {
		surface.AddObject(obj)
		return surface.Render()
	})
	if err != nil {
		h.respondSurfaceErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"object_id": obj.ID, "object_type": obj.Type})
}

type modifyObjectRequest struct {
	Side  string         `json:"side"`
	Props map[string]any `json:"props"`
}

// ModifyObject 修改对象属性。未知属性被忽略。
func (h *DesignHandler) ModifyObject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req modifyObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	objectID := c.Param("objectID")

	found := false
	err := h.withSide(s, req.Side, func(surface *canvas.Surface) error {
		found = surface.ModifyObject(objectID, func(obj *canvas.Object) {
			applyProps(obj, req.Props)
		})
		if !found {
			return nil
		}
		return surface.Render()
	})
	if err != nil {
		h.respondSurfaceErr(c, err)
		return
	}
	if !found {
		NotFound(c, "object not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"object_id": objectID})
}

// RemoveObject 删除对象。
func (h *DesignHandler) RemoveObject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	objectID := c.Param("objectID")
	found := false
	err := h.withSide(s, c.Query("side"), func(surface *canvas.Surface) error {
		found = surface.RemoveObject(objectID)
		if !found {
			return nil
		}
		return surface.Render()
	})
	if err != nil {
		h.respondSurfaceErr(c, err)
		return
	}
	if !found {
		NotFound(c, "object not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"object_id": objectID})
}

// SelectObject 设置选区。辅助线等系统对象不可选。
func (h *DesignHandler) SelectObject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	objectID := c.Param("objectID")
	selected := false
	err := h.withSide(s, c.Query("side"), func(surface *canvas.Surface) error {
		selected = surface.Select(objectID)
		return nil
	})
	if err != nil {
		h.respondSurfaceErr(c, err)
		return
	}
	if !selected {
		BadRequest(c, "object not selectable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": objectID})
}

// ClearSelection 清空选区。
func (h *DesignHandler) ClearSelection(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	err := h.withSide(s, c.Query("side"), func(surface *canvas.Surface) error {
		surface.ClearSelection()
		return nil
	})
	if err != nil {
		h.respondSurfaceErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": ""})
}

// Undo 回滚最近一次对象列表变更。
func (h *DesignHandler) Undo(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	undone := false
	err := h.withSide(s, c.Query("side"), func(surface *canvas.Surface) error {
		undone = surface.Undo()
		if !undone {
			return nil
		}
		return surface.Render()
	})
	if err != nil {
		h.respondSurfaceErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"undone": undone})
}

type viewportRequest struct {
	Side string   `json:"side"`
	Zoom *float64 `json:"zoom"`
	PanX float64  `json:"pan_x"`
	PanY float64  `json:"pan_y"`
}

// UpdateViewport 调整缩放或平移。辅助线随视口同步重绘。
func (h *DesignHandler) UpdateViewport(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	err := h.withSide(s, req.Side, func(surface *canvas.Surface) error {
		if req.Zoom != nil {
			if err := surface.SetZoom(*req.Zoom); err != nil {
				return err
			}
		}
		if req.PanX != 0 || req.PanY != 0 {
			if err := surface.PanBy(req.PanX, req.PanY); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.respondSurfaceErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type applyTemplateRequest struct {
	Side       string `json:"side"`
	TemplateID string `json:"template_id"`
}

// ApplyTemplate 装载模板到指定面。目录不可达时装载兜底空模板,
// 编辑器永远有东西可画。
func (h *DesignHandler) ApplyTemplate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req applyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.TemplateID) == "" {
		BadRequest(c, "template_id is required")
		return
	}

	rec, err := h.templates.LoadTemplate(c.Request.Context(), req.TemplateID)
	if err != nil {
		if errors.Is(err, template.ErrNotFound) {
			NotFound(c, "template not found")
			return
		}
		Internal(c, err.Error())
		return
	}

	objs := h.factory.WithSink(s.Registry.Sink()).FromRecords(c.Request.Context(), rec.Data.Objects, "template")
	applyErr := h.withSide(s, req.Side, func(surface *canvas.Surface) error {
		surface.ApplyTemplate(rec.ID, objs)
		return surface.Render()
	})
	if applyErr != nil {
		h.respondSurfaceErr(c, applyErr)
		return
	}

	resp := gin.H{"template_id": rec.ID, "objects": len(objs)}
	if len(objs) < len(rec.Data.Objects) {
		// 坏记录已被剔除，客户端拿到的是修复后的可用子集。
		resp["code"] = errcode.DataRepaired
		resp["dropped"] = len(rec.Data.Objects) - len(objs)
	}
	if rec.ID == template.FallbackID {
		s.Registry.Emit(canvas.EventTemplateLoadFailed, req.Side, map[string]any{
			"template_id": req.TemplateID,
			"fallback_id": rec.ID,
		})
		resp["code"] = errcode.NetworkFallback
		resp["message"] = "模板目录暂不可达，已装载空白模板"
	}
	c.JSON(http.StatusOK, resp)
}

// GetDesignData 返回整套设计的序列化形状。
func (h *DesignHandler) GetDesignData(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Registry.AllDesignData())
}

// EnqueuePreview 投递一个后台预览渲染任务。
func (h *DesignHandler) EnqueuePreview(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	side := c.Query("side")
	if side == "" {
		if active := s.Registry.Active(); active != nil {
			side = active.ID()
		}
	}
	task, err := tasks.NewPreviewRenderTask(s.ID, side, 0, middleware.GetCorrelationID(c))
	if err != nil {
		Internal(c, err.Error())
		return
	}
	info, err := h.asynqClient.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		h.logger.Error("enqueue preview task failed", slog.Any("error", err))
		Internal(c, "enqueue preview task failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "side": side})
}

// ListPreviews 列出会话已生成的预览图，附带限时下载链接。
// 下载链接带 attachment 响应头，浏览器直接收作文件。
func (h *DesignHandler) ListPreviews(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.storage == nil {
		Internal(c, "object storage unavailable")
		return
	}
	metas, err := h.storage.ListObjects(c.Request.Context(), previewPrefix(s.ID), 50)
	if err != nil {
		h.logger.Error("list preview objects failed", slog.Any("error", err))
		Internal(c, "list previews failed")
		return
	}
	previews := make([]gin.H, 0, len(metas))
	for _, meta := range metas {
		entry := gin.H{"key": meta.Key, "size": meta.Size, "modified": meta.LastModified}
		u, err := h.storage.GeneratePresignedURLWithParams(c.Request.Context(), meta.Key, time.Hour, map[string]string{
			"response-content-disposition": fmt.Sprintf("attachment; filename=%q", path.Base(meta.Key)),
		})
		if err != nil {
			h.logger.Warn("presign preview url failed", slog.String("key", meta.Key), slog.Any("error", err))
		} else {
			entry["url"] = u
		}
		previews = append(previews, entry)
	}
	c.JSON(http.StatusOK, gin.H{"previews": previews, "count": len(previews)})
}

// previewPrefix 是某会话全部预览对象的存储前缀。
func previewPrefix(sessionID string) string {
	return fmt.Sprintf("previews/%s/", sessionID)
}

// InternalSnapshot 供 Worker 拉取某一面的画布快照。走内部密钥。
func (h *DesignHandler) InternalSnapshot(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	side := c.Query("side")
	snap, err := s.Registry.DesignData(side)
	if err != nil {
		NotFound(c, "side not found")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// withSide 在注册表锁下操作指定面,side 为空表示当前活动面。
func (h *DesignHandler) withSide(s *session.Session, side string, fn func(*canvas.Surface) error) error {
	if side == "" {
		return s.Registry.WithActive(fn)
	}
	return s.Registry.WithSurface(side, fn)
}

func (h *DesignHandler) respondSurfaceErr(c *gin.Context, err error) {
	if errors.Is(err, canvas.ErrSurfaceNotFound) {
		NotFound(c, "side not found")
		return
	}
	Internal(c, err.Error())
}

// applyProps 把通用属性写回对象。未覆盖的键保持原值。
func applyProps(obj *canvas.Object, props map[string]any) {
	for key, val := range props {
		switch key {
		case "left":
			obj.Left = toFloat(val, obj.Left)
		case "top":
			obj.Top = toFloat(val, obj.Top)
		case "angle":
			obj.Angle = toFloat(val, obj.Angle)
		case "scaleX":
			obj.ScaleX = toFloat(val, obj.ScaleX)
		case "scaleY":
			obj.ScaleY = toFloat(val, obj.ScaleY)
		case "opacity":
			obj.Opacity = toFloat(val, obj.Opacity)
		case "width":
			obj.Width = toFloat(val, obj.Width)
		case "height":
			obj.Height = toFloat(val, obj.Height)
		case "radius":
			obj.Radius = toFloat(val, obj.Radius)
		case "fill":
			obj.Fill = toString(val, obj.Fill)
		case "stroke":
			obj.Stroke = toString(val, obj.Stroke)
		case "strokeWidth":
			obj.StrokeW = toFloat(val, obj.StrokeW)
		case "text":
			obj.Text = toString(val, obj.Text)
		case "fontSize":
			obj.FontSize = toFloat(val, obj.FontSize)
		case "fontFamily":
			obj.FontName = toString(val, obj.FontName)
		}
	}
}

func toFloat(val any, def float64) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func toString(val any, def string) string {
	if s, ok := val.(string); ok {
		return s
	}
	return def
}
