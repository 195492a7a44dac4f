package canvas

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gogpu/gg"
)

// mmPerInch 是毫米到英寸的换算系数，像素换算统一走 MMToPixels。
const mmPerInch = 25.4

// maxUndoDepth bounds the per-surface undo journal.
const maxUndoDepth = 50

// MMToPixels converts a physical length to device pixels: px = mm × dpi / 25.4.
func MMToPixels(mm, dpi float64) float64 {
	return mm * dpi / mmPerInch
}

// Geometry 描述一个印刷面的物理几何与分辨率。
type Geometry struct {
	WidthMM    float64
	HeightMM   float64
	DPI        float64
	BleedMM    float64
	SafeAreaMM float64
}

// PixelWidth returns the drawable width in device pixels.
func (g Geometry) PixelWidth() int {
	return int(math.Round(MMToPixels(g.WidthMM, g.DPI)))
}

// PixelHeight returns the drawable height in device pixels.
func (g Geometry) PixelHeight() int {
	return int(math.Round(MMToPixels(g.HeightMM, g.DPI)))
}

// BleedPx returns the bleed offset in device pixels.
func (g Geometry) BleedPx() float64 { return MMToPixels(g.BleedMM, g.DPI) }

// SafeAreaPx returns the safe-zone inset in device pixels.
func (g Geometry) SafeAreaPx() float64 { return MMToPixels(g.SafeAreaMM, g.DPI) }

// Validate 拒绝无法构成画面的几何参数。
func (g Geometry) Validate() error {
	if g.WidthMM <= 0 || g.HeightMM <= 0 {
		return fmt.Errorf("invalid physical size %gx%g mm", g.WidthMM, g.HeightMM)
	}
	if g.DPI <= 0 {
		return fmt.Errorf("invalid dpi %g", g.DPI)
	}
	if g.BleedMM < 0 || g.SafeAreaMM < 0 {
		return fmt.Errorf("negative margin (bleed %g, safe %g)", g.BleedMM, g.SafeAreaMM)
	}
	return nil
}

// Surface 是一个独立的印刷面：内容像素缓冲、对象列表（顺序即 z 轴）、
// 以及一个永不进入对象列表的辅助线图层。
type Surface struct {
	id         string
	geom       Geometry
	background string

	objects  []*Object
	selected string
	visible  bool

	zoom       float64
	panX, panY float64

	ctx     *gg.Context
	overlay *Guide

	journal [][]*Object

	sink   EventSink
	logger *slog.Logger
}

func newSurface(id string, geom Geometry, background string, sink EventSink, logger *slog.Logger) (*Surface, error) {
	if err := geom.Validate(); err != nil {
		return nil, fmt.Errorf("surface %q: %w", id, err)
	}
	if background == "" {
		background = "#ffffff"
	}

	s := &Surface{
		id:         id,
		geom:       geom,
		background: background,
		objects:    make([]*Object, 0, 16),
		visible:    true,
		zoom:       1,
		ctx:        gg.NewContext(geom.PixelWidth(), geom.PixelHeight()),
		sink:       sink,
		logger:     logger,
	}
	s.overlay = newGuide(s)
	if err := s.overlay.Sync(); err != nil {
		return nil, fmt.Errorf("surface %q: init overlay: %w", id, err)
	}
	return s, nil
}

// ID returns the side label ("front", "back", …).
func (s *Surface) ID() string { return s.id }

// Geometry returns the current physical geometry.
func (s *Surface) Geometry() Geometry { return s.geom }

// Background returns the background color as a hex string.
func (s *Surface) Background() string { return s.background }

// PixelSize 返回内容缓冲的像素尺寸。
func (s *Surface) PixelSize() (int, int) { return s.ctx.Width(), s.ctx.Height() }

// Overlay returns the surface's guide layer.
func (s *Surface) Overlay() *Guide { return s.overlay }

// Zoom returns the current zoom factor.
func (s *Surface) Zoom() float64 { return s.zoom }

// Pan returns the current pan offset in device pixels.
func (s *Surface) Pan() (float64, float64) { return s.panX, s.panY }

// Visible reports whether the surface is the one currently shown.
func (s *Surface) Visible() bool { return s.visible }

func (s *Surface) emit(kind EventKind, detail map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(Event{Kind: kind, Side: s.id, Detail: detail, At: time.Now()})
}

func (s *Surface) pushJournal() {
	state := make([]*Object, 0, len(s.objects))
	for _, obj := range s.objects {
		state = append(state, obj.Clone())
	}
	s.journal = append(s.journal, state)
	if len(s.journal) > maxUndoDepth {
		s.journal = s.journal[len(s.journal)-maxUndoDepth:]
	}
}

// AddObject 追加一个对象到 z 轴顶端。nil 对象（Factory 对坏记录的产物）被忽略。
func (s *Surface) AddObject(obj *Object) {
	if obj == nil {
		return
	}
	s.pushJournal()
	s.objects = append(s.objects, obj)

	kind := EventObjectAdded
	if obj.Type == TypeImage {
		kind = EventImageAdded
	}
	s.emit(kind, map[string]any{"object_id": obj.ID, "object_type": string(obj.Type)})
}

// RemoveObject 按 id 删除对象，返回是否找到。
func (s *Surface) RemoveObject(id string) bool {
	for i, obj := range s.objects {
		if obj.ID == id {
			s.pushJournal()
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			if s.selected == id {
				s.selected = ""
				s.emit(EventSelectionCleared, nil)
			}
			s.emit(EventObjectRemoved, map[string]any{"object_id": id})
			return true
		}
	}
	return false
}

// ModifyObject 对指定对象应用一次修改并广播 object.modified。
func (s *Surface) ModifyObject(id string, mutate func(*Object)) bool {
	for _, obj := range s.objects {
		if obj.ID == id {
			s.pushJournal()
			mutate(obj)
			s.emit(EventObjectModified, map[string]any{"object_id": id})
			return true
		}
	}
	return false
}

// ApplyTemplate 用模板对象整体替换当前对象列表。替换记入撤销日志,
// 旧选区随之失效。
func (s *Surface) ApplyTemplate(templateID string, objs []*Object) {
	s.pushJournal()
	kept := make([]*Object, 0, len(objs))
	for _, obj := range objs {
		if obj != nil {
			kept = append(kept, obj)
		}
	}
	s.objects = kept
	if s.selected != "" {
		s.selected = ""
		s.emit(EventSelectionCleared, nil)
	}
	s.emit(EventTemplateLoaded, map[string]any{"template_id": templateID, "objects": len(kept)})
}

// Select 将选区设置为指定对象；辅助线对象不可选。
func (s *Surface) Select(id string) bool {
	for _, obj := range s.objects {
		if obj.ID != id {
			continue
		}
		if !obj.Selectable || obj.System {
			return false
		}
		kind := EventSelectionCreated
		if s.selected != "" {
			kind = EventSelectionUpdated
		}
		s.selected = id
		s.emit(kind, map[string]any{"object_id": id})
		return true
	}
	return false
}

// ClearSelection 清空选区。
func (s *Surface) ClearSelection() {
	if s.selected == "" {
		return
	}
	s.selected = ""
	s.emit(EventSelectionCleared, nil)
}

// Selected returns the selected object id, empty when nothing is selected.
func (s *Surface) Selected() string { return s.selected }

// Objects 返回对象列表的浅拷贝（顺序即 z 轴）。
func (s *Surface) Objects() []*Object {
	out := make([]*Object, len(s.objects))
	copy(out, s.objects)
	return out
}

// ObjectCount returns the number of objects, system decoration included.
func (s *Surface) ObjectCount() int { return len(s.objects) }

// Undo 回滚最近一次对象列表变更，返回是否发生了回滚。
func (s *Surface) Undo() bool {
	if len(s.journal) == 0 {
		return false
	}
	last := s.journal[len(s.journal)-1]
	s.journal = s.journal[:len(s.journal)-1]
	s.objects = last
	s.selected = ""
	s.emit(EventObjectModified, map[string]any{"undo": true})
	return true
}

// SetZoom 调整缩放并在（变换完成后）同步辅助线图层。
func (s *Surface) SetZoom(zoom float64) error {
	if zoom <= 0 {
		return fmt.Errorf("surface %q: invalid zoom %g", s.id, zoom)
	}
	s.zoom = zoom
	return s.overlay.Sync()
}

// PanBy 平移视口；同步发生在变换完成之后，绝不插入变换中间。
func (s *Surface) PanBy(dx, dy float64) error {
	s.panX += dx
	s.panY += dy
	return s.overlay.Sync()
}

// Resize 更新物理几何、重建像素缓冲并同步辅助线图层。
// 对象列表保持不变。
func (s *Surface) Resize(geom Geometry) error {
	if err := geom.Validate(); err != nil {
		return fmt.Errorf("surface %q: %w", s.id, err)
	}
	s.geom = geom
	if err := s.ctx.Resize(geom.PixelWidth(), geom.PixelHeight()); err != nil {
		return fmt.Errorf("surface %q: resize buffer: %w", s.id, err)
	}
	return s.overlay.Sync()
}

// Reinit 丢弃疑似损坏的像素缓冲，按当前几何重建并完整重绘一次。
// 对象列表与撤销日志保持不变。
func (s *Surface) Reinit() error {
	if err := s.ctx.Close(); err != nil {
		s.logger.Warn("close stale surface buffer", slog.String("side", s.id), slog.Any("error", err))
	}
	s.ctx = gg.NewContext(s.geom.PixelWidth(), s.geom.PixelHeight())
	return s.Render()
}

// Render 将背景与全部对象绘制进内容缓冲，随后同步辅助线图层。
func (s *Surface) Render() error {
	if err := renderObjects(s.ctx, s.background, s.zoom, s.panX, s.panY, s.objects); err != nil {
		return fmt.Errorf("surface %q: render: %w", s.id, err)
	}
	// 覆盖层同步必须发生在一次完整渲染之后。
	return s.overlay.Sync()
}

func (s *Surface) show() { s.visible = true }
func (s *Surface) hide() { s.visible = false }

// Snapshot 序列化当前对象列表。System 对象被剔除；辅助线图层
// 根本不在遍历范围内（独立图层），无须过滤。
func (s *Surface) Snapshot() *Snapshot {
	objects := make([]*Object, 0, len(s.objects))
	for _, obj := range s.objects {
		if obj.System {
			continue
		}
		objects = append(objects, obj.Clone())
	}
	return &Snapshot{
		Side:       s.id,
		Width:      s.ctx.Width(),
		Height:     s.ctx.Height(),
		Background: s.background,
		Objects:    objects,
	}
}
