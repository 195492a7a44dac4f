package canvas

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSurfaceNotFound 表示请求的面未注册。
// 切换到未注册的面是调用方错误：不崩溃，也绝不悄悄新建。
var ErrSurfaceNotFound = errors.New("surface not found")

// Registry 持有一个设计会话的全部印刷面并管理活动面切换。
// 所有修改都在同一把锁下串行执行，顺序不变量（先变换后同步、
// 先查缓存后走网络）由调用顺序保证。
type Registry struct {
	mu         sync.Mutex
	designType string
	surfaces   map[string]*Surface
	order      []string
	active     string
	sink       EventSink
	logger     *slog.Logger
}

// NewRegistry 构造一个空的面注册表。designType 标记产品类别
// （如 "business-card"），出现在聚合快照里。
func NewRegistry(designType string, sink EventSink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		designType: designType,
		surfaces:   make(map[string]*Surface),
		sink:       sink,
		logger:     logger,
	}
}

// DesignType returns the product category label.
func (r *Registry) DesignType() string { return r.designType }

// SetSink 替换事件下游。后续创建的面与注册表级事件都走新下游;
// 已存在的面同步换接。nil 恢复为 NopSink。
func (r *Registry) SetSink(sink EventSink) {
	if sink == nil {
		sink = NopSink{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	for _, surface := range r.surfaces {
		surface.sink = sink
	}
}

// Sink 返回当前事件下游，供协作方（对象工厂等）复用同一条通知通道。
func (r *Registry) Sink() EventSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}

// Emit 通过当前下游广播一条注册表级通知（不绑定具体面的事件，
// 例如模板装载失败）。
func (r *Registry) Emit(kind EventKind, side string, detail map[string]any) {
	r.Sink().Publish(Event{Kind: kind, Side: side, Detail: detail, At: time.Now()})
}

// CreateSurface 按几何参数分配一个面。重复的 sideID 幂等地返回已有面。
// 首个创建的面自动成为活动面。
func (r *Registry) CreateSurface(sideID string, geom Geometry, background string) (*Surface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.surfaces[sideID]; ok {
		return existing, nil
	}

	surface, err := newSurface(sideID, geom, background, r.sink, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}

	r.surfaces[sideID] = surface
	r.order = append(r.order, sideID)

	if r.active == "" {
		r.active = sideID
	} else {
		surface.hide()
	}

	r.logger.Info("surface created",
		slog.String("side", sideID),
		slog.Int("width_px", surface.ctx.Width()),
		slog.Int("height_px", surface.ctx.Height()),
	)
	return surface, nil
}

// SwitchActive 隐藏当前活动面（不销毁：对象与撤销日志都保留），
// 显示目标面，并广播 side.changed。目标未注册时返回 ErrSurfaceNotFound。
func (r *Registry) SwitchActive(sideID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.surfaces[sideID]
	if !ok {
		return fmt.Errorf("switch to %q: %w", sideID, ErrSurfaceNotFound)
	}
	if sideID == r.active {
		return nil
	}

	old := r.active
	if prev, ok := r.surfaces[old]; ok {
		prev.hide()
	}
	target.show()
	r.active = sideID

	r.sink.Publish(Event{
		Kind:   EventSideChanged,
		Side:   sideID,
		Detail: map[string]any{"old": old, "new": sideID},
		At:     time.Now(),
	})
	return nil
}

// Active 返回当前活动面；尚无任何面时返回 nil。
func (r *Registry) Active() *Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces[r.active]
}

// Sides 按创建顺序返回已注册的面标签。
func (r *Registry) Sides() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// WithSurface 在注册表锁内对指定面执行 fn，保证面级操作与
// 切换/销毁互不交错。
func (r *Registry) WithSurface(sideID string, fn func(*Surface) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	surface, ok := r.surfaces[sideID]
	if !ok {
		return fmt.Errorf("surface %q: %w", sideID, ErrSurfaceNotFound)
	}
	return fn(surface)
}

// WithActive 在注册表锁内对活动面执行 fn。
func (r *Registry) WithActive(fn func(*Surface) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	surface, ok := r.surfaces[r.active]
	if !ok {
		return ErrSurfaceNotFound
	}
	return fn(surface)
}

// DesignData 序列化单个面，剔除所有 System 对象。
func (r *Registry) DesignData(sideID string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	surface, ok := r.surfaces[sideID]
	if !ok {
		return nil, fmt.Errorf("surface %q: %w", sideID, ErrSurfaceNotFound)
	}
	return surface.Snapshot(), nil
}

// AllDesignData 聚合全部已注册面的快照，供保存边界的协作方消费。
func (r *Registry) AllDesignData() *DesignData {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make(map[string]*Snapshot, len(r.surfaces))
	for side, surface := range r.surfaces {
		data[side] = surface.Snapshot()
	}
	return &DesignData{Type: r.designType, Data: data}
}

// DestroySurface 拆除一个面并释放它的像素缓冲。
// 销毁活动面后，创建顺序中的下一个面成为活动面。
func (r *Registry) DestroySurface(sideID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	surface, ok := r.surfaces[sideID]
	if !ok {
		return fmt.Errorf("surface %q: %w", sideID, ErrSurfaceNotFound)
	}

	if err := surface.ctx.Close(); err != nil {
		r.logger.Warn("close surface buffer", slog.String("side", sideID), slog.Any("error", err))
	}
	if err := surface.overlay.ctx.Close(); err != nil {
		r.logger.Warn("close overlay buffer", slog.String("side", sideID), slog.Any("error", err))
	}

	delete(r.surfaces, sideID)
	for i, id := range r.order {
		if id == sideID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if r.active == sideID {
		r.active = ""
		if len(r.order) > 0 {
			r.active = r.order[0]
			r.surfaces[r.active].show()
		}
	}
	return nil
}

// ReinitSurfaces 对每个面重建像素缓冲并完整重绘一次。画布类故障
// 的恢复入口；每个面只尝试一次，失败聚合返回，不在此处重试。
func (r *Registry) ReinitSurfaces() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, side := range r.order {
		if err := r.surfaces[side].Reinit(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 拆除全部面。
func (r *Registry) Close() {
	r.mu.Lock()
	sides := make([]string, len(r.order))
	copy(sides, r.order)
	r.mu.Unlock()

	for _, side := range sides {
		if err := r.DestroySurface(side); err != nil {
			r.logger.Warn("destroy surface during close", slog.String("side", side), slog.Any("error", err))
		}
	}
}
