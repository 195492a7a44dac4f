package canvas

import (
	"fmt"

	"github.com/gogpu/gg"
)

// 辅助线样式。出血线提醒裁切外沿，安全线提醒内容内沿。
const (
	bleedLineColor = "#e53935"
	safeLineColor  = "#43a047"
	guideLineWidth = 1.0
	guideDashOn    = 6.0
	guideDashOff   = 4.0
)

// guideState 捕获一次同步时影响像素输出的全部几何因素。
// 状态未变时 Sync 直接返回，保证幂等且同帧多次请求只产生一次重绘。
type guideState struct {
	width, height int
	zoom          float64
	panX, panY    float64
	bleedPx       float64
	safePx        float64
	visible       bool
}

// Guide 是宿主 Surface 的非交互辅助线图层。
// 它拥有独立的像素缓冲：快照、命中测试与导出逻辑从不遍历这里，
// 因此“辅助线不出现在任何导出里”由结构保证而非过滤器。
type Guide struct {
	host    *Surface
	ctx     *gg.Context
	visible bool
	synced  *guideState
}

func newGuide(host *Surface) *Guide {
	w, h := host.PixelSize()
	return &Guide{
		host:    host,
		ctx:     gg.NewContext(w, h),
		visible: true,
	}
}

// Visible reports whether guides are currently shown.
func (g *Guide) Visible() bool { return g.visible }

// PixelSize 返回覆盖层缓冲的像素尺寸，必须始终等于宿主的。
func (g *Guide) PixelSize() (int, int) { return g.ctx.Width(), g.ctx.Height() }

// SetVisible 切换辅助线显示。隐藏时立即清空缓冲，不留陈旧线条；
// 宿主的对象列表不受影响。
func (g *Guide) SetVisible(visible bool) error {
	if g.visible == visible {
		return nil
	}
	g.visible = visible
	g.synced = nil
	return g.Sync()
}

func (g *Guide) currentState() guideState {
	w, h := g.host.PixelSize()
	return guideState{
		width:   w,
		height:  h,
		zoom:    g.host.zoom,
		panX:    g.host.panX,
		panY:    g.host.panY,
		bleedPx: g.host.geom.BleedPx(),
		safePx:  g.host.geom.SafeAreaPx(),
		visible: g.visible,
	}
}

// Sync 让覆盖层追上宿主几何：先把像素缓冲对齐到宿主尺寸，再清空，
// 仅在可见时重绘。几何未变时为空操作（幂等）。
// 必须在每次 resize/zoom/pan 之后、以及宿主每次完整渲染之后调用。
func (g *Guide) Sync() error {
	state := g.currentState()
	if g.synced != nil && *g.synced == state {
		return nil
	}

	if g.ctx.Width() != state.width || g.ctx.Height() != state.height {
		if err := g.ctx.Resize(state.width, state.height); err != nil {
			return fmt.Errorf("guide overlay %q: resize: %w", g.host.id, err)
		}
	}

	g.ctx.ClearWithColor(gg.RGBA{})

	if state.visible {
		if err := g.draw(state); err != nil {
			return fmt.Errorf("guide overlay %q: draw: %w", g.host.id, err)
		}
	}

	copied := state
	g.synced = &copied
	return nil
}

// draw 以宿主坐标系绘制两个虚线矩形：
// 出血线沿四边向外偏移 bleedPx，安全线向内收进 safePx。
func (g *Guide) draw(state guideState) error {
	c := g.ctx

	c.Push()
	defer c.Pop()

	c.Translate(state.panX, state.panY)
	c.Scale(state.zoom, state.zoom)

	w := float64(state.width)
	h := float64(state.height)

	c.SetLineWidth(guideLineWidth / state.zoom)
	c.SetDash(guideDashOn/state.zoom, guideDashOff/state.zoom)
	defer c.ClearDash()

	c.SetHexColor(bleedLineColor)
	c.DrawRectangle(-state.bleedPx, -state.bleedPx, w+2*state.bleedPx, h+2*state.bleedPx)
	if err := c.Stroke(); err != nil {
		return fmt.Errorf("stroke bleed rect: %w", err)
	}

	c.SetHexColor(safeLineColor)
	c.DrawRectangle(state.safePx, state.safePx, w-2*state.safePx, h-2*state.safePx)
	if err := c.Stroke(); err != nil {
		return fmt.Errorf("stroke safe-zone rect: %w", err)
	}
	return nil
}
