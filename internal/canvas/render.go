package canvas

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/gg"
)

// renderObjects 把背景与对象列表绘制进给定的上下文。
// 对象按列表顺序绘制，列表位置即 z 轴。
func renderObjects(c *gg.Context, background string, zoom, panX, panY float64, objects []*Object) error {
	if background != "" {
		c.SetHexColor(background)
	} else {
		c.SetRGB(1, 1, 1)
	}
	c.Clear()

	c.Push()
	defer c.Pop()
	c.Translate(panX, panY)
	c.Scale(zoom, zoom)

	for _, obj := range objects {
		if err := renderObject(c, obj); err != nil {
			return fmt.Errorf("object %q: %w", obj.ID, err)
		}
	}
	return nil
}

func renderObject(c *gg.Context, obj *Object) error {
	if obj == nil || obj.Opacity <= 0 {
		return nil
	}

	c.Push()
	defer c.Pop()

	c.Translate(obj.Left, obj.Top)
	if obj.Angle != 0 {
		c.Rotate(obj.Angle * math.Pi / 180)
	}
	if obj.ScaleX != 1 || obj.ScaleY != 1 {
		sx, sy := obj.ScaleX, obj.ScaleY
		if sx == 0 {
			sx = 1
		}
		if sy == 0 {
			sy = 1
		}
		c.Scale(sx, sy)
	}

	translucent := obj.Opacity < 1
	if translucent {
		c.PushLayer(gg.BlendNormal, obj.Opacity)
		defer c.PopLayer()
	}

	switch obj.Type {
	case TypeRectangle:
		return paintShape(c, obj, func() { c.DrawRectangle(0, 0, obj.Width, obj.Height) })
	case TypeCircle:
		return paintShape(c, obj, func() { c.DrawCircle(obj.Radius, obj.Radius, obj.Radius) })
	case TypeText:
		return renderText(c, obj)
	case TypePath:
		return renderPath(c, obj)
	case TypeImage:
		return renderImage(c, obj)
	case TypeGroup:
		for _, child := range obj.Children {
			if err := renderObject(c, child); err != nil {
				return err
			}
		}
		return nil
	default:
		// Factory 已拦截未知类型，这里只是兜底。
		return nil
	}
}

func paintShape(c *gg.Context, obj *Object, trace func()) error {
	if obj.Fill != "" {
		c.SetHexColor(obj.Fill)
		trace()
		if err := c.Fill(); err != nil {
			return fmt.Errorf("fill: %w", err)
		}
	}
	if obj.Stroke != "" && obj.StrokeW > 0 {
		c.SetHexColor(obj.Stroke)
		c.SetLineWidth(obj.StrokeW)
		trace()
		if err := c.Stroke(); err != nil {
			return fmt.Errorf("stroke: %w", err)
		}
	}
	return nil
}

func renderText(c *gg.Context, obj *Object) error {
	if obj.Text == "" {
		return nil
	}
	if obj.Fill != "" {
		c.SetHexColor(obj.Fill)
	} else {
		c.SetRGB(0, 0, 0)
	}
	// 没有装载字体时 DrawString 是空操作；预览的文字保真度
	// 取决于部署方通过 SetFont 注入的字体。
	c.DrawString(obj.Text, 0, obj.FontSize)
	return nil
}

func renderImage(c *gg.Context, obj *Object) error {
	if len(obj.imageData) == 0 {
		// 像素数据尚未解析（无 fetcher 的场合），画一个占位框。
		c.SetRGBA(0.85, 0.85, 0.85, 1)
		c.DrawRectangle(0, 0, math.Max(obj.Width, 1), math.Max(obj.Height, 1))
		return c.Fill()
	}

	img, _, err := image.Decode(bytes.NewReader(obj.imageData))
	if err != nil {
		return fmt.Errorf("decode image %q: %w", obj.ImageURL, err)
	}

	buf := gg.ImageBufFromImage(img)
	opts := gg.DrawImageOptions{Opacity: 1, Interpolation: gg.InterpBilinear, BlendMode: gg.BlendNormal}
	if obj.Width > 0 && obj.Height > 0 {
		opts.DstWidth = obj.Width
		opts.DstHeight = obj.Height
	}
	c.DrawImageEx(buf, opts)
	return nil
}

// renderPath 解析简化的 SVG 路径数据（绝对坐标的 M/L/Q/C/Z）。
// 不认识的指令直接终止该路径的解析，已有的段照常描绘。
func renderPath(c *gg.Context, obj *Object) error {
	tokens := tokenizePath(obj.PathData)
	i := 0
	next := func() (float64, bool) {
		if i >= len(tokens) {
			return 0, false
		}
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return 0, false
		}
		i++
		return v, true
	}

loop:
	for i < len(tokens) {
		cmd := tokens[i]
		i++
		switch cmd {
		case "M", "m":
			x, ok1 := next()
			y, ok2 := next()
			if !ok1 || !ok2 {
				break loop
			}
			c.MoveTo(x, y)
		case "L", "l":
			x, ok1 := next()
			y, ok2 := next()
			if !ok1 || !ok2 {
				break loop
			}
			c.LineTo(x, y)
		case "Q", "q":
			cx, ok1 := next()
			cy, ok2 := next()
			x, ok3 := next()
			y, ok4 := next()
			if !ok1 || !ok2 || !ok3 || !ok4 {
				break loop
			}
			c.QuadraticTo(cx, cy, x, y)
		case "C", "c":
			c1x, ok1 := next()
			c1y, ok2 := next()
			c2x, ok3 := next()
			c2y, ok4 := next()
			x, ok5 := next()
			y, ok6 := next()
			if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
				break loop
			}
			c.CubicTo(c1x, c1y, c2x, c2y, x, y)
		case "Z", "z":
			c.ClosePath()
		default:
			break loop
		}
	}

	return paintTracedPath(c, obj)
}

func paintTracedPath(c *gg.Context, obj *Object) error {
	if obj.Fill != "" {
		c.SetHexColor(obj.Fill)
		if err := c.FillPreserve(); err != nil {
			return fmt.Errorf("fill path: %w", err)
		}
	}
	if obj.Stroke != "" && obj.StrokeW > 0 {
		c.SetHexColor(obj.Stroke)
		c.SetLineWidth(obj.StrokeW)
		if err := c.Stroke(); err != nil {
			return fmt.Errorf("stroke path: %w", err)
		}
	}
	c.ClearPath()
	return nil
}

func tokenizePath(data string) []string {
	replacer := strings.NewReplacer(",", " ", "M", " M ", "m", " m ", "L", " L ", "l", " l ",
		"Q", " Q ", "q", " q ", "C", " C ", "c", " c ", "Z", " Z ", "z", " z ")
	return strings.Fields(replacer.Replace(data))
}

// RenderSnapshot 将一份快照栅格化为位图，maxEdge 限制长边像素数
// （预览缩略图用）。maxEdge <= 0 表示按原始像素尺寸渲染。
func RenderSnapshot(snap *Snapshot, maxEdge int) (image.Image, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	if snap.Width <= 0 || snap.Height <= 0 {
		return nil, fmt.Errorf("snapshot %q has no pixel size", snap.Side)
	}

	scale := 1.0
	width, height := snap.Width, snap.Height
	if maxEdge > 0 {
		longest := math.Max(float64(width), float64(height))
		if longest > float64(maxEdge) {
			scale = float64(maxEdge) / longest
			width = int(math.Round(float64(width) * scale))
			height = int(math.Round(float64(height) * scale))
		}
	}

	c := gg.NewContext(width, height)
	if err := renderObjects(c, snap.Background, scale, 0, 0, snap.Objects); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("render snapshot %q: %w", snap.Side, err)
	}

	img := c.Image()
	_ = c.Close()
	return img, nil
}
