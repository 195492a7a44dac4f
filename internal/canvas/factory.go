package canvas

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record 是一条未受信任的序列化对象记录（模板或历史数据里的原始 JSON 对象）。
type Record map[string]any

// ImageFetcher resolves an image URL to raw bytes. The stock gateway's
// download path satisfies this; tests plug in fakes.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Factory 将不受信任的记录重建为类型化对象。
// 一条坏记录只会丢掉它自己，绝不中断整批加载。
type Factory struct {
	fetcher ImageFetcher
	logger  *slog.Logger
	sink    EventSink
}

// NewFactory 构造对象工厂。fetcher 可为 nil（此时 image 对象不携带像素数据）。
func NewFactory(fetcher ImageFetcher, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{fetcher: fetcher, logger: logger}
}

// WithSink 返回把装载失败事件发往 sink 的工厂视图。共享工厂本身
// 保持不变，按请求派生，便于把失败事件路由到对应会话的下游。
func (f *Factory) WithSink(sink EventSink) *Factory {
	if sink == nil {
		return f
	}
	clone := *f
	clone.sink = sink
	return &clone
}

func (f *Factory) emit(kind EventKind, detail map[string]any) {
	if f.sink == nil {
		return
	}
	f.sink.Publish(Event{Kind: kind, Detail: detail, At: time.Now()})
}

// FromRecord 按 record 的 type 字段分派重建。未知类型记录 warn 并返回 nil。
// origin 标记来源（模板 id/面），写入每个产出的对象。
func (f *Factory) FromRecord(ctx context.Context, rec Record, origin string) *Object {
	if rec == nil {
		return nil
	}

	kind := strings.ToLower(strings.TrimSpace(recString(rec, "type")))
	switch normalizeType(kind) {
	case TypeText:
		return f.newText(rec, origin)
	case TypeRectangle:
		return f.newRectangle(rec, origin)
	case TypeCircle:
		return f.newCircle(rec, origin)
	case TypeImage:
		return f.newImage(ctx, rec, origin)
	case TypePath:
		return f.newPath(rec, origin)
	case TypeGroup:
		return f.newGroup(ctx, rec, origin)
	default:
		f.logger.Warn("unknown object type in record, skipping",
			slog.String("type", kind),
			slog.String("origin", origin),
		)
		return nil
	}
}

// FromRecords 重建一批记录。图片的拉取相互独立并发进行，
// 单个失败只让该对象落空；返回值保持输入顺序且不含 nil。
func (f *Factory) FromRecords(ctx context.Context, recs []Record, origin string) []*Object {
	slots := make([]*Object, len(recs))
	var wg sync.WaitGroup
	for i, rec := range recs {
		wg.Add(1)
		go func(i int, rec Record) {
			defer wg.Done()
			slots[i] = f.FromRecord(ctx, rec, origin)
		}(i, rec)
	}
	wg.Wait()

	out := make([]*Object, 0, len(recs))
	for _, obj := range slots {
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

// normalizeType 吸收历史数据里的别名写法。
func normalizeType(kind string) ObjectType {
	switch kind {
	case "text", "i-text", "textbox":
		return TypeText
	case "rect", "rectangle":
		return TypeRectangle
	case "circle":
		return TypeCircle
	case "image":
		return TypeImage
	case "path":
		return TypePath
	case "group":
		return TypeGroup
	default:
		return ObjectType(kind)
	}
}

func (f *Factory) base(rec Record, kind ObjectType, origin string) *Object {
	id := recString(rec, "id")
	if id == "" {
		id = uuid.NewString()
	}
	return &Object{
		ID:         id,
		Type:       kind,
		Left:       recFloat(rec, "left", 0),
		Top:        recFloat(rec, "top", 0),
		Angle:      recFloat(rec, "angle", 0),
		ScaleX:     recFloat(rec, "scaleX", 1),
		ScaleY:     recFloat(rec, "scaleY", 1),
		Opacity:    recFloat(rec, "opacity", 1),
		Fill:       recString(rec, "fill"),
		Stroke:     recString(rec, "stroke"),
		StrokeW:    recFloat(rec, "strokeWidth", 0),
		Selectable: recBool(rec, "selectable", true),
		Origin:     origin,
	}
}

func (f *Factory) newText(rec Record, origin string) *Object {
	obj := f.base(rec, TypeText, origin)
	obj.Text = recString(rec, "text")
	obj.FontSize = recFloat(rec, "fontSize", 16)
	obj.FontName = recString(rec, "fontFamily")
	return obj
}

func (f *Factory) newRectangle(rec Record, origin string) *Object {
	obj := f.base(rec, TypeRectangle, origin)
	obj.Width = recFloat(rec, "width", 0)
	obj.Height = recFloat(rec, "height", 0)
	return obj
}

func (f *Factory) newCircle(rec Record, origin string) *Object {
	obj := f.base(rec, TypeCircle, origin)
	obj.Radius = recFloat(rec, "radius", 0)
	return obj
}

func (f *Factory) newPath(rec Record, origin string) *Object {
	obj := f.base(rec, TypePath, origin)
	obj.PathData = recString(rec, "path")
	if obj.PathData == "" {
		f.logger.Warn("path record without path data, skipping", slog.String("origin", origin))
		return nil
	}
	return obj
}

// newImage 独立地为单个对象解析图片：失败返回 nil，
// 同批次的其他对象照常生成。
func (f *Factory) newImage(ctx context.Context, rec Record, origin string) *Object {
	obj := f.base(rec, TypeImage, origin)
	obj.ImageURL = recString(rec, "src")
	if obj.ImageURL == "" {
		f.logger.Warn("image record without src, skipping", slog.String("origin", origin))
		return nil
	}
	obj.Width = recFloat(rec, "width", 0)
	obj.Height = recFloat(rec, "height", 0)

	if f.fetcher == nil {
		return obj
	}
	data, err := f.fetcher.FetchImage(ctx, obj.ImageURL)
	if err != nil {
		f.logger.Warn("image fetch failed, dropping object",
			slog.String("src", obj.ImageURL),
			slog.String("origin", origin),
			slog.Any("error", err),
		)
		f.emit(EventImageLoadFailed, map[string]any{
			"src":    obj.ImageURL,
			"origin": origin,
			"error":  err.Error(),
		})
		return nil
	}
	obj.imageData = data
	return obj
}

// newGroup 递归重建子记录；全部子对象都落空的组没有意义，返回 nil。
func (f *Factory) newGroup(ctx context.Context, rec Record, origin string) *Object {
	obj := f.base(rec, TypeGroup, origin)

	raw, _ := rec["objects"].([]any)
	for _, entry := range raw {
		childRec, ok := entry.(map[string]any)
		if !ok {
			f.logger.Warn("non-object entry in group, skipping", slog.String("origin", origin))
			continue
		}
		if child := f.FromRecord(ctx, Record(childRec), origin); child != nil {
			obj.Children = append(obj.Children, child)
		}
	}
	if len(obj.Children) == 0 {
		f.logger.Warn("group with no usable children, dropping", slog.String("origin", origin))
		return nil
	}
	return obj
}

func recString(rec Record, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func recFloat(rec Record, key string, def float64) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func recBool(rec Record, key string, def bool) bool {
	if v, ok := rec[key].(bool); ok {
		return v
	}
	return def
}
