package canvas

// ObjectType 标识可绘制对象的种类。
type ObjectType string

const (
	TypeText      ObjectType = "text"
	TypeRectangle ObjectType = "rectangle"
	TypeCircle    ObjectType = "circle"
	TypeImage     ObjectType = "image"
	TypePath      ObjectType = "path"
	TypeGroup     ObjectType = "group"
)

// Object 是一个已通过边界校验的可绘制对象（tagged variant）。
// 反序列化只发生在 Factory 中；引擎内部不再接触原始 JSON。
type Object struct {
	ID   string     `json:"id"`
	Type ObjectType `json:"type"`

	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Angle    float64 `json:"angle,omitempty"`
	ScaleX   float64 `json:"scaleX"`
	ScaleY   float64 `json:"scaleY"`
	Opacity  float64 `json:"opacity"`
	Fill     string  `json:"fill,omitempty"`
	Stroke   string  `json:"stroke,omitempty"`
	StrokeW  float64 `json:"strokeWidth,omitempty"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	Radius   float64 `json:"radius,omitempty"`
	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`
	FontName string  `json:"fontFamily,omitempty"`
	PathData string  `json:"path,omitempty"`
	ImageURL string  `json:"src,omitempty"`

	Selectable bool `json:"selectable"`
	// System marks guide/grid decoration. System objects never appear in
	// snapshots; the guide layer additionally never enters the object list,
	// so the flag only matters for grid-style helpers inserted by tooling.
	System bool `json:"-"`
	// Origin records which template/side produced this object.
	Origin string `json:"origin,omitempty"`

	Children []*Object `json:"objects,omitempty"`

	// image bytes resolved by the factory; nil until materialized.
	imageData []byte
}

// ImageData returns the fetched pixel payload for image objects, nil otherwise.
func (o *Object) ImageData() []byte { return o.imageData }

// Clone 返回对象的深拷贝（撤销日志与快照都依赖它，杜绝别名共享）。
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	clone := *o
	if o.imageData != nil {
		clone.imageData = make([]byte, len(o.imageData))
		copy(clone.imageData, o.imageData)
	}
	if o.Children != nil {
		clone.Children = make([]*Object, 0, len(o.Children))
		for _, child := range o.Children {
			clone.Children = append(clone.Children, child.Clone())
		}
	}
	return &clone
}
