package canvas

// Snapshot 是单个面的序列化结果：对象列表（z 轴顺序）加背景与像素尺寸。
// System 对象与辅助线图层永远不会出现在这里。
type Snapshot struct {
	Side       string    `json:"side"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Background string    `json:"background"`
	Objects    []*Object `json:"objects"`
}

// DesignData 是跨全部面的聚合快照，形状与保存边界约定一致：
// {type, data: {sideId: snapshot}}。
type DesignData struct {
	Type string               `json:"type"`
	Data map[string]*Snapshot `json:"data"`
}
