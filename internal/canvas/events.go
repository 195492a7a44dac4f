package canvas

import "time"

// EventKind 枚举引擎对外广播的通知类型。
// 外部 UI（图层面板、历史栈、工具条）通过这些事件保持同步。
type EventKind string

const (
	EventSelectionCreated   EventKind = "selection.created"
	EventSelectionUpdated   EventKind = "selection.updated"
	EventSelectionCleared   EventKind = "selection.cleared"
	EventObjectAdded        EventKind = "object.added"
	EventObjectRemoved      EventKind = "object.removed"
	EventObjectModified     EventKind = "object.modified"
	EventSideChanged        EventKind = "side.changed"
	EventTemplateLoaded     EventKind = "template.loaded"
	EventTemplateLoadFailed EventKind = "template.load_failed"
	EventImageAdded         EventKind = "image.added"
	EventImageLoadFailed    EventKind = "image.load_failed"
)

// Event 是一条引擎通知。Detail 的键按事件类型约定（例如 side.changed
// 携带 old/new，object.* 携带 object_id）。
type Event struct {
	Kind   EventKind      `json:"kind"`
	Side   string         `json:"side,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// EventSink 接收引擎事件。实现必须自行保证非阻塞，
// 引擎在持有内部锁时不会等待慢消费者。
type EventSink interface {
	Publish(event Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(event Event) { f(event) }

// NopSink 丢弃所有事件，供无人订阅的场景与测试使用。
type NopSink struct{}

func (NopSink) Publish(Event) {}
