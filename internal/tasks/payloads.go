package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePreviewRender = "preview:render"
)

// PreviewRenderPayload 描述渲染一张设计预览图所需的最小信息。
type PreviewRenderPayload struct {
	SessionID     string `json:"session_id"`
	SideID        string `json:"side_id"`
	MaxEdge       int    `json:"max_edge,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// NewPreviewRenderTask 构造一个新的预览渲染任务。
func NewPreviewRenderTask(sessionID, sideID string, maxEdge int, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PreviewRenderPayload{
		SessionID:     sessionID,
		SideID:        sideID,
		MaxEdge:       maxEdge,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePreviewRender, payload), nil
}
