package template

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"phCanvas/internal/canvas"
)

// emptyCanvasData 返回规范空形状。每次新建，调用方可放心修改。
func emptyCanvasData() *CanvasData {
	return &CanvasData{
		Objects:    []canvas.Record{},
		Background: DefaultBackground,
		Width:      DefaultWidth,
		Height:     DefaultHeight,
	}
}

// CoerceCanvasData 把 templateData 的各种历史形态收敛为规范形状。
// 处理的形态：缺失、JSON null、字面字符串 "null"、二次编码的 JSON
// 字符串、正常对象。无法解析时返回规范空形状——校验失败是就地修复，
// 绝不升级为错误。
func CoerceCanvasData(raw json.RawMessage, logger *slog.Logger) *CanvasData {
	if logger == nil {
		logger = slog.Default()
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyCanvasData()
	}

	// 旧版目录把 templateData 以字符串存储（可能还是 "null" 字面量）。
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			logger.Warn("templateData is an undecodable string, repairing", slog.Any("error", err))
			return emptyCanvasData()
		}
		inner = strings.TrimSpace(inner)
		if inner == "" || inner == "null" {
			return emptyCanvasData()
		}
		trimmed = []byte(inner)
	}

	var parsed struct {
		Objects    []json.RawMessage `json:"objects"`
		Background string            `json:"background"`
		Width      int               `json:"width"`
		Height     int               `json:"height"`
	}
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		logger.Warn("templateData is not an object, repairing", slog.Any("error", err))
		return emptyCanvasData()
	}

	data := emptyCanvasData()
	if parsed.Background != "" {
		data.Background = parsed.Background
	}
	if parsed.Width > 0 {
		data.Width = parsed.Width
	}
	if parsed.Height > 0 {
		data.Height = parsed.Height
	}

	// 单个坏条目只丢自己，不拖垮整条记录。
	for _, entry := range parsed.Objects {
		var rec canvas.Record
		if err := json.Unmarshal(entry, &rec); err != nil || rec == nil {
			logger.Warn("dropping malformed object entry in templateData")
			continue
		}
		if _, ok := rec["type"].(string); !ok {
			logger.Warn("dropping untyped object entry in templateData")
			continue
		}
		data.Objects = append(data.Objects, rec)
	}
	return data
}

// validateRecord 把原始目录记录转为规范记录。缺 id 的记录无法
// 引用，返回 nil 由调用方丢弃。
func validateRecord(wire wireRecord, logger *slog.Logger) *Record {
	if strings.TrimSpace(wire.ID) == "" {
		logger.Warn("dropping template record without id", slog.String("name", wire.Name))
		return nil
	}
	return &Record{
		ID:           wire.ID,
		Name:         wire.Name,
		Width:        wire.Width,
		Height:       wire.Height,
		DPI:          wire.DPI,
		ColorMode:    wire.ColorMode,
		PreviewURL:   wire.PreviewURL,
		ThumbnailURL: wire.ThumbnailURL,
		Premium:      wire.Premium,
		Featured:     wire.Featured,
		ProductTags:  wire.ProductTags,
		Data:         CoerceCanvasData(wire.TemplateData, logger),
	}
}

// TagMatcher 是画廊按产品标签过滤的显式策略。
type TagMatcher func(recordTag, wanted string) bool

// ExactTagMatch 要求标签完全一致（忽略大小写与首尾空白）。
func ExactTagMatch(recordTag, wanted string) bool {
	return strings.EqualFold(strings.TrimSpace(recordTag), strings.TrimSpace(wanted))
}

// SubstringTagMatch 沿用旧版画廊的宽松子串比较。
func SubstringTagMatch(recordTag, wanted string) bool {
	return strings.Contains(
		strings.ToLower(recordTag),
		strings.ToLower(strings.TrimSpace(wanted)),
	)
}

// matchesTag 按策略判断记录是否带有目标产品标签。
func matchesTag(rec *Record, wanted string, match TagMatcher) bool {
	if wanted == "" {
		return true
	}
	for _, tag := range rec.ProductTags {
		if match(tag, wanted) {
			return true
		}
	}
	return false
}
