package template

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"phCanvas/internal/canvas"
)

// 兜底画布尺寸：templateData 完全不可用时的规范空形状。
const (
	DefaultBackground = "#ffffff"
	DefaultWidth      = 400
	DefaultHeight     = 300
)

// FallbackID 是重试耗尽后返回的合成记录 id。
const FallbackID = "fallback-empty"

// CanvasData 是 templateData 的规范形状。任何消费者读到的
// 记录里它都不为 nil，Objects 都不为 nil。
type CanvasData struct {
	Objects    []canvas.Record `json:"objects"`
	Background string          `json:"background"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
}

// Record 是一条通过校验的模板记录。
type Record struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	DPI          int         `json:"dpi"`
	ColorMode    string      `json:"color_mode"`
	PreviewURL   string      `json:"preview_url"`
	ThumbnailURL string      `json:"thumbnail_url"`
	Premium      bool        `json:"premium"`
	Featured     bool        `json:"featured"`
	ProductTags  []string    `json:"product_tags"`
	Data         *CanvasData `json:"templateData"`
}

// wireRecord 是远端目录的原始形状；templateData 可能是对象、
// 字符串、字面 null，甚至缺失。
type wireRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	DPI          int             `json:"dpi"`
	ColorMode    string          `json:"color_mode"`
	PreviewURL   string          `json:"preview_url"`
	ThumbnailURL string          `json:"thumbnail_url"`
	Premium      bool            `json:"premium"`
	Featured     bool            `json:"featured"`
	ProductTags  []string        `json:"product_tags"`
	TemplateData json.RawMessage `json:"templateData"`
}

type wireList struct {
	Count   int          `json:"count"`
	Results []wireRecord `json:"results"`
}

// ListResult 是 LoadTemplates 的返回形状。
type ListResult struct {
	Count   int       `json:"count"`
	Results []*Record `json:"results"`
}

// Filters 描述目录查询条件。
type Filters struct {
	Category   string `json:"category,omitempty"`
	ProductTag string `json:"product_tag,omitempty"`
	Search     string `json:"search,omitempty"`
	Featured   bool   `json:"featured,omitempty"`
	Page       int    `json:"page,omitempty"`
	PerPage    int    `json:"per_page,omitempty"`
}

// CacheKey 以确定顺序编码过滤条件，相同条件必然得到相同键。
func (f Filters) CacheKey() string {
	pairs := map[string]string{}
	if f.Category != "" {
		pairs["category"] = f.Category
	}
	if f.ProductTag != "" {
		pairs["product_tag"] = f.ProductTag
	}
	if f.Search != "" {
		pairs["search"] = f.Search
	}
	if f.Featured {
		pairs["featured"] = "1"
	}
	if f.Page > 0 {
		pairs["page"] = strconv.Itoa(f.Page)
	}
	if f.PerPage > 0 {
		pairs["per_page"] = strconv.Itoa(f.PerPage)
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("templates")
	for _, k := range keys {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(pairs[k])
	}
	return b.String()
}

// Query 把过滤条件编码为目录接口的查询串。
func (f Filters) Query() url.Values {
	q := url.Values{}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.ProductTag != "" {
		q.Set("product_tag", f.ProductTag)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Featured {
		q.Set("featured", "true")
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(f.PerPage))
	}
	return q
}

// Fallback 返回合成的空模板记录：编辑器在目录完全不可达时
// 依然有东西可以装载。
func Fallback() *Record {
	return &Record{
		ID:   FallbackID,
		Name: "Blank template",
		Data: &CanvasData{
			Objects:    []canvas.Record{},
			Background: DefaultBackground,
			Width:      DefaultWidth,
			Height:     DefaultHeight,
		},
	}
}
