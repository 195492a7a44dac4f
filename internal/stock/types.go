package stock

import (
	"fmt"
	"strings"
)

// ResolutionURLs 按分辨率分层的图片地址。
type ResolutionURLs struct {
	Thumbnail string `json:"thumbnail,omitempty"`
	Medium    string `json:"medium,omitempty"`
	Large     string `json:"large,omitempty"`
}

// empty reports whether no tier carries a usable URL.
func (u ResolutionURLs) empty() bool {
	return u.Thumbnail == "" && u.Medium == "" && u.Large == ""
}

// Best 返回可用的最高分辨率地址。
func (u ResolutionURLs) Best() string {
	switch {
	case u.Large != "":
		return u.Large
	case u.Medium != "":
		return u.Medium
	default:
		return u.Thumbnail
	}
}

// ImageRecord 是归一化后的图库图片记录。
// 缺 id 或没有任何分辨率地址的记录在到达消费者之前就被丢弃。
type ImageRecord struct {
	ID               string         `json:"id"`
	Provider         string         `json:"provider"`
	Title            string         `json:"title,omitempty"`
	URLs             ResolutionURLs `json:"urls"`
	Photographer     string         `json:"photographer,omitempty"`
	PhotographerURL  string         `json:"photographer_url,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	NeedsAttribution bool           `json:"needs_attribution"`
}

// valid 判断记录是否可交付给消费者。
func (r ImageRecord) valid() bool {
	return strings.TrimSpace(r.ID) != "" && !r.URLs.empty()
}

// Query 描述一次图库搜索。
type Query struct {
	Term    string `json:"term"`
	Source  string `json:"source"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

// CacheKey 为相同查询生成相同的缓存键。
func (q Query) CacheKey() string {
	return fmt.Sprintf("stock:%s:%s:%d:%d", q.Source, strings.ToLower(strings.TrimSpace(q.Term)), q.Page, q.PerPage)
}

// SearchResult 是 SearchImages 的返回形状。
// 彻底失败时 Images 为空且 Reason 说明原因——调用方展示“无结果”，
// 绝不崩溃。
type SearchResult struct {
	Images  []ImageRecord `json:"images"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
	Reason  string        `json:"reason,omitempty"`
}
