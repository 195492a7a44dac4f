package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"phCanvas/internal/cache"
	"phCanvas/internal/metrics"
	"phCanvas/internal/retry"
)

// Provider 抽象具体图库的请求构造与响应归一化。
type Provider interface {
	Name() string
	NewRequest(ctx context.Context, q Query) (*http.Request, error)
	ParseResponse(body []byte) ([]ImageRecord, int, error)
}

const (
	// DefaultTTL 搜索结果缓存时长。
	DefaultTTL = 10 * time.Minute

	defaultPerPage = 20
	defaultSource  = "pexels"
	fetchTimeout   = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Gateway 面向图库源的统一搜索入口。同一查询的并发调用共享一次
// 上游请求，失败降级为带原因说明的空结果。
type Gateway struct {
	providers map[string]Provider
	limiter   *Limiter
	client    *http.Client
	cache     cache.Cache
	ttl       time.Duration
	policy    retry.Policy
	perPage   int
	group     singleflight.Group
	logger    *slog.Logger
}

// Options 覆盖 Gateway 的默认行为，零值字段保持默认。
type Options struct {
	Client  *http.Client
	TTL     time.Duration
	Policy  retry.Policy
	PerPage int
}

func NewGateway(providers []Provider, limiter *Limiter, store cache.Cache, logger *slog.Logger, opts Options) *Gateway {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	g := &Gateway{
		providers: byName,
		limiter:   limiter,
		client:    opts.Client,
		cache:     store,
		ttl:       opts.TTL,
		policy:    opts.Policy,
		perPage:   opts.PerPage,
		logger:    logger,
	}
	if g.perPage <= 0 {
		g.perPage = defaultPerPage
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: 15 * time.Second}
	}
	if g.ttl == 0 {
		g.ttl = DefaultTTL
	}
	if g.policy.MaxAttempts == 0 {
		g.policy = retry.Policy{MaxAttempts: 3, Delay: retry.Linear(time.Second)}
	}
	return g
}

// SearchImages 执行一次图库搜索。
//
// 顺序：缓存 → 配额 → 网络。缓存命中不消耗配额;配额已满时
// 返回 ErrRateLimited 且不发出任何网络请求。上游彻底失败时
// 返回空结果加 Reason,错误为 nil。
func (g *Gateway) SearchImages(ctx context.Context, q Query) (*SearchResult, error) {
	if q.Source == "" {
		q.Source = defaultSource
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = g.perPage
	}
	provider, ok := g.providers[q.Source]
	if !ok {
		return nil, fmt.Errorf("unknown stock source %q", q.Source)
	}

	key := q.CacheKey()
	if data, err := g.cache.Get(ctx, key); err == nil {
		var result SearchResult
		if err := json.Unmarshal(data, &result); err == nil {
			metrics.CacheHit("stock")
			return &result, nil
		}
	}
	metrics.CacheMiss("stock")

	if err := g.limiter.Allow(ctx, provider.Name()); err != nil {
		metrics.RateLimitRejected(provider.Name())
		return nil, err
	}

	v, err, shared := g.group.Do(key, func() (any, error) {
		return g.fetch(ctx, provider, q, key)
	})
	if shared {
		metrics.InFlightCollapsed("stock")
	}
	if err != nil {
		g.logger.Warn("图库搜索失败,返回空结果",
			"source", provider.Name(), "term", q.Term, "error", err)
		metrics.FallbackServed("stock")
		return &SearchResult{
			Images:  []ImageRecord{},
			Page:    q.Page,
			PerPage: q.PerPage,
			Reason:  fmt.Sprintf("%s unavailable: %v", provider.Name(), err),
		}, nil
	}
	return v.(*SearchResult), nil
}

func (g *Gateway) fetch(ctx context.Context, provider Provider, q Query, key string) (*SearchResult, error) {
	// 共享的抓取不随单个调用方取消。
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
	defer cancel()

	if err := g.limiter.Record(ctx, provider.Name()); err != nil {
		g.logger.Warn("记录图库配额失败", "source", provider.Name(), "error", err)
	}

	var result *SearchResult
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		metrics.RetryAttempt("stock")
		body, err := g.get(ctx, provider, q)
		if err != nil {
			return err
		}
		records, total, err := provider.ParseResponse(body)
		if err != nil {
			// 响应体损坏不会因重试而修复。
			return retry.MarkPermanent(err)
		}
		result = &SearchResult{
			Images:  records,
			Total:   total,
			Page:    q.Page,
			PerPage: q.PerPage,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(result); err == nil {
		if err := g.cache.Set(ctx, key, data, g.ttl); err != nil {
			g.logger.Warn("写图库搜索缓存失败", "key", key, "error", err)
		}
	}
	return result, nil
}

func (g *Gateway) get(ctx context.Context, provider Provider, q Query) ([]byte, error) {
	req, err := provider.NewRequest(ctx, q)
	if err != nil {
		return nil, retry.MarkPermanent(err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", provider.Name(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", provider.Name(), err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// 密钥问题，重试没有意义。
		return nil, retry.MarkPermanent(fmt.Errorf("%s rejected credentials: status %d", provider.Name(), resp.StatusCode))
	default:
		return nil, fmt.Errorf("%s returned status %d", provider.Name(), resp.StatusCode)
	}
}

// ClearCache 清空图库搜索缓存。
func (g *Gateway) ClearCache(ctx context.Context) error {
	return g.cache.DeletePrefix(ctx, "stock")
}
