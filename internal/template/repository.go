package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"phCanvas/internal/cache"
	"phCanvas/internal/metrics"
	"phCanvas/internal/retry"
)

// ErrNotFound 表示目录中不存在该模板。
var ErrNotFound = errors.New("template not found")

// DefaultTTL 是模板列表缓存的默认存活时间。
const DefaultTTL = 5 * time.Minute

const fetchTimeout = 30 * time.Second

// Repository 负责模板目录的拉取、校验、缓存与请求合并。
type Repository struct {
	baseURL string
	client  *http.Client
	cache   cache.Cache
	ttl     time.Duration
	policy  retry.Policy
	match   TagMatcher
	group   singleflight.Group
	logger  *slog.Logger
}

// Options 控制 Repository 的可调参数；零值字段使用默认值。
type Options struct {
	Client   *http.Client
	TTL      time.Duration
	Policy   *retry.Policy
	TagMatch TagMatcher
}

// NewRepository 构造目录仓库。cache 不可为 nil（测试用 cache.NewMemory()）。
func NewRepository(baseURL string, store cache.Cache, logger *slog.Logger, opts Options) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	policy := retry.Policy{
		MaxAttempts: 3,
		Delay:       retry.Linear(time.Second),
	}
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	match := opts.TagMatch
	if match == nil {
		match = ExactTagMatch
	}

	return &Repository{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
		cache:   store,
		ttl:     ttl,
		policy:  policy,
		match:   match,
		logger:  logger,
	}
}

// LoadTemplates 按过滤条件返回模板列表。
// 同键并发调用合并为一次网络请求；TTL 内的缓存命中不触网；
// 重试耗尽时返回合成的空白模板而非错误——编辑器永远有东西可装载。
func (r *Repository) LoadTemplates(ctx context.Context, filters Filters) *ListResult {
	key := filters.CacheKey()

	if cached, err := r.cache.Get(ctx, key); err == nil {
		var result ListResult
		if err := json.Unmarshal(cached, &result); err == nil {
			metrics.CacheHit("templates")
			return &result
		}
		// 缓存损坏按未命中处理，顺手清掉。
		_ = r.cache.Delete(ctx, key)
	}
	metrics.CacheMiss("templates")

	value, err, shared := r.group.Do(key, func() (any, error) {
		return r.fetchList(ctx, key, filters)
	})
	if shared {
		metrics.InFlightCollapsed("templates")
	}
	if err != nil {
		r.logger.Warn("template catalog unreachable, serving fallback",
			slog.String("key", key),
			slog.Any("error", err),
		)
		metrics.FallbackServed("templates")
		return &ListResult{Count: 1, Results: []*Record{Fallback()}}
	}
	return value.(*ListResult)
}

// fetchList 执行一次带重试的目录拉取并回填缓存。
// 用脱离调用方取消的上下文执行：挂在同一 in-flight 结果上的
// 其他调用者不应被首个调用者的取消连坐。
func (r *Repository) fetchList(ctx context.Context, key string, filters Filters) (*ListResult, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
	defer cancel()

	var result *ListResult
	err := r.policy.Do(fetchCtx, func(ctx context.Context) error {
		metrics.RetryAttempt("templates")
		body, err := r.get(ctx, "/v1/templates?"+filters.Query().Encode())
		if err != nil {
			return err
		}

		var wire wireList
		if err := json.Unmarshal(body, &wire); err != nil {
			// 载荷畸形不值得重试，修不了的只能按拉取失败处理。
			return retry.MarkPermanent(fmt.Errorf("decode template list: %w", err))
		}

		records := make([]*Record, 0, len(wire.Results))
		for _, raw := range wire.Results {
			rec := validateRecord(raw, r.logger)
			if rec == nil {
				continue
			}
			if !matchesTag(rec, filters.ProductTag, r.match) {
				continue
			}
			records = append(records, rec)
		}
		result = &ListResult{Count: len(records), Results: records}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(result); err == nil {
		if err := r.cache.Set(fetchCtx, key, encoded, r.ttl); err != nil {
			r.logger.Warn("cache template list failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return result, nil
}

// LoadTemplate 拉取单条模板，校验契约与列表一致。
// 目录明确返回 404 时报 ErrNotFound；网络彻底不可达时退化为空白模板。
func (r *Repository) LoadTemplate(ctx context.Context, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	key := "template:" + id
	if cached, err := r.cache.Get(ctx, key); err == nil {
		var rec Record
		if err := json.Unmarshal(cached, &rec); err == nil {
			metrics.CacheHit("templates")
			return &rec, nil
		}
		_ = r.cache.Delete(ctx, key)
	}
	metrics.CacheMiss("templates")

	value, err, shared := r.group.Do(key, func() (any, error) {
		return r.fetchOne(ctx, key, id)
	})
	if shared {
		metrics.InFlightCollapsed("templates")
	}
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Warn("template fetch failed, serving fallback",
			slog.String("id", id),
			slog.Any("error", err),
		)
		metrics.FallbackServed("templates")
		return Fallback(), nil
	}
	return value.(*Record), nil
}

func (r *Repository) fetchOne(ctx context.Context, key, id string) (*Record, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
	defer cancel()

	var record *Record
	err := r.policy.Do(fetchCtx, func(ctx context.Context) error {
		metrics.RetryAttempt("templates")
		body, err := r.get(ctx, "/v1/templates/"+id)
		if err != nil {
			return err
		}

		var wire wireRecord
		if err := json.Unmarshal(body, &wire); err != nil {
			return retry.MarkPermanent(fmt.Errorf("decode template %q: %w", id, err))
		}
		rec := validateRecord(wire, r.logger)
		if rec == nil {
			return retry.MarkPermanent(fmt.Errorf("template %q: %w", id, ErrNotFound))
		}
		record = rec
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if encoded, err := json.Marshal(record); err == nil {
		if err := r.cache.Set(fetchCtx, key, encoded, r.ttl); err != nil {
			r.logger.Warn("cache template failed", slog.String("id", id), slog.Any("error", err))
		}
	}
	return record, nil
}

// get 对目录接口做一次 GET；404 映射为 ErrNotFound（永久），
// 其余非 2xx 视作网络故障交给重试。
func (r *Repository) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, retry.MarkPermanent(fmt.Errorf("build catalog request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, retry.MarkPermanent(ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, fmt.Errorf("catalog status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}
	return body, nil
}

// ClearCache 丢弃全部模板缓存。网络类故障恢复时调用，
// 避免下一次重试被污染的状态拖累。
func (r *Repository) ClearCache(ctx context.Context) error {
	if err := r.cache.DeletePrefix(ctx, "template"); err != nil {
		return fmt.Errorf("clear template cache: %w", err)
	}
	return nil
}
