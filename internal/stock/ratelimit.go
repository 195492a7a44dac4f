package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited 表示该图库源本小时的配额已用完。
var ErrRateLimited = errors.New("stock provider hourly quota exhausted")

const quotaWindow = time.Hour

// QuotaStore 保存按小时滚动的计数器。
type QuotaStore interface {
	// Count returns the current counter value, zero when the key is absent.
	Count(ctx context.Context, key string) (int64, error)
	// Incr bumps the counter and arms its expiry on first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisQuota 基于 Redis 的配额计数器。INCR 之后对新键补 EXPIRE，
// 窗口到期后计数器自动消失。
type RedisQuota struct {
	client *redis.Client
}

func NewRedisQuota(client *redis.Client) *RedisQuota {
	return &RedisQuota{client: client}
}

func (q *RedisQuota) Count(ctx context.Context, key string) (int64, error) {
	n, err := q.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota counter %q: %w", key, err)
	}
	return n, nil
}

func (q *RedisQuota) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr quota counter %q: %w", key, err)
	}
	if n == 1 {
		if err := q.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("expire quota counter %q: %w", key, err)
		}
	}
	return n, nil
}

// MemoryQuota 进程内计数器，供测试与无 Redis 的部署使用。
type MemoryQuota struct {
	mu      sync.Mutex
	entries map[string]memoryCount

	now func() time.Time
}

type memoryCount struct {
	n       int64
	expires time.Time
}

func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{entries: make(map[string]memoryCount), now: time.Now}
}

func (q *MemoryQuota) Count(_ context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok || q.now().After(e.expires) {
		return 0, nil
	}
	return e.n, nil
}

func (q *MemoryQuota) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok || q.now().After(e.expires) {
		e = memoryCount{expires: q.now().Add(ttl)}
	}
	e.n++
	q.entries[key] = e
	return e.n, nil
}

// Limiter 对每个图库源执行每小时配额。
type Limiter struct {
	store QuotaStore
	limit func(provider string) int
	now   func() time.Time
}

func NewLimiter(store QuotaStore, limit func(provider string) int) *Limiter {
	return &Limiter{store: store, limit: limit, now: time.Now}
}

func quotaKey(provider string, t time.Time) string {
	return fmt.Sprintf("stock_quota:%s:%s", provider, t.UTC().Format("2006010215"))
}

// Allow 在配额内时返回 nil。配额已满时返回 ErrRateLimited
// 且不递增计数器——被拒绝的调用不消耗配额。
func (l *Limiter) Allow(ctx context.Context, provider string) error {
	key := quotaKey(provider, l.now())
	n, err := l.store.Count(ctx, key)
	if err != nil {
		return err
	}
	if n >= int64(l.limit(provider)) {
		return fmt.Errorf("provider %q: %w", provider, ErrRateLimited)
	}
	return nil
}

// Record 在真正发起上游请求时记一次账。
func (l *Limiter) Record(ctx context.Context, provider string) error {
	_, err := l.store.Incr(ctx, quotaKey(provider, l.now()), quotaWindow)
	return err
}
