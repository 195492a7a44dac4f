package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss 表示缓存中不存在（或已过期的）条目。
var ErrMiss = errors.New("cache miss")

// Cache 是模板目录与图库搜索结果共用的 TTL 缓存抽象。
// 过期条目绝不返回：Get 对过期键返回 ErrMiss。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every entry whose key starts with prefix.
	// Used by failure recovery to drop poisoned state wholesale.
	DeletePrefix(ctx context.Context, prefix string) error
}
