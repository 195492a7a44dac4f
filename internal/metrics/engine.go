package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phcanvas",
			Subsystem: "engine",
			Name:      "cache_hits_total",
			Help:      "TTL 缓存命中总数。",
		},
		[]string{"cache"},
	)

	cacheMissTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phcanvas",
			Subsystem: "engine",
			Name:      "cache_misses_total",
			Help:      "TTL 缓存未命中总数。",
		},
		[]string{"cache"},
	)

	inFlightCollapsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phcanvas",
			Subsystem: "engine",
			Name:      "inflight_collapsed_total",
			Help:      "被合并进已有 in-flight 请求的调用总数。",
		},
		[]string{"component"},
	)

	retryAttemptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phcanvas",
			Subsystem: "engine",
			Name:      "retry_attempts_total",
			Help:      "网络请求尝试总数（含首次）。",
		},
		[]string{"component"},
	)

	rateLimitRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phcanvas",
			Subsystem: "engine",
			Name:      "rate_limit_rejections_total",
			Help:      "因小时配额耗尽被拒绝的搜索请求总数。",
		},
		[]string{"provider"},
	)

	fallbackServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phcanvas",
			Subsystem: "engine",
			Name:      "fallbacks_served_total",
			Help:      "重试耗尽后返回降级数据的总数。",
		},
		[]string{"component"},
	)

	recoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phcanvas",
			Subsystem: "engine",
			Name:      "recoveries_total",
			Help:      "错误监督器发起的恢复动作总数。",
		},
		[]string{"class"},
	)
)

func CacheHit(cache string)              { cacheHitTotal.WithLabelValues(cache).Inc() }
func CacheMiss(cache string)             { cacheMissTotal.WithLabelValues(cache).Inc() }
func InFlightCollapsed(component string) { inFlightCollapsedTotal.WithLabelValues(component).Inc() }
func RetryAttempt(component string)      { retryAttemptTotal.WithLabelValues(component).Inc() }
func RateLimitRejected(provider string)  { rateLimitRejectedTotal.WithLabelValues(provider).Inc() }
func FallbackServed(component string)    { fallbackServedTotal.WithLabelValues(component).Inc() }
func Recovery(class string)              { recoveryTotal.WithLabelValues(class).Inc() }
