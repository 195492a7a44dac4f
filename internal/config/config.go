package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Canvas   CanvasConfig   `mapstructure:"canvas"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Stock    StockConfig    `mapstructure:"stock"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Session  SessionConfig  `mapstructure:"session"`
	Internal InternalConfig `mapstructure:"internal"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 返回 host:port 形式的连接地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// CanvasConfig 描述印刷面的物理尺寸与辅助线参数。
// 像素尺寸由 物理尺寸(mm) × DPI / 25.4 推导，不直接配置。
type CanvasConfig struct {
	WidthMM         float64 `mapstructure:"width_mm"`
	HeightMM        float64 `mapstructure:"height_mm"`
	DPI             float64 `mapstructure:"dpi"`
	BleedMM         float64 `mapstructure:"bleed_mm"`
	SafeAreaMM      float64 `mapstructure:"safe_area_mm"`
	BackgroundColor string  `mapstructure:"background_color"`
}

// CatalogConfig contains settings for the remote template catalog.
type CatalogConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CacheBackend      string        `mapstructure:"cache_backend"` // "memory" or "redis"
	SubstringTagMatch bool          `mapstructure:"substring_tag_match"`
}

// StockConfig contains settings for external stock-image providers.
type StockConfig struct {
	CacheTTL       time.Duration     `mapstructure:"cache_ttl"`
	PexelsAPIKey   string            `mapstructure:"pexels_api_key"`
	PixabayAPIKey  string            `mapstructure:"pixabay_api_key"`
	HourlyLimits   map[string]int    `mapstructure:"hourly_limits"`
	ProviderBases  map[string]string `mapstructure:"provider_bases"`
	DefaultPerPage int               `mapstructure:"default_per_page"`
}

// HourlyLimit 返回指定提供商的小时配额，未配置时回退到默认值。
func (s StockConfig) HourlyLimit(provider string) int {
	if limit, ok := s.HourlyLimits[provider]; ok && limit > 0 {
		return limit
	}
	return 100
}

// RetryConfig 描述网络请求的重试策略。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// SessionConfig contains design-session lifecycle settings.
type SessionConfig struct {
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// InternalConfig 包含内部服务间调用的配置（Worker 拉取快照等）。
type InternalConfig struct {
	Secret     string `mapstructure:"secret"`
	APIBaseURL string `mapstructure:"api_base_url"`
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "designs")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("canvas.width_mm", 85.0)
	v.SetDefault("canvas.height_mm", 55.0)
	v.SetDefault("canvas.dpi", 300.0)
	v.SetDefault("canvas.bleed_mm", 3.0)
	v.SetDefault("canvas.safe_area_mm", 3.0)
	v.SetDefault("canvas.background_color", "#ffffff")
	v.SetDefault("catalog.base_url", "http://localhost:9100")
	v.SetDefault("catalog.cache_ttl", 5*time.Minute)
	v.SetDefault("catalog.cache_backend", "memory")
	v.SetDefault("catalog.substring_tag_match", false)
	v.SetDefault("stock.cache_ttl", 10*time.Minute)
	v.SetDefault("stock.default_per_page", 20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("session.idle_ttl", 30*time.Minute)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                    "API_PORT",
		"redis.host":                  "REDIS_HOST",
		"redis.port":                  "REDIS_PORT",
		"minio.endpoint":              "MINIO_ENDPOINT",
		"minio.public_endpoint":       "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":         "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":     "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":               "MINIO_USE_SSL",
		"minio.region":                "MINIO_REGION",
		"minio.bucket":                "MINIO_BUCKET",
		"minio.bucket_lookup":         "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":    "MINIO_AUTO_CREATE_BUCKET",
		"canvas.width_mm":             "CANVAS_WIDTH_MM",
		"canvas.height_mm":            "CANVAS_HEIGHT_MM",
		"canvas.dpi":                  "CANVAS_DPI",
		"canvas.bleed_mm":             "CANVAS_BLEED_MM",
		"canvas.safe_area_mm":         "CANVAS_SAFE_AREA_MM",
		"canvas.background_color":     "CANVAS_BACKGROUND_COLOR",
		"catalog.base_url":            "CATALOG_BASE_URL",
		"catalog.cache_ttl":           "CATALOG_CACHE_TTL",
		"catalog.cache_backend":       "CATALOG_CACHE_BACKEND",
		"catalog.substring_tag_match": "CATALOG_SUBSTRING_TAG_MATCH",
		"stock.cache_ttl":             "STOCK_CACHE_TTL",
		"stock.pexels_api_key":        "STOCK_PEXELS_API_KEY",
		"stock.pixabay_api_key":       "STOCK_PIXABAY_API_KEY",
		"stock.default_per_page":      "STOCK_DEFAULT_PER_PAGE",
		"retry.max_attempts":          "RETRY_MAX_ATTEMPTS",
		"retry.base_delay":            "RETRY_BASE_DELAY",
		"session.idle_ttl":            "SESSION_IDLE_TTL",
		"internal.secret":             "INTERNAL_API_SECRET",
		"internal.api_base_url":       "INTERNAL_API_BASE_URL",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Canvas.WidthMM <= 0 || cfg.Canvas.HeightMM <= 0 {
		return errors.New("canvas physical size must be positive")
	}
	if cfg.Canvas.DPI <= 0 {
		return errors.New("canvas dpi must be positive")
	}
	if cfg.Canvas.BleedMM < 0 || cfg.Canvas.SafeAreaMM < 0 {
		return errors.New("canvas margins must not be negative")
	}
	if cfg.Catalog.BaseURL == "" {
		return errors.New("catalog base url is required")
	}
	switch cfg.Catalog.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid cache backend %q", cfg.Catalog.CacheBackend)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("retry max attempts must be positive")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return errors.New("retry base delay must be positive")
	}
	if cfg.Session.IdleTTL <= 0 {
		return errors.New("session idle ttl must be positive")
	}
	return nil
}
