package stock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"phCanvas/internal/storage"
)

const (
	proxyPrefix      = "stock-proxy/"
	maxImageBytes    = 16 << 20
	downloadTimeout  = 30 * time.Second
	imageContentType = "application/octet-stream"
)

// ProxyStore 保存已经下载过的图库图片，避免对同一地址反复回源。
type ProxyStore interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, data []byte, contentType string) error
}

// MinIOProxy 把 ProxyStore 落到对象存储上。
type MinIOProxy struct {
	client *storage.Client
}

func NewMinIOProxy(client *storage.Client) *MinIOProxy {
	return &MinIOProxy{client: client}
}

func (p *MinIOProxy) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := p.client.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open proxy object %q: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(io.LimitReader(obj, maxImageBytes))
	if err != nil {
		if storage.IsNoSuchKey(err) {
			return nil, fmt.Errorf("proxy object %q: %w", key, err)
		}
		return nil, fmt.Errorf("read proxy object %q: %w", key, err)
	}
	return data, nil
}

func (p *MinIOProxy) Store(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := p.client.UploadFile(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	return err
}

// Downloader 为画布取回图库图片字节。先走代理仓，未命中再回源
// 原始地址，并把回源结果写回代理仓。实现 canvas.ImageFetcher。
type Downloader struct {
	proxy  ProxyStore
	client *http.Client
	logger *slog.Logger
}

func NewDownloader(proxy ProxyStore, client *http.Client, logger *slog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &Downloader{proxy: proxy, client: client, logger: logger}
}

func proxyKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return proxyPrefix + hex.EncodeToString(sum[:])
}

// FetchImage 返回图片原始字节。
func (d *Downloader) FetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	key := proxyKey(rawURL)
	if d.proxy != nil {
		if data, err := d.proxy.Fetch(ctx, key); err == nil && len(data) > 0 {
			return data, nil
		}
	}

	data, contentType, err := d.direct(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if d.proxy != nil {
		if err := d.proxy.Store(ctx, key, data, contentType); err != nil {
			d.logger.Warn("写图片代理仓失败", "key", key, "error", err)
		}
	}
	return data, nil
}

func (d *Downloader) direct(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request %q: %w", rawURL, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image %q: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image %q: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read image %q: %w", rawURL, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = imageContentType
	}
	return data, contentType, nil
}
