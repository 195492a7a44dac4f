package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"phCanvas/internal/canvas"
)

// RedisEventSink 把画布事件发布到会话的通知频道,WebSocket 端
// 再转发给前端。发布在独立 goroutine 里进行，绝不阻塞画布操作。
type RedisEventSink struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisEventSink(client *redis.Client, sessionID string, logger *slog.Logger) *RedisEventSink {
	return &RedisEventSink{
		client:  client,
		channel: fmt.Sprintf("design_notify:%s", sessionID),
		logger:  logger,
	}
}

// Publish 实现 canvas.EventSink。
func (s *RedisEventSink) Publish(event canvas.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("marshal canvas event failed", slog.Any("error", err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
			s.logger.Warn("publish canvas event failed",
				slog.String("channel", s.channel), slog.Any("error", err))
		}
	}()
}
