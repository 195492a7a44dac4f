package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"phCanvas/internal/canvas"
	"phCanvas/internal/errcode"
	"phCanvas/internal/storage"
	"phCanvas/internal/tasks"
)

const (
	defaultPreviewEdge = 800
	previewURLTTL      = 24 * time.Hour
)

// PreviewTaskHandler 负责消费预览渲染任务。
type PreviewTaskHandler struct {
	storage            *storage.Client
	redisClient        *redis.Client
	logger             *slog.Logger
	internalSecret     string
	internalAPIBaseURL string
}

// NewPreviewTaskHandler 创建任务处理器。
func NewPreviewTaskHandler(
	storage *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	internalSecret string,
	internalAPIBaseURL string,
) *PreviewTaskHandler {
	return &PreviewTaskHandler{
		storage:            storage,
		redisClient:        redisClient,
		logger:             logger,
		internalSecret:     internalSecret,
		internalAPIBaseURL: strings.TrimRight(strings.TrimSpace(internalAPIBaseURL), "/"),
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PreviewTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PreviewRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("session_id", payload.SessionID),
		slog.String("side_id", payload.SideID),
	)
	log.Info("Starting preview render task...")

	// 渲染/编码阶段失败归为画布类错误码，其余保持系统错误。
	notifyCode := errcode.SystemError
	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := PreviewNotifyMessage{
			Status:        "error",
			SessionID:     payload.SessionID,
			SideID:        payload.SideID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     notifyCode,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishPreviewNotify(ctx, payload.SessionID, notify); err != nil {
			log.Error("publish preview error notification failed", slog.Any("error", err))
		}
	}()

	data, err := fetchInternalSnapshot(ctx, h.internalAPIBaseURL, payload.SessionID, payload.SideID, h.internalSecret)
	if err != nil {
		log.Error("fetch snapshot failed", slog.Any("error", err))
		return err
	}

	var snap canvas.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error("decode snapshot failed", slog.Any("error", err))
		return err
	}

	maxEdge := payload.MaxEdge
	if maxEdge <= 0 {
		maxEdge = defaultPreviewEdge
	}
	img, err := canvas.RenderSnapshot(&snap, maxEdge)
	if err != nil {
		log.Error("render preview failed", slog.Any("error", err))
		notifyCode = errcode.CanvasFailure
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Error("encode preview png failed", slog.Any("error", err))
		notifyCode = errcode.CanvasFailure
		return err
	}

	objectName := fmt.Sprintf("previews/%s/%s-%s.png", payload.SessionID, payload.SideID, uuid.NewString())
	if _, err := h.storage.UploadFile(ctx, objectName, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/png"); err != nil {
		log.Error("upload preview to minio failed", slog.Any("error", err))
		return err
	}

	previewURL, err := h.storage.GeneratePresignedURL(ctx, objectName, previewURLTTL)
	if err != nil {
		log.Warn("generate preview url failed, fallback to object key", slog.Any("error", err))
		previewURL = objectName
	}

	notify := PreviewNotifyMessage{
		Status:        "completed",
		SessionID:     payload.SessionID,
		SideID:        payload.SideID,
		PreviewURL:    previewURL,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishPreviewNotify(ctx, payload.SessionID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Preview render task completed successfully.")
	return nil
}

func (h *PreviewTaskHandler) publishPreviewNotify(ctx context.Context, sessionID string, notify PreviewNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("design_notify:%s", sessionID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
