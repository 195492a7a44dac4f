package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"phCanvas/internal/session"
)

// WsHandler 负责 WebSocket 订阅与消息转发：客户端先声明要监听的
// 会话，之后 Redis Pub/Sub 上该会话的事件被原样转发。
type WsHandler struct {
	redisClient    *redis.Client
	sessions       *session.Manager
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient *redis.Client, sessions *session.Manager, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		sessions:       sessions,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

type wsSubscribeMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// HandleConnection 负责升级连接并启动读写循环。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	baseLog := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
	)

	sessionCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go h.readLoop(ctx, conn, sessionCh, errCh, cancel, baseLog)

	var sessionID string
	select {
	case <-ctx.Done():
		return
	case err := <-errCh:
		if err != nil {
			baseLog.Warn("websocket subscription failed", slog.Any("error", err))
		}
		return
	case sessionID = <-sessionCh:
	}

	sessionLog := baseLog.With(slog.String("session_id", sessionID))
	go h.subscribeLoop(ctx, conn, sessionID, errCh, cancel, sessionLog)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			sessionLog.Info("websocket connection closed", slog.Any("error", err))
		} else {
			sessionLog.Info("websocket connection closed")
		}
	}
}

func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	sessionCh chan<- string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	subscribed := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			writeClose(conn, websocket.CloseAbnormalClosure, "read error")
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}

		if !subscribed {
			var subMsg wsSubscribeMessage
			if err := json.Unmarshal(message, &subMsg); err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "invalid subscribe payload")
				errCh <- fmt.Errorf("decode subscribe payload: %w", err)
				cancel()
				return
			}
			if subMsg.Type != "subscribe" || subMsg.SessionID == "" {
				writeClose(conn, websocket.ClosePolicyViolation, "subscribe required")
				errCh <- fmt.Errorf("invalid subscribe message")
				cancel()
				return
			}

			if _, err := h.sessions.Get(subMsg.SessionID); err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "unknown session")
				errCh <- fmt.Errorf("resolve session: %w", err)
				cancel()
				return
			}

			subscribed = true
			sessionCh <- subMsg.SessionID
			log.Info("websocket subscribed", slog.String("session_id", subMsg.SessionID))
			continue
		}

		// 目前无需处理额外消息，保持循环以检测客户端断开。
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	sessionID string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	channel := fmt.Sprintf("design_notify:%s", sessionID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- fmt.Errorf("pubsub channel closed")
				cancel()
				return
			}

			log.Info("forwarding message to client", slog.String("channel", channel))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
