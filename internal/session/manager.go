// Package session 管理设计会话的生命周期：每个会话持有一套画布
// 注册表，空闲超时后被清扫回收。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"phCanvas/internal/canvas"
)

// ErrNotFound 会话不存在或已过期。
var ErrNotFound = errors.New("session not found")

// DefaultIdleTTL 空闲会话的默认存活时长。
const DefaultIdleTTL = 2 * time.Hour

// Session 一个在编辑中的设计。
type Session struct {
	ID        string
	Registry  *canvas.Registry
	CreatedAt time.Time

	lastSeen time.Time
}

// Manager 并发安全的会话表。
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	ttl       time.Duration
	logger    *slog.Logger
	onDestroy func(id string)

	now func() time.Time
}

func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Create 建立新会话并返回它。注册表由调用方注入，便于挂接
// 事件下游。
func (m *Manager) Create(registry *canvas.Registry) *Session {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Registry:  registry,
		CreatedAt: now,
		lastSeen:  now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("会话已创建", "session_id", s.ID, "design_type", registry.DesignType())
	return s
}

// OnDestroy 注册会话销毁后的清理动作。主动销毁与过期清扫都会触发；
// 回调在独立 goroutine 中执行，清理 IO 不阻塞会话表锁。
func (m *Manager) OnDestroy(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDestroy = fn
}

// Get 返回会话并刷新其活跃时间。
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if m.expired(s) {
		m.destroyLocked(s)
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	s.lastSeen = m.now()
	return s, nil
}

// Destroy 主动销毁会话并释放其画布资源。
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	m.destroyLocked(s)
	return nil
}

// Len 当前存活的会话数。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep 清扫一轮过期会话，返回回收数量。
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	reclaimed := 0
	for _, s := range m.sessions {
		if m.expired(s) {
			m.destroyLocked(s)
			reclaimed++
		}
	}
	return reclaimed
}

// Run 周期性清扫，直到 ctx 结束。给 main 作为后台 goroutine 用。
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("清扫过期会话", "reclaimed", n)
			}
		}
	}
}

func (m *Manager) expired(s *Session) bool {
	return m.now().Sub(s.lastSeen) > m.ttl
}

// ReinitSurfaces 对全部存活会话的画布各执行一次重建重绘，
// 返回失败的会话数。画布类故障的恢复入口。
func (m *Manager) ReinitSurfaces() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := 0
	for _, s := range m.sessions {
		if err := s.Registry.ReinitSurfaces(); err != nil {
			failed++
			m.logger.Warn("画布重建失败", "session_id", s.ID, "error", err)
		}
	}
	return failed
}

func (m *Manager) destroyLocked(s *Session) {
	s.Registry.Close()
	delete(m.sessions, s.ID)
	m.logger.Info("会话已销毁", "session_id", s.ID)
	if m.onDestroy != nil {
		go m.onDestroy(s.ID)
	}
}
