// Package supervisor 集中接管运行期错误：按来源分类、去重、触发
// 对应的恢复动作，并保留一段有界的错误日志供诊断接口查询。
// 设计目标是任何单个操作的失败都不拖垮整个编辑会话。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"phCanvas/internal/metrics"
)

// Class 是错误的粗粒度分类，决定走哪条恢复路径。
type Class string

const (
	ClassCanvas   Class = "canvas"
	ClassNetwork  Class = "network"
	ClassTemplate Class = "template"
	ClassNullRef  Class = "nullref"
	ClassGeneric  Class = "generic"
)

const (
	// maxLogEntries bounds the retained error log.
	maxLogEntries = 100
	// suppressAfter 同一错误重复到第几次之后停止对外通知与恢复动作。
	suppressAfter = 3
)

// Report 是一次被接管的错误。
type Report struct {
	Class      Class     `json:"class"`
	Message    string    `json:"message"`
	Origin     string    `json:"origin"`
	At         time.Time `json:"at"`
	Count      int       `json:"count"`
	Suppressed bool      `json:"suppressed,omitempty"`
}

// RecoveryFunc 针对某一类错误执行恢复动作。恢复动作自身 panic
// 或报错只记日志，绝不向外扩散。
type RecoveryFunc func(ctx context.Context, r Report) error

// Supervisor 错误接管器。并发安全。
type Supervisor struct {
	mu     sync.Mutex
	hooks  map[Class][]RecoveryFunc
	counts map[uint64]int
	log    []Report
	logger *slog.Logger

	now func() time.Time
}

func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		hooks:  make(map[Class][]RecoveryFunc),
		counts: make(map[uint64]int),
		logger: logger,
		now:    time.Now,
	}
}

// OnClass 注册某一类错误的恢复动作。可多次注册，按注册顺序执行。
func (s *Supervisor) OnClass(class Class, fn RecoveryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[class] = append(s.hooks[class], fn)
}

// Classify 用错误文本与类型的启发式规则定级。
func Classify(err error) Class {
	if err == nil {
		return ClassGeneric
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "nil pointer", "invalid memory address", "nil map"):
		return ClassNullRef
	case containsAny(msg, "template"):
		return ClassTemplate
	case containsAny(msg, "connection", "timeout", "timed out", "dial", "unexpected eof", "no such host", "status 5"):
		return ClassNetwork
	case containsAny(msg, "canvas", "surface", "render", "decode image"):
		return ClassCanvas
	default:
		return ClassGeneric
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func fingerprint(class Class, message, origin string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(class))
	h.Write([]byte{0})
	h.Write([]byte(message))
	h.Write([]byte{0})
	h.Write([]byte(origin))
	return h.Sum64()
}

// Capture 接管一个错误：分类、计数、记录，并在未被抑制时执行
// 对应类别的恢复动作。返回生成的 Report。
func (s *Supervisor) Capture(ctx context.Context, err error, origin string) Report {
	class := Classify(err)
	report := Report{
		Class:   class,
		Message: err.Error(),
		Origin:  origin,
		At:      s.now(),
	}

	key := fingerprint(class, report.Message, origin)
	s.mu.Lock()
	s.counts[key]++
	report.Count = s.counts[key]
	report.Suppressed = report.Count > suppressAfter
	// 抑制只作用于对外通知与恢复动作，内部日志照常追加。
	s.log = append(s.log, report)
	if len(s.log) > maxLogEntries {
		s.log = s.log[len(s.log)-maxLogEntries:]
	}
	hooks := s.hooks[class]
	s.mu.Unlock()

	if report.Suppressed {
		return report
	}

	s.logger.Warn("错误已接管",
		"class", string(class), "origin", origin, "count", report.Count, "error", err)
	metrics.Recovery(string(class))

	for _, hook := range hooks {
		s.runHook(ctx, hook, report)
	}
	return report
}

// runHook 执行单个恢复动作并兜住它自己的 panic。
func (s *Supervisor) runHook(ctx context.Context, hook RecoveryFunc, r Report) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("恢复动作 panic", "class", string(r.Class), "panic", fmt.Sprint(rec))
		}
	}()
	if err := hook(ctx, r); err != nil {
		s.logger.Warn("恢复动作失败", "class", string(r.Class), "error", err)
	}
}

// Guard 运行 fn 并把其中的 panic 转成已接管错误。用于包住事件
// 处理器等不能让 panic 外泄的调用点。
func (s *Supervisor) Guard(ctx context.Context, origin string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			s.Capture(ctx, err, origin)
		}
	}()
	if err = fn(); err != nil {
		s.Capture(ctx, err, origin)
	}
	return err
}

// Recent 返回保留的错误日志副本，新错误在后。
func (s *Supervisor) Recent() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.log))
	copy(out, s.log)
	return out
}

// Reset 清空日志与去重计数。诊断接口用。
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
	s.counts = make(map[uint64]int)
}
