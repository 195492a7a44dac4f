package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Permanent 包装不应重试的错误（例如校验失败，重试也不会变好）。
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// MarkPermanent wraps err so Policy.Do stops retrying immediately.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Policy 描述一次可重试操作的全部参数。
// TemplateRepository 与 stock Gateway 共用同一份策略实现。
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// Delay returns the pause before the given attempt (1-based); the
	// first attempt never waits.
	Delay func(attempt int) time.Duration
	// Retryable reports whether the error is worth another attempt.
	// nil means every non-permanent error is retryable.
	Retryable func(err error) bool

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Linear returns a delay function growing as attempt × base.
func Linear(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Do 串行执行 op，按策略重试；同一 key 的重试绝不并发。
// 返回最后一次失败的错误（带尝试次数）。
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Delay != nil {
			if err := sleep(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
