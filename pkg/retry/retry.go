// Package retry 以有上限的指数退避重试幂等调用。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted 在次数用尽后包装最后一次的错误。
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy 限定尝试次数与两次尝试之间的等待。
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// permanentError 标记不应重试的错误。
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 让 Do 遇到 err 时立即返回。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do 反复调用 fn，直到成功、返回 Permanent 错误、次数用尽或 ctx 结束。
// 返回的错误总是包装 fn 最后一次的错误。
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff

	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if i == attempts {
			break
		}
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %v (context: %v)", ErrExhausted, lastErr, ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
