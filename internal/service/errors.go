package service

import (
	"errors"
	"fmt"
)

// 业务层的错误分类，处理器通过 errors.Is 把它们映射为 HTTP 状态码与用户提示。
var (
	// ErrUpstreamUnavailable 表示向量化、检索、LLM 或状态存储不可用或超时。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrOffDomainQuery 表示问题与房产无关，不消耗积分。
	ErrOffDomainQuery = errors.New("query is not about real estate")
	// ErrNoCreditsRemaining 表示余额为 0，检索在任何上游调用之前被拒绝。
	ErrNoCreditsRemaining = errors.New("no credits remaining")
	// ErrMalformedInput 表示结构化录入无法解析。
	ErrMalformedInput = errors.New("malformed input")
	// ErrIndexNotReady 表示检索时集合尚未建立。
	ErrIndexNotReady = fmt.Errorf("listing index not ready: %w", ErrUpstreamUnavailable)
	// ErrSelfReferral 表示用户试图推荐自己。
	ErrSelfReferral = errors.New("self referral")
	// ErrUnknownReferrer 表示推荐码无效或推荐人不存在。
	ErrUnknownReferrer = errors.New("unknown referrer")
)

// upstream 把外部调用的失败包装为 ErrUpstreamUnavailable，同时保留原始错误链。
func upstream(op string, err error) error {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}
