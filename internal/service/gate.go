package service

import (
	"context"
	"strings"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/pkg/llm"
	"estate-smart-go/pkg/log"
)

// RelevanceGate 判断一个问题是否属于房产领域。
type RelevanceGate interface {
	IsRelevant(ctx context.Context, query string) (bool, error)
}

type llmRelevanceGate struct {
	client      llm.Client
	instruction string
	timeout     time.Duration
}

// NewRelevanceGate 创建一个基于 LLM 的二分类门控，温度固定为 0。
func NewRelevanceGate(client llm.Client, instruction string, timeout time.Duration) RelevanceGate {
	return &llmRelevanceGate{client: client, instruction: instruction, timeout: timeout}
}

// IsRelevant 只有模型回答恰好为 "yes"（忽略大小写与首尾空白）时才返回 true。
// 调用失败时返回 ErrUpstreamUnavailable，不会放行。
func (g *llmRelevanceGate) IsRelevant(ctx context.Context, query string) (bool, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	answer, err := g.client.Complete(ctx, []llm.Message{
		{Role: model.RoleSystem, Content: g.instruction},
		{Role: model.RoleUser, Content: query},
	}, llm.Temperature(0))
	if err != nil {
		return false, upstream("relevance gate", err)
	}
	relevant := normalizeVerdict(answer) == "yes"
	log.Debugf("[RelevanceGate] 分类结果: %q -> %v", answer, relevant)
	return relevant, nil
}

func normalizeVerdict(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
