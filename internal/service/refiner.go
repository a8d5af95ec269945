package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/pkg/llm"
	"estate-smart-go/pkg/log"
)

// QueryRefiner 结合最近的会话历史把用户的原始问题改写为更适合检索的形式。
type QueryRefiner interface {
	Refine(ctx context.Context, query string, history []model.ChatMessage) (string, error)
}

type llmQueryRefiner struct {
	client      llm.Client
	instruction string
	historyCap  int
	timeout     time.Duration
}

// NewQueryRefiner 创建一个基于 LLM 的改写器，只使用最近 historyCap 条历史。
func NewQueryRefiner(client llm.Client, instruction string, historyCap int, timeout time.Duration) QueryRefiner {
	return &llmQueryRefiner{client: client, instruction: instruction, historyCap: historyCap, timeout: timeout}
}

// Refine 模型返回空白时原样返回 query。
func (r *llmQueryRefiner) Refine(ctx context.Context, query string, history []model.ChatMessage) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	recent := model.TrimHistory(history, r.historyCap)
	prompt := fmt.Sprintf("History:\n%s\n\nQuery: %s", model.FormatHistory(recent), query)

	refined, err := r.client.Complete(ctx, []llm.Message{
		{Role: model.RoleSystem, Content: r.instruction},
		{Role: model.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return "", upstream("query refiner", err)
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		return query, nil
	}
	log.Debugf("[QueryRefiner] 原始问题: %q, 改写后: %q", query, refined)
	return refined, nil
}
