package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/pkg/llm"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/textutil"

	"golang.org/x/sync/errgroup"
)

// Synthesizer 为每条命中的房源生成一段基于其字段的描述。
type Synthesizer struct {
	client      llm.Client
	instruction string
	timeout     time.Duration
	concurrency int
}

// NewSynthesizer 创建一个新的 Synthesizer，concurrency 限制同时进行的 LLM 调用数。
func NewSynthesizer(client llm.Client, instruction string, timeout time.Duration, concurrency int) *Synthesizer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Synthesizer{client: client, instruction: instruction, timeout: timeout, concurrency: concurrency}
}

// Describe 针对单条房源调用一次 LLM，不重试。
func (s *Synthesizer) Describe(ctx context.Context, query string, listing model.ListingPayload) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.client.Complete(ctx, []llm.Message{
		{Role: model.RoleSystem, Content: s.instruction},
		{Role: model.RoleUser, Content: listingPrompt(query, listing)},
	}, nil)
	if err != nil {
		return "", upstream(fmt.Sprintf("describe listing %d", listing.ID), err)
	}
	return strings.TrimSpace(text), nil
}

// DescribeAll 并行生成所有描述，结果与 hits 一一对应。任一失败则整体失败。
func (s *Synthesizer) DescribeAll(ctx context.Context, query string, hits []model.ScoredListing) ([]string, error) {
	out := make([]string, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, hit := range hits {
		i, hit := i, hit
		g.Go(func() error {
			text, err := s.Describe(gctx, query, hit.Listing)
			if err != nil {
				return err
			}
			out[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("[Synthesizer] 生成房源描述失败: %v", err)
		return nil, err
	}
	return out, nil
}

// listingPrompt 列出全部结构化字段；描述中的社交链接在送入模型前先去掉。
func listingPrompt(query string, p model.ListingPayload) string {
	var b strings.Builder
	b.WriteString("Listing:\n")
	fmt.Fprintf(&b, "- Price: %s %s\n", strconv.FormatFloat(p.Price, 'f', -1, 64), p.PriceCurrency)
	fmt.Fprintf(&b, "- Address: %s\n", p.Address)
	fmt.Fprintf(&b, "- Rooms: %s\n", p.Room)
	fmt.Fprintf(&b, "- Area: %s m2\n", strconv.FormatFloat(p.Square, 'f', -1, 64))
	fmt.Fprintf(&b, "- Floor: %d/%d\n", p.Floor, p.FloorTotal)
	fmt.Fprintf(&b, "- New building: %s\n", yesNo(p.IsNewBuilding))
	fmt.Fprintf(&b, "- Repair: %s\n", p.Repair)
	fmt.Fprintf(&b, "- Foundation: %s\n", p.Foundation)
	fmt.Fprintf(&b, "- Description: %s\n", textutil.StripSocialLinks(p.Description))
	fmt.Fprintf(&b, "\nQuery: %s", query)
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
