package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/llm"
	"estate-smart-go/pkg/log"
)

// Outcome 描述一次问答的结果类型。
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeNoResults Outcome = "no_results"
)

// ListingReply 是房源入口中单条房源的回复：描述加最多若干张图片。
type ListingReply struct {
	ID     int64    `json:"id"`
	Text   string   `json:"text"`
	Photos []string `json:"photos"`
}

// Reply 是一次问答的完整结果。
type Reply struct {
	Text     string         `json:"text"`
	Listings []ListingReply `json:"listings,omitempty"`
	Action   string         `json:"action,omitempty"`
	Credits  int            `json:"credits"`
	Outcome  Outcome        `json:"outcome"`
}

// ComposeInput 是交给 Composer 的检索上下文。
type ComposeInput struct {
	UserID  int64
	Query   string
	Refined string
	Hits    []model.ScoredListing
	History []model.ChatMessage
	// Stream 非空时，支持流式的 Composer 会边生成边写出。
	Stream llm.MessageWriter
}

// Composer 把检索结果组织成最终回复，不同入口使用不同实现。
type Composer interface {
	Compose(ctx context.Context, in ComposeInput) (*Reply, error)
}

// ---- 房源入口：逐条描述 ----

type listingComposer struct {
	synth     *Synthesizer
	maxPhotos int
}

// NewListingComposer 为每条命中生成一段描述并附上图片。
func NewListingComposer(synth *Synthesizer, maxPhotos int) Composer {
	return &listingComposer{synth: synth, maxPhotos: maxPhotos}
}

func (c *listingComposer) Compose(ctx context.Context, in ComposeInput) (*Reply, error) {
	// 描述基于用户原始问题，而不是改写后的检索语句
	texts, err := c.synth.DescribeAll(ctx, in.Query, in.Hits)
	if err != nil {
		return nil, err
	}
	reply := &Reply{Outcome: OutcomeAnswered, Listings: make([]ListingReply, 0, len(in.Hits))}
	for i, hit := range in.Hits {
		photos := hit.Listing.Photos
		if c.maxPhotos > 0 && len(photos) > c.maxPhotos {
			photos = photos[:c.maxPhotos]
		}
		reply.Listings = append(reply.Listings, ListingReply{
			ID:     hit.Listing.ID,
			Text:   texts[i],
			Photos: append([]string{}, photos...),
		})
	}
	return reply, nil
}

// ---- 通用入口：合并为一段回答 ----

type digestComposer struct {
	client      llm.Client
	instruction string
	timeout     time.Duration
}

// NewDigestComposer 把全部命中合并为一个上下文，生成一段回答，可流式输出。
func NewDigestComposer(client llm.Client, instruction string, timeout time.Duration) Composer {
	return &digestComposer{client: client, instruction: instruction, timeout: timeout}
}

func (c *digestComposer) Compose(ctx context.Context, in ComposeInput) (*Reply, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	msgs := []llm.Message{
		{Role: model.RoleSystem, Content: c.instruction},
		{Role: model.RoleUser, Content: fmt.Sprintf("Context:\n%s\n\nQuery: %s", buildContextText(in.Hits), in.Query)},
	}

	if in.Stream != nil {
		capture := &captureWriter{next: in.Stream}
		if err := c.client.StreamChatMessages(ctx, msgs, nil, capture); err != nil {
			return nil, upstream("stream digest", err)
		}
		return &Reply{Text: strings.TrimSpace(capture.text.String()), Outcome: OutcomeAnswered}, nil
	}

	text, err := c.client.Complete(ctx, msgs, nil)
	if err != nil {
		return nil, upstream("digest", err)
	}
	return &Reply{Text: strings.TrimSpace(text), Outcome: OutcomeAnswered}, nil
}

// buildContextText 每条命中一行，编号从 1 开始。
func buildContextText(hits []model.ScoredListing) string {
	var b strings.Builder
	for i, h := range hits {
		p := h.Listing
		fmt.Fprintf(&b, "[%d] %s | %s %s | rooms: %s | %s m2 | floor %d/%d | %s\n",
			i+1, p.Address, strconv.FormatFloat(p.Price, 'f', -1, 64), p.PriceCurrency,
			p.Room, strconv.FormatFloat(p.Square, 'f', -1, 64), p.Floor, p.FloorTotal,
			strings.Join(strings.Fields(p.Description), " "))
	}
	return b.String()
}

// captureWriter 在转发分块的同时保存完整答案。
type captureWriter struct {
	next llm.MessageWriter
	text strings.Builder
}

func (w *captureWriter) WriteMessage(messageType int, data []byte) error {
	w.text.Write(data)
	return w.next.WriteMessage(messageType, data)
}

// ---- 助手入口：回答加结构化动作 ----

type agentComposer struct {
	client      llm.Client
	agents      repository.AgentRepository
	instruction string
	timeout     time.Duration
}

// NewAgentComposer 要求模型以 JSON 返回回复与动作，提示中带上经纪人的客户列表。
func NewAgentComposer(client llm.Client, agents repository.AgentRepository, instruction string, timeout time.Duration) Composer {
	return &agentComposer{client: client, agents: agents, instruction: instruction, timeout: timeout}
}

func (c *agentComposer) Compose(ctx context.Context, in ComposeInput) (*Reply, error) {
	clients, err := c.agents.ListClients(ctx, in.UserID)
	if err != nil {
		// 客户列表只是补充信息，失败时继续
		log.Warnf("[AgentComposer] 获取客户列表失败: %v", err)
	}
	var clientInfo []string
	for _, cl := range clients {
		clientInfo = append(clientInfo, fmt.Sprintf("%s (Email: %s, Phone: %s)", cl.Name, cl.Email, cl.Phone))
	}

	prompt := fmt.Sprintf("Agent's clients: %s\n\nConversation:\n%s\n\nDetected intent: %s\n\nContext:\n%s\nMessage: %s",
		strings.Join(clientInfo, ", "),
		model.FormatHistory(in.History),
		ClassifyIntent(in.Query),
		buildContextText(in.Hits),
		in.Query,
	)

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.client.Complete(ctx, []llm.Message{
		{Role: model.RoleSystem, Content: c.instruction},
		{Role: model.RoleUser, Content: prompt},
	}, &llm.GenerationParams{JSONMode: true})
	if err != nil {
		return nil, upstream("agent reply", err)
	}
	reply, action := ParseAgentAction(raw)
	return &Reply{Text: reply, Action: action, Outcome: OutcomeAnswered}, nil
}
