package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/log"
)

// PropertyInput 是 add_property 模式下经纪人发送的 JSON。
type PropertyInput struct {
	Address     string  `json:"address" binding:"required"`
	Price       float64 `json:"price" binding:"required"`
	Bedrooms    int     `json:"bedrooms"`
	Bathrooms   int     `json:"bathrooms"`
	SquareFeet  float64 `json:"square_feet"`
	Description string  `json:"description"`
}

// ClientInput 是 add_client 模式下经纪人发送的 JSON。
type ClientInput struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// AgentOptions 助手入口的固定回复模板。
type AgentOptions struct {
	PropertyAdded  string // 含一个 %d，填入新房源 ID
	ClientAdded    string // 含一个 %d，填入新客户 ID
	RecentMessages int
	CASAttempts    int
}

// AgentService 实现经纪人助手：模式切换、结构化录入与基于检索的问答。
type AgentService interface {
	SetMode(ctx context.Context, agentID int64, mode string) error
	HandleMessage(ctx context.Context, agentID int64, text string) (*Reply, error)
	CreateProperty(ctx context.Context, agentID int64, in PropertyInput) (*model.Property, error)
	ListProperties(ctx context.Context, agentID int64) ([]model.Property, error)
	CreateClient(ctx context.Context, agentID int64, in ClientInput) (*model.Client, error)
	ListClients(ctx context.Context, agentID int64) ([]model.Client, error)
	RecentMessages(ctx context.Context, agentID int64) ([]model.AgentMessage, error)
}

type agentService struct {
	agents  repository.AgentRepository
	states  repository.StateStore
	chat    ChatService
	surface Surface
	locks   *KeyedMutex
	opts    AgentOptions
}

// NewAgentService 创建一个新的 AgentService 实例，idle 模式下的消息交给 chat 以 surface 处理。
func NewAgentService(agents repository.AgentRepository, states repository.StateStore, chat ChatService, surface Surface, locks *KeyedMutex, opts AgentOptions) AgentService {
	if opts.RecentMessages <= 0 {
		opts.RecentMessages = 10
	}
	if opts.CASAttempts <= 0 {
		opts.CASAttempts = 3
	}
	if opts.PropertyAdded == "" {
		opts.PropertyAdded = "Property added successfully! Property ID: %d"
	}
	if opts.ClientAdded == "" {
		opts.ClientAdded = "Client added successfully! Client ID: %d"
	}
	return &agentService{agents: agents, states: states, chat: chat, surface: surface, locks: locks, opts: opts}
}

func validMode(mode string) bool {
	switch mode {
	case model.ModeIdle, model.ModeAddProperty, model.ModeAddClient:
		return true
	}
	return false
}

// SetMode 切换经纪人的交互模式。
func (s *agentService) SetMode(ctx context.Context, agentID int64, mode string) error {
	if !validMode(mode) {
		return fmt.Errorf("%w: unknown mode %q", ErrMalformedInput, mode)
	}
	unlock := s.locks.Lock(agentID)
	defer unlock()
	return s.setMode(ctx, agentID, mode)
}

func (s *agentService) setMode(ctx context.Context, agentID int64, mode string) error {
	_, err := repository.UpdateState(ctx, s.states, agentID, s.opts.CASAttempts, func(st *model.ConversationState) {
		st.Mode = mode
	})
	if err != nil {
		return upstream("set mode", err)
	}
	log.Infof("[AgentService] 经纪人 %d 切换到模式 %s", agentID, mode)
	return nil
}

// HandleMessage 按当前模式处理消息：录入模式解析 JSON 并写库，完成或失败后都回到 idle；
// idle 模式走检索问答。
func (s *agentService) HandleMessage(ctx context.Context, agentID int64, text string) (*Reply, error) {
	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return nil, upstream("load conversation state", err)
	}

	intent := ClassifyIntent(text)
	s.record(ctx, agentID, "agent", text, intent)

	var reply *Reply
	switch state.Mode {
	case model.ModeAddProperty, model.ModeAddClient:
		reply, err = s.handleStructured(ctx, agentID, text)
	default:
		reply, err = s.chat.Ask(ctx, Request{UserID: agentID, Text: text}, s.surface)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, agentID, "assistant", reply.Text, intent)
	return reply, nil
}

func (s *agentService) handleStructured(ctx context.Context, agentID int64, text string) (*Reply, error) {
	unlock := s.locks.Lock(agentID)
	defer unlock()

	// 加锁后重新读取，模式可能已被并发请求改变
	state, err := s.states.Get(ctx, agentID)
	if err != nil {
		return nil, upstream("load conversation state", err)
	}

	var reply *Reply
	switch state.Mode {
	case model.ModeAddProperty:
		var in PropertyInput
		if err := decodeInput(text, &in); err != nil || strings.TrimSpace(in.Address) == "" {
			return nil, s.malformed(ctx, agentID, err)
		}
		p, err := s.CreateProperty(ctx, agentID, in)
		if err != nil {
			return nil, err
		}
		reply = &Reply{Text: fmt.Sprintf(s.opts.PropertyAdded, p.ID), Outcome: OutcomeAnswered}
	case model.ModeAddClient:
		var in ClientInput
		if err := decodeInput(text, &in); err != nil || strings.TrimSpace(in.Name) == "" {
			return nil, s.malformed(ctx, agentID, err)
		}
		c, err := s.CreateClient(ctx, agentID, in)
		if err != nil {
			return nil, err
		}
		reply = &Reply{Text: fmt.Sprintf(s.opts.ClientAdded, c.ID), Outcome: OutcomeAnswered}
	default:
		return nil, fmt.Errorf("%w: not in an input mode", ErrMalformedInput)
	}

	if err := s.setMode(ctx, agentID, model.ModeIdle); err != nil {
		return nil, err
	}
	return reply, nil
}

// malformed 回到 idle 并返回 ErrMalformedInput。
func (s *agentService) malformed(ctx context.Context, agentID int64, cause error) error {
	if err := s.setMode(ctx, agentID, model.ModeIdle); err != nil {
		log.Errorf("[AgentService] 重置模式失败, 经纪人: %d, err: %v", agentID, err)
	}
	if cause == nil {
		return fmt.Errorf("%w: missing required field", ErrMalformedInput)
	}
	return fmt.Errorf("%w: %v", ErrMalformedInput, cause)
}

func decodeInput(text string, v any) error {
	return json.Unmarshal([]byte(strings.TrimSpace(text)), v)
}

// record 写消息日志，失败只记录，不影响回复。
func (s *agentService) record(ctx context.Context, agentID int64, sender, content, intent string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	err := s.agents.AddMessage(ctx, &model.AgentMessage{AgentID: agentID, Content: content, Sender: sender, Intent: intent})
	if err != nil {
		log.Warnf("[AgentService] 保存消息失败, 经纪人: %d, err: %v", agentID, err)
	}
}

func (s *agentService) CreateProperty(ctx context.Context, agentID int64, in PropertyInput) (*model.Property, error) {
	p := &model.Property{
		Address:     strings.TrimSpace(in.Address),
		Price:       in.Price,
		Bedrooms:    in.Bedrooms,
		Bathrooms:   in.Bathrooms,
		SquareFeet:  in.SquareFeet,
		Description: in.Description,
		AgentID:     agentID,
	}
	if err := s.agents.CreateProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create property: %w", err)
	}
	return p, nil
}

func (s *agentService) ListProperties(ctx context.Context, agentID int64) ([]model.Property, error) {
	return s.agents.ListProperties(ctx, agentID)
}

func (s *agentService) CreateClient(ctx context.Context, agentID int64, in ClientInput) (*model.Client, error) {
	c := &model.Client{
		Name:    strings.TrimSpace(in.Name),
		Email:   in.Email,
		Phone:   in.Phone,
		AgentID: agentID,
	}
	if err := s.agents.CreateClient(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

func (s *agentService) ListClients(ctx context.Context, agentID int64) ([]model.Client, error) {
	return s.agents.ListClients(ctx, agentID)
}

func (s *agentService) RecentMessages(ctx context.Context, agentID int64) ([]model.AgentMessage, error) {
	return s.agents.RecentMessages(ctx, agentID, s.opts.RecentMessages)
}
