// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/llm"
	"estate-smart-go/pkg/log"
)

// Surface 描述一个问答入口的参数，三个入口共用同一条流水线。
type Surface struct {
	Name string
	TopK int
	// RelevanceGate 为 true 时先做领域判定。
	RelevanceGate bool
	// CreditGated 为 true 时需要余额且每次成功问答扣减 1。
	CreditGated bool
	Composer    Composer
	// HistorySummary 非空时，历史中的机器人回合记为这段固定文字，而不是完整回复。
	HistorySummary string
}

// Request 是一次问答请求。
type Request struct {
	UserID int64
	Text   string
	Stream llm.MessageWriter
}

// ChatOptions 汇总编排器使用的配置。
type ChatOptions struct {
	DefaultCredits int
	HistoryMax     int
	StateTimeout   time.Duration
	NoResultsText  string
	CASAttempts    int
}

// ChatService 定义了问答编排的接口。
type ChatService interface {
	Ask(ctx context.Context, req Request, surface Surface) (*Reply, error)
	History(ctx context.Context, userID int64) ([]model.ChatMessage, error)
}

type chatService struct {
	accounts  repository.AccountRepository
	states    repository.StateStore
	gate      RelevanceGate
	refiner   QueryRefiner
	retriever Retriever
	locks     *KeyedMutex
	opts      ChatOptions
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(accounts repository.AccountRepository, states repository.StateStore, gate RelevanceGate, refiner QueryRefiner, retriever Retriever, locks *KeyedMutex, opts ChatOptions) ChatService {
	if opts.CASAttempts <= 0 {
		opts.CASAttempts = 3
	}
	return &chatService{
		accounts:  accounts,
		states:    states,
		gate:      gate,
		refiner:   refiner,
		retriever: retriever,
		locks:     locks,
		opts:      opts,
	}
}

// Ask 按 积分检查 -> 领域判定 -> 改写 -> 检索 -> 生成 -> 提交 的顺序处理一次问答。
// 提交之前的任何失败都不会修改积分或历史。
func (s *chatService) Ask(ctx context.Context, req Request, surface Surface) (*Reply, error) {
	query := strings.TrimSpace(req.Text)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrMalformedInput)
	}

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	log.Infof("[ChatService] 用户 %d 在 %s 入口提问: '%s'", req.UserID, surface.Name, query)

	// 1. 积分检查，首条消息即注册
	account, err := s.loadAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if surface.CreditGated && account.Credits <= 0 {
		log.Infof("[ChatService] 用户 %d 积分为 0，拒绝检索", req.UserID)
		return nil, ErrNoCreditsRemaining
	}

	// 2. 领域判定
	if surface.RelevanceGate {
		relevant, err := s.gate.IsRelevant(ctx, query)
		if err != nil {
			return nil, err
		}
		if !relevant {
			return nil, ErrOffDomainQuery
		}
	}

	// 3. 读取历史并改写问题
	state, err := s.loadState(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	history := model.TrimHistory(state.History, s.opts.HistoryMax)
	refined, err := s.refiner.Refine(ctx, query, history)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(refined) == "" {
		refined = query
	}

	// 4. 检索
	hits, err := s.retriever.Retrieve(ctx, refined, surface.TopK)
	if err != nil {
		return nil, err
	}

	// 5. 生成回复
	var reply *Reply
	if len(hits) == 0 {
		reply = &Reply{Text: s.opts.NoResultsText, Outcome: OutcomeNoResults}
	} else {
		reply, err = surface.Composer.Compose(ctx, ComposeInput{
			UserID:  req.UserID,
			Query:   query,
			Refined: refined,
			Hits:    hits,
			History: history,
			Stream:  req.Stream,
		})
		if err != nil {
			return nil, err
		}
	}

	// 6. 提交：扣减积分并追加历史，客户端断开不影响这一步
	botTurn := reply.Text
	if surface.HistorySummary != "" && reply.Outcome == OutcomeAnswered {
		botTurn = surface.HistorySummary
	}
	credits, err := s.commit(ctx, req.UserID, surface.CreditGated, query, botTurn)
	if err != nil {
		return nil, err
	}
	if surface.CreditGated {
		reply.Credits = credits
	} else {
		reply.Credits = account.Credits
	}
	log.Infof("[ChatService] 用户 %d 问答完成, outcome: %s, 剩余积分: %d", req.UserID, reply.Outcome, reply.Credits)
	return reply, nil
}

func (s *chatService) loadAccount(ctx context.Context, userID int64) (*model.Account, error) {
	ctx, cancel := withTimeout(ctx, s.opts.StateTimeout)
	defer cancel()
	account, _, err := s.accounts.FindOrCreate(ctx, userID, s.opts.DefaultCredits)
	if err != nil {
		return nil, upstream("load account", err)
	}
	return account, nil
}

func (s *chatService) loadState(ctx context.Context, userID int64) (*model.ConversationState, error) {
	ctx, cancel := withTimeout(ctx, s.opts.StateTimeout)
	defer cancel()
	state, err := s.states.Get(ctx, userID)
	if err != nil {
		return nil, upstream("load conversation state", err)
	}
	return state, nil
}

// commit 先条件扣减积分，再以 CAS 追加历史；历史写入失败时退还积分。
func (s *chatService) commit(ctx context.Context, userID int64, charge bool, question, answer string) (int, error) {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), s.opts.StateTimeout)
	defer cancel()

	if charge {
		ok, err := s.accounts.DecrementCredit(ctx, userID)
		if err != nil {
			return 0, upstream("decrement credit", err)
		}
		if !ok {
			return 0, ErrNoCreditsRemaining
		}
	}

	_, err := repository.UpdateState(ctx, s.states, userID, s.opts.CASAttempts, func(st *model.ConversationState) {
		st.AppendTurn(question, answer, s.opts.HistoryMax, time.Now())
	})
	if err != nil {
		log.Errorf("[ChatService] 写入会话历史失败, 用户: %d, err: %v", userID, err)
		if charge {
			if rerr := s.accounts.RefundCredit(ctx, userID); rerr != nil {
				log.Errorf("[ChatService] 退还积分失败, 用户: %d, err: %v", userID, rerr)
			}
		}
		return 0, upstream("append history", err)
	}

	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return 0, upstream("reload account", err)
	}
	return account.Credits, nil
}

// History 返回用户最近的会话历史，从旧到新。
func (s *chatService) History(ctx context.Context, userID int64) ([]model.ChatMessage, error) {
	state, err := s.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return model.TrimHistory(state.History, s.opts.HistoryMax), nil
}
