package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"estate-smart-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ErrVersionConflict 表示比较并交换时版本号已变化。
var ErrVersionConflict = errors.New("conversation state version conflict")

// StateStore 保存每个用户的会话状态（历史 + 模式）。
// Get 在没有记录时返回 Version 为 0 的空状态。
type StateStore interface {
	Get(ctx context.Context, userID int64) (*model.ConversationState, error)
	// Put 无条件覆盖，写入后 state.Version 为存储中原版本加一。
	Put(ctx context.Context, state *model.ConversationState) error
	// CompareAndSwap 仅当当前版本等于 expected 时写入 next，成功后 next.Version = expected+1。
	CompareAndSwap(ctx context.Context, expected int64, next *model.ConversationState) (bool, error)
}

// UpdateState 读取、修改并以 CAS 写回，冲突时重试 attempts 次。
func UpdateState(ctx context.Context, store StateStore, userID int64, attempts int, mutate func(s *model.ConversationState)) (*model.ConversationState, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		current, err := store.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		mutate(next)
		ok, err := store.CompareAndSwap(ctx, current.Version, next)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
	return nil, ErrVersionConflict
}

// ---- Redis 实现 ----

// maxPutAttempts 是 Put 在 WATCH 冲突时的最大尝试次数。
const maxPutAttempts = 5

type redisStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStateStore 创建一个基于 Redis 的 StateStore，CAS 通过 WATCH/MULTI 实现。
func NewRedisStateStore(rdb *redis.Client, ttl time.Duration) StateStore {
	return &redisStateStore{rdb: rdb, ttl: ttl}
}

func stateKey(userID int64) string {
	return fmt.Sprintf("conversation:state:%d", userID)
}

func decodeState(userID int64, data string) (*model.ConversationState, error) {
	var s model.ConversationState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation state: %w", err)
	}
	s.UserID = userID
	if s.Mode == "" {
		s.Mode = model.ModeIdle
	}
	if s.History == nil {
		s.History = []model.ChatMessage{}
	}
	return &s, nil
}

func (r *redisStateStore) Get(ctx context.Context, userID int64) (*model.ConversationState, error) {
	data, err := r.rdb.Get(ctx, stateKey(userID)).Result()
	if err == redis.Nil {
		return model.NewConversationState(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	return decodeState(userID, data)
}

// storedVersion 读取 key 当前的版本号，key 不存在时为 0。
func storedVersion(ctx context.Context, tx *redis.Tx, key string, userID int64) (int64, error) {
	data, err := tx.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s, err := decodeState(userID, data)
	if err != nil {
		return 0, err
	}
	return s.Version, nil
}

// Put 无条件覆盖，版本号取存储中的版本加一，与传入状态携带的版本无关。
// WATCH 期间被并发写入时重读版本再写。
func (r *redisStateStore) Put(ctx context.Context, state *model.ConversationState) error {
	key := stateKey(state.UserID)
	var written int64
	put := func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key, state.UserID)
		if err != nil {
			return err
		}
		candidate := *state
		candidate.Version = current + 1
		payload, err := json.Marshal(&candidate)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		written = candidate.Version
		return nil
	}

	var err error
	for i := 0; i < maxPutAttempts; i++ {
		err = r.rdb.Watch(ctx, put, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to set conversation state: %w", err)
	}
	state.Version = written
	return nil
}

func (r *redisStateStore) CompareAndSwap(ctx context.Context, expected int64, next *model.ConversationState) (bool, error) {
	key := stateKey(next.UserID)
	swapped := false
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key, next.UserID)
		if err != nil {
			return err
		}
		if current != expected {
			return nil
		}

		candidate := *next
		candidate.Version = expected + 1
		payload, err := json.Marshal(&candidate)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to swap conversation state: %w", err)
	}
	if swapped {
		next.Version = expected + 1
	}
	return swapped, nil
}

// ---- 进程内实现 ----

type memoryStateStore struct {
	mu     sync.Mutex
	states map[int64]*model.ConversationState
}

// NewMemoryStateStore 创建一个进程内 StateStore，用于单实例部署与测试。
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{states: make(map[int64]*model.ConversationState)}
}

func (m *memoryStateStore) Get(ctx context.Context, userID int64) (*model.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[userID]; ok {
		return s.Clone(), nil
	}
	return model.NewConversationState(userID), nil
}

func (m *memoryStateStore) Put(ctx context.Context, state *model.ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if s, ok := m.states[state.UserID]; ok {
		current = s.Version
	}
	state.Version = current + 1
	m.states[state.UserID] = state.Clone()
	return nil
}

func (m *memoryStateStore) CompareAndSwap(ctx context.Context, expected int64, next *model.ConversationState) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if s, ok := m.states[next.UserID]; ok {
		current = s.Version
	}
	if current != expected {
		return false, nil
	}
	next.Version = expected + 1
	m.states[next.UserID] = next.Clone()
	return true, nil
}
