// Package model 包含了应用的数据模型定义。
package model

import (
	"fmt"
	"strings"
	"time"
)

// 会话中的角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// 用户所处的交互模式，只在助手入口的结构化录入流程中离开 idle。
const (
	ModeIdle        = "idle"
	ModeAddProperty = "add_property"
	ModeAddClient   = "add_client"
)

// ChatMessage 代表会话历史中的单条消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState 是单个用户的会话状态，Version 用于比较并交换。
type ConversationState struct {
	UserID  int64         `json:"userId"`
	Mode    string        `json:"mode"`
	History []ChatMessage `json:"history"`
	Version int64         `json:"version"`
}

// NewConversationState 返回一个空的 idle 状态。
func NewConversationState(userID int64) *ConversationState {
	return &ConversationState{UserID: userID, Mode: ModeIdle, History: []ChatMessage{}}
}

// Clone 深拷贝，避免调用方修改共享的历史切片。
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.History = append([]ChatMessage(nil), s.History...)
	return &c
}

// AppendTurn 追加一问一答并裁剪到最近 max 条。
func (s *ConversationState) AppendTurn(question, answer string, max int, now time.Time) {
	s.History = append(s.History,
		ChatMessage{Role: RoleUser, Content: question, Timestamp: now},
		ChatMessage{Role: RoleAssistant, Content: answer, Timestamp: now},
	)
	s.History = TrimHistory(s.History, max)
}

// TrimHistory 只保留最近 max 条消息，max<=0 表示不限制。
func TrimHistory(history []ChatMessage, max int) []ChatMessage {
	if max > 0 && len(history) > max {
		history = append([]ChatMessage(nil), history[len(history)-max:]...)
	}
	return history
}

// FormatHistory 以旧到新的顺序把历史序列化为 "User: ..." / "Bot: ..." 行。
func FormatHistory(history []ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		label := "User"
		if m.Role == RoleAssistant {
			label = "Bot"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
