package handler

import (
	"strconv"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与会话历史相关的 API 请求。
type ConversationHandler struct {
	chatService service.ChatService
	msgs        config.MessagesConfig
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(chatService service.ChatService, msgs config.MessagesConfig) *ConversationHandler {
	return &ConversationHandler{chatService: chatService, msgs: msgs}
}

// GetConversation 返回当前用户的会话历史（已截断到上限）。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.respondHistory(c, userID)
}

// GetUserConversation 供管理员查看任意用户的会话历史。
func (h *ConversationHandler) GetUserConversation(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		respondBadRequest(c, "无效的用户 ID")
		return
	}
	h.respondHistory(c, userID)
}

func (h *ConversationHandler) respondHistory(c *gin.Context, userID int64) {
	history, err := h.chatService.History(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", history)
}
