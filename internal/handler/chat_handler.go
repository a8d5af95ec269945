package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责房源入口、通用入口以及通用入口的 WebSocket 流式连接。
type ChatHandler struct {
	chatService service.ChatService
	surfaces    service.Surfaces
	jwtManager  *token.JWTManager
	msgs        config.MessagesConfig
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, surfaces service.Surfaces, jwtManager *token.JWTManager, msgs config.MessagesConfig) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		surfaces:    surfaces,
		jwtManager:  jwtManager,
		msgs:        msgs,
	}
}

// AskListings 处理房源入口：逐条描述并附带图片。
func (h *ChatHandler) AskListings(c *gin.Context) {
	h.ask(c, h.surfaces.Listing)
}

// AskGeneric 处理通用入口：合并为一段回答。
func (h *ChatHandler) AskGeneric(c *gin.Context) {
	h.ask(c, h.surfaces.Generic)
}

func (h *ChatHandler) ask(c *gin.Context, surface service.Surface) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 无效的请求负载: %v", err)
		respondBadRequest(c, "无效的请求负载：text 不能为空")
		return
	}

	reply, err := h.chatService.Ask(c.Request.Context(), service.Request{UserID: userID, Text: req.Text}, surface)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	log.Infof("[ChatHandler] 用户 %d 在 %s 入口的请求完成, outcome: %s, 剩余积分: %d", userID, surface.Name, reply.Outcome, reply.Credits)
	respondOK(c, h.creditsNotice(surface, reply), reply)
}

func (h *ChatHandler) creditsNotice(surface service.Surface, reply *service.Reply) string {
	if !surface.CreditGated || h.msgs.CreditsRemaining == "" {
		return "success"
	}
	return fmt.Sprintf(h.msgs.CreditsRemaining, reply.Credits)
}

// chunkWriter 把模型输出的每个分块包装为 {"chunk": "..."} 帧。
type chunkWriter struct {
	conn *websocket.Conn
}

func (w chunkWriter) WriteMessage(messageType int, data []byte) error {
	b, err := json.Marshal(map[string]string{"chunk": string(data)})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, b)
}

func completionFrame(reply *service.Reply) []byte {
	resp := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	if reply != nil {
		resp["credits"] = reply.Credits
		resp["outcome"] = reply.Outcome
		if reply.Outcome == service.OutcomeNoResults {
			resp["text"] = reply.Text
		}
	}
	b, _ := json.Marshal(resp)
	return b
}

// Stream 处理一个传入的 WebSocket 连接，每条文本消息都按通用入口流式回答。
func (h *ChatHandler) Stream(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %d", claims.UserID)

	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		text := strings.TrimSpace(string(message))
		if text == "" {
			continue
		}
		if !h.streamOne(ctx, conn, claims.UserID, text) {
			break
		}
	}
}

// streamOne 回答一条消息。返回 false 表示连接已不可写。
func (h *ChatHandler) streamOne(ctx context.Context, conn *websocket.Conn, userID int64, text string) bool {
	req := service.Request{UserID: userID, Text: text, Stream: chunkWriter{conn: conn}}
	reply, err := h.chatService.Ask(ctx, req, h.surfaces.Generic)
	if err != nil {
		log.Errorf("处理流式响应失败: %v", err)
		_, message := errorStatus(h.msgs, err)
		b, _ := json.Marshal(map[string]string{"error": message})
		if werr := conn.WriteMessage(websocket.TextMessage, b); werr != nil {
			return false
		}
		// 错误时也发送 completion 通知
		return conn.WriteMessage(websocket.TextMessage, completionFrame(nil)) == nil
	}
	return conn.WriteMessage(websocket.TextMessage, completionFrame(reply)) == nil
}
