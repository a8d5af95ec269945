package handler

import (
	"fmt"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AgentHandler 负责经纪人助手的 API：模式切换、消息、房源与客户。
type AgentHandler struct {
	agentService service.AgentService
	msgs         config.MessagesConfig
}

// NewAgentHandler 创建一个新的 AgentHandler 实例。
func NewAgentHandler(agentService service.AgentService, msgs config.MessagesConfig) *AgentHandler {
	return &AgentHandler{agentService: agentService, msgs: msgs}
}

// ModeRequest 切换模式的请求体。
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetMode 切换到 add_property、add_client 或 idle。
func (h *AgentHandler) SetMode(c *gin.Context) {
	agentID, ok := currentUser(c)
	if !ok {
		return
	}
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载：mode 不能为空")
		return
	}
	if err := h.agentService.SetMode(c.Request.Context(), agentID, req.Mode); err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", gin.H{"mode": req.Mode})
}

// HandleMessage 按当前模式处理一条消息。
func (h *AgentHandler) HandleMessage(c *gin.Context) {
	agentID, ok := currentUser(c)
	if !ok {
		return
	}
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载：text 不能为空")
		return
	}
	reply, err := h.agentService.HandleMessage(c.Request.Context(), agentID, req.Text)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", reply)
}

// CreateProperty 直接录入一条房源。
func (h *AgentHandler) CreateProperty(c *gin.Context) {
	agentID, ok := currentUser(c)
	if !ok {
		return
	}
	var in service.PropertyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("CreateProperty: Invalid request payload, error: %v", err)
		respondBadRequest(c, h.msgs.MalformedInput)
		return
	}
	p, err := h.agentService.CreateProperty(c.Request.Context(), agentID, in)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, fmt.Sprintf(h.msgs.PropertyAdded, p.ID), p)
}

// ListProperties 列出经纪人录入的房源。
func (h *AgentHandler) ListProperties(c *gin.Context) {
	agentID, ok := currentUser(c)
	if !ok {
		return
	}
	props, err := h.agentService.ListProperties(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", props)
}

// CreateClient 直接录入一个客户。
func (h *AgentHandler) CreateClient(c *gin.Context) {
	agentID, ok := currentUser(c)
	if !ok {
		return
	}
	var in service.ClientInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.Warnf("CreateClient: Invalid request payload, error: %v", err)
		respondBadRequest(c, h.msgs.MalformedInput)
		return
	}
	cl, err := h.agentService.CreateClient(c.Request.Context(), agentID, in)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, fmt.Sprintf(h.msgs.ClientAdded, cl.ID), cl)
}

// ListClients 列出经纪人的客户。
func (h *AgentHandler) ListClients(c *gin.Context) {
	agentID, ok := currentUser(c)
	if !ok {
		return
	}
	clients, err := h.agentService.ListClients(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", clients)
}

// ListMessages 返回最近的消息记录，按时间正序。
func (h *AgentHandler) ListMessages(c *gin.Context) {
	agentID, ok := currentUser(c)
	if !ok {
		return
	}
	msgs, err := h.agentService.RecentMessages(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", msgs)
}
