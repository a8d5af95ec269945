package handler

import (
	"fmt"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责注册（/start）与个人信息。
type UserHandler struct {
	accountService service.AccountService
	msgs           config.MessagesConfig
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(accountService service.AccountService, msgs config.MessagesConfig) *UserHandler {
	return &UserHandler{accountService: accountService, msgs: msgs}
}

// StartRequest 对应聊天平台的 /start 命令，推荐码可选。
type StartRequest struct {
	ReferralCode string `json:"referral_code"`
}

// Start 处理注册请求。推荐码无效时注册照常完成，提示放在 referralNotice 中。
func (h *UserHandler) Start(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warnf("Start: Invalid request payload, error: %v", err)
			respondBadRequest(c, "无效的请求负载")
			return
		}
	}

	welcome, err := h.accountService.Register(c.Request.Context(), userID, req.ReferralCode)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}

	data := gin.H{
		"userId":       welcome.UserID,
		"credits":      welcome.Credits,
		"created":      welcome.Created,
		"referred":     welcome.Referred,
		"referralLink": welcome.ReferralLink,
	}
	if welcome.ReferralErr != nil {
		_, notice := errorStatus(h.msgs, welcome.ReferralErr)
		data["referralNotice"] = notice
		log.Warnf("Start: 用户 %d 的推荐码被拒绝: %v", userID, welcome.ReferralErr)
	}
	respondOK(c, fmt.Sprintf(h.msgs.Welcome, welcome.Credits, welcome.ReferralLink), data)
}

// GetProfile 返回积分、推荐人与推荐链接。
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	account, err := h.accountService.Profile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	link, err := h.accountService.ReferralLink(userID)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", gin.H{
		"userId":       account.UserID,
		"credits":      account.Credits,
		"referrerId":   account.ReferrerID,
		"referralLink": link,
	})
}
