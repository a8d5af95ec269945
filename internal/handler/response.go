// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/middleware"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}

// errorStatus 把业务错误映射为 HTTP 状态码与面向用户的提示，原始错误只写日志。
func errorStatus(msgs config.MessagesConfig, err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMalformedInput):
		return http.StatusBadRequest, msgs.MalformedInput
	case errors.Is(err, service.ErrOffDomainQuery):
		return http.StatusUnprocessableEntity, msgs.OffDomain
	case errors.Is(err, service.ErrNoCreditsRemaining):
		return http.StatusPaymentRequired, msgs.NoCredits
	case errors.Is(err, service.ErrSelfReferral):
		return http.StatusBadRequest, msgs.SelfReferral
	case errors.Is(err, service.ErrUnknownReferrer):
		return http.StatusBadRequest, msgs.UnknownReferrer
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, msgs.Apology
	default:
		return http.StatusInternalServerError, msgs.Apology
	}
}

func respondError(c *gin.Context, msgs config.MessagesConfig, err error) {
	status, message := errorStatus(msgs, err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[%s %s] 请求失败: %v", c.Request.Method, c.FullPath(), err)
	} else {
		log.Warnf("[%s %s] 请求被拒绝: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// currentUser 读取 AuthMiddleware 写入的用户 id，缺失时直接返回 401。
func currentUser(c *gin.Context) (int64, bool) {
	id, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无法获取用户信息", "data": nil})
	}
	return id, ok
}

// TextRequest 是问答类接口共用的请求体。
type TextRequest struct {
	Text string `json:"text" binding:"required"`
}
