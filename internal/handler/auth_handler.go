package handler

import (
	"net/http"

	"estate-smart-go/internal/middleware"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责认证相关的 API 请求，例如刷新 token。
type AuthHandler struct {
	jwtManager *token.JWTManager
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(jwtManager *token.JWTManager) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager}
}

// RefreshToken 用仍然有效的 access token 换取一个新的，角色保持不变。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	value, ok := c.Get(middleware.ClaimsKey)
	claims, isClaims := value.(*token.CustomClaims)
	if !ok || !isClaims {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无法获取用户信息", "data": nil})
		return
	}

	newToken, err := h.jwtManager.GenerateToken(claims.UserID, claims.Role)
	if err != nil {
		log.Error("RefreshToken: 签发 token 失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "签发 token 失败", "data": nil})
		return
	}

	log.Infof("Token refreshed successfully, user: %d", claims.UserID)
	respondOK(c, "Token refreshed successfully", gin.H{"token": newToken})
}
