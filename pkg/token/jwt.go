// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 角色与用途
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"

	purposeAccess   = "access"
	purposeReferral = "referral"
)

// ErrInvalidToken 表示签名、用途或有效期校验未通过。
var ErrInvalidToken = errors.New("invalid token")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey      []byte        // secretKey 用于签名和验证 token 的密钥
	accessTokenDur time.Duration // accessTokenDur 定义了 access token 的有效期
	referralDur    time.Duration // referralDur 定义了推荐码的有效期
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
// UserID 是聊天平台上的用户 ID。
type CustomClaims struct {
	UserID  int64  `json:"userId"`
	Role    string `json:"role,omitempty"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours, referralExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:      []byte(secret),
		accessTokenDur: time.Hour * time.Duration(accessTokenExpireHours),
		referralDur:    time.Duration(referralExpireDays) * 24 * time.Hour,
	}
}

func (m *JWTManager) sign(userID int64, role, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:  userID,
		Role:    role,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	// 使用 HS256 签名方法创建新的 token 对象
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// GenerateToken 为聊天平台用户签发访问 token。
func (m *JWTManager) GenerateToken(userID int64, role string) (string, error) {
	if role == "" {
		role = RoleUser
	}
	return m.sign(userID, role, purposeAccess, m.accessTokenDur)
}

// GenerateReferralCode 为推荐人签发推荐码，放在推荐链接的 start 参数中。
func (m *JWTManager) GenerateReferralCode(referrerID int64) (string, error) {
	return m.sign(referrerID, "", purposeReferral, m.referralDur)
}

// VerifyToken 验证访问 token 并返回 claims。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purposeAccess {
		return nil, fmt.Errorf("%w: unexpected purpose %q", ErrInvalidToken, claims.Purpose)
	}
	return claims, nil
}

// ParseReferralCode 解析推荐码，返回推荐人 ID。
func (m *JWTManager) ParseReferralCode(code string) (int64, error) {
	claims, err := m.parse(code)
	if err != nil {
		return 0, err
	}
	if claims.Purpose != purposeReferral {
		return 0, fmt.Errorf("%w: unexpected purpose %q", ErrInvalidToken, claims.Purpose)
	}
	return claims.UserID, nil
}

func (m *JWTManager) parse(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 检查签名方法是否为 HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
