package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/token"

	"gorm.io/gorm"
)

// Welcome 是注册（/start）的结果。
type Welcome struct {
	UserID       int64  `json:"userId"`
	Credits      int    `json:"credits"`
	Created      bool   `json:"created"`
	Referred     bool   `json:"referred"`
	ReferralLink string `json:"referralLink"`
	// ReferralErr 记录推荐码被拒绝的原因（ErrSelfReferral 或 ErrUnknownReferrer），注册本身仍然成功。
	ReferralErr error `json:"-"`
}

// AccountOptions 积分与推荐相关的配置。
type AccountOptions struct {
	DefaultCredits     int
	ReferralBonus      int
	AllowPlainReferral bool
	BotUsername        string
}

// AccountService 管理注册、推荐与积分查询。
type AccountService interface {
	Register(ctx context.Context, userID int64, referralCode string) (*Welcome, error)
	Profile(ctx context.Context, userID int64) (*model.Account, error)
	ReferralLink(userID int64) (string, error)
}

type accountService struct {
	accounts repository.AccountRepository
	jwt      *token.JWTManager
	locks    *KeyedMutex
	opts     AccountOptions
}

// NewAccountService 创建一个新的 AccountService 实例。
func NewAccountService(accounts repository.AccountRepository, jwtManager *token.JWTManager, locks *KeyedMutex, opts AccountOptions) AccountService {
	return &accountService{accounts: accounts, jwt: jwtManager, locks: locks, opts: opts}
}

// Register 创建账户（已存在则保持不变），并在带有推荐码时尝试建立推荐关系。
// 推荐关系只能建立一次，推荐人只在第一次建立时获得奖励。
func (s *accountService) Register(ctx context.Context, userID int64, referralCode string) (*Welcome, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	account, created, err := s.accounts.FindOrCreate(ctx, userID, s.opts.DefaultCredits)
	if err != nil {
		return nil, upstream("register account", err)
	}
	link, err := s.ReferralLink(userID)
	if err != nil {
		return nil, err
	}
	welcome := &Welcome{UserID: userID, Credits: account.Credits, Created: created, ReferralLink: link}
	if created {
		log.Infof("[AccountService] 新用户 %d 注册, 初始积分: %d", userID, account.Credits)
	}

	code := strings.TrimSpace(referralCode)
	if code == "" {
		return welcome, nil
	}
	referrerID, err := s.resolveReferrer(code)
	if err != nil {
		welcome.ReferralErr = err
		return welcome, nil
	}
	if referrerID == userID {
		welcome.ReferralErr = ErrSelfReferral
		return welcome, nil
	}

	linked, err := s.accounts.LinkReferrer(ctx, userID, referrerID, s.opts.ReferralBonus)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		welcome.ReferralErr = fmt.Errorf("%w: %d", ErrUnknownReferrer, referrerID)
		return welcome, nil
	}
	if err != nil {
		return nil, upstream("link referrer", err)
	}
	welcome.Referred = linked
	if linked {
		log.Infof("[AccountService] 用户 %d 通过 %d 的推荐注册, 推荐人获得 %d 积分", userID, referrerID, s.opts.ReferralBonus)
	}
	return welcome, nil
}

// resolveReferrer 优先按签名推荐码解析，配置允许时也接受纯数字 ID。
func (s *accountService) resolveReferrer(code string) (int64, error) {
	if id, err := s.jwt.ParseReferralCode(code); err == nil {
		return id, nil
	}
	if s.opts.AllowPlainReferral {
		if id, err := strconv.ParseInt(code, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, ErrUnknownReferrer
}

func (s *accountService) Profile(ctx context.Context, userID int64) (*model.Account, error) {
	account, _, err := s.accounts.FindOrCreate(ctx, userID, s.opts.DefaultCredits)
	if err != nil {
		return nil, upstream("load account", err)
	}
	return account, nil
}

// ReferralLink 生成形如 https://t.me/<bot>?start=<code> 的推荐链接。
func (s *accountService) ReferralLink(userID int64) (string, error) {
	code, err := s.jwt.GenerateReferralCode(userID)
	if err != nil {
		return "", fmt.Errorf("failed to sign referral code: %w", err)
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", s.opts.BotUsername, code), nil
}
