package repository

import (
	"context"
	"errors"
	"fmt"

	"estate-smart-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository 管理积分余额与推荐关系，所有写操作都是条件更新，保证不会出现负数余额。
type AccountRepository interface {
	// FindOrCreate 返回账户，不存在时以默认积分创建。created 表示本次是否新建。
	FindOrCreate(ctx context.Context, userID int64, defaultCredits int) (account *model.Account, created bool, err error)
	FindByID(ctx context.Context, userID int64) (*model.Account, error)
	// DecrementCredit 在余额大于 0 时扣减 1，返回是否扣减成功。
	DecrementCredit(ctx context.Context, userID int64) (bool, error)
	// RefundCredit 退还一次扣减。
	RefundCredit(ctx context.Context, userID int64) error
	// LinkReferrer 仅在 referrer_id 为空时写入推荐人，并在同一事务中为推荐人加 bonus。
	LinkReferrer(ctx context.Context, userID, referrerID int64, bonus int) (bool, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository 创建一个新的 AccountRepository 实例。
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) FindOrCreate(ctx context.Context, userID int64, defaultCredits int) (*model.Account, bool, error) {
	account := model.Account{UserID: userID, Credits: defaultCredits}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&account)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create account: %w", res.Error)
	}
	created := res.RowsAffected == 1

	found, err := r.FindByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return found, created, nil
}

func (r *accountRepository) FindByID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) DecrementCredit(ctx context.Context, userID int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Account{}).
		Where("user_id = ? AND credits > 0", userID).
		UpdateColumn("credits", gorm.Expr("credits - 1"))
	if res.Error != nil {
		return false, fmt.Errorf("failed to decrement credit: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *accountRepository) RefundCredit(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Model(&model.Account{}).
		Where("user_id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + 1")).Error
}

func (r *accountRepository) LinkReferrer(ctx context.Context, userID, referrerID int64, bonus int) (bool, error) {
	linked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var referrer model.Account
		if err := tx.First(&referrer, "user_id = ?", referrerID).Error; err != nil {
			return err
		}
		res := tx.Model(&model.Account{}).
			Where("user_id = ? AND referrer_id IS NULL", userID).
			UpdateColumn("referrer_id", referrerID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&model.Account{}).
			Where("user_id = ?", referrerID).
			UpdateColumn("credits", gorm.Expr("credits + ?", bonus)).Error; err != nil {
			return err
		}
		linked = true
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to link referrer: %w", err)
	}
	return linked, nil
}
