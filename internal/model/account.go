package model

import "time"

// Account 对应 accounts 表，记录聊天平台用户的积分与推荐人。
// ReferrerID 只允许写入一次。
type Account struct {
	UserID     int64     `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	Credits    int       `gorm:"not null" json:"credits"`
	ReferrerID *int64    `gorm:"index" json:"referrerId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}
