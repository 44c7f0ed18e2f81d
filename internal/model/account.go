package model

import (
	"time"
)

// Account 会员账户表
// 记录会员的登录凭证和余额，余额单位为分
type Account struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`      // 登录名（全局唯一）
	LoginKey   string    `gorm:"type:varchar(128);not null" json:"-"`                        // 登录密钥，由管理员下发
	ExternalID *int64    `gorm:"uniqueIndex" json:"external_id"`                             // 绑定的聊天端身份，未登录时为 NULL
	Balance    int64     `gorm:"not null;default:0" json:"balance"`                          // 余额（分）
	IsAdmin    bool      `gorm:"not null;default:false" json:"is_admin"`                     // 管理员标记
	Version    int       `gorm:"not null;default:0" json:"version"`                          // 乐观锁版本号
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
