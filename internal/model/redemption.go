package model

import (
	"time"
)

// Redemption 兑换流水表
// 记录每一次成功的余额换卡密，是对账的核心依据
//
// 流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 与扣款、卡密核销在同一事务内写入 —— 保证三者要么都发生要么都不发生
// 3. 记录兑换后余额 —— 便于校验余额一致性
type Redemption struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RedemptionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"redemption_no"` // 兑换单号（全局唯一）
	AccountID    int64     `gorm:"index;not null" json:"account_id"`
	ProductID    int64     `gorm:"index;not null" json:"product_id"`
	KeyID        int64     `gorm:"uniqueIndex;not null" json:"key_id"` // 一张卡密至多被兑换一次
	PriceCents   int64     `gorm:"not null" json:"price_cents"`        // 实际扣款金额（分）
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`      // 兑换后余额（分）
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Redemption) TableName() string {
	return "redemption"
}
