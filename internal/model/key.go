package model

import (
	"time"
)

const (
	KeyStateAvailable = "available"
	KeyStateUsed      = "used"
)

// LicenseKey 卡密表
// 每条记录是一份可售库存，secret 全局唯一（跨商品也不允许重复发放）
// 状态只允许 available -> used 单向流转，绝不回退
type LicenseKey struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64     `gorm:"index;not null" json:"product_id"`
	Secret    string    `gorm:"type:varchar(256);uniqueIndex;not null" json:"-"`
	State     string    `gorm:"type:varchar(20);index;not null;default:available" json:"state"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LicenseKey) TableName() string {
	return "license_key"
}
