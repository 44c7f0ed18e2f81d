package model

import (
	"time"
)

// Product 商品表
// 一个商品持有若干卡密（LicenseKey），删除商品时级联删除其全部卡密
type Product struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Category    string    `gorm:"type:varchar(64);index;not null" json:"category"` // 分类标签，自由文本
	PriceCents  int64     `gorm:"not null" json:"price_cents"`                     // 单价（分）
	Description string    `gorm:"type:varchar(512)" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Product) TableName() string {
	return "product"
}
