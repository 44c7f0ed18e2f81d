package repository

import (
	"context"
	"errors"

	"keyshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrKeyNotFound = errors.New("卡密不存在")

type KeyRepository struct {
	db *gorm.DB
}

func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// BulkInsert 批量导入卡密，secret 已存在的行静默跳过（跨商品全局去重）
// 返回实际新增条数；重复导入同一批次新增数为 0
func (r *KeyRepository) BulkInsert(ctx context.Context, productID int64, secrets []string) (int, error) {
	added := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, secret := range secrets {
			if secret == "" {
				continue
			}
			key := &model.LicenseKey{
				ProductID: productID,
				Secret:    secret,
				State:     model.KeyStateAvailable,
			}
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "secret"}},
				DoNothing: true,
			}).Create(key)
			if result.Error != nil {
				return result.Error
			}
			added += int(result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// FindAvailable 取一张指定商品的可用卡密，多张可用时不保证取哪一张
// afterID 用于跳过本次兑换中已尝试核销失败的候选卡密，传 0 表示从头找
func (r *KeyRepository) FindAvailable(ctx context.Context, tx *gorm.DB, productID, afterID int64) (*model.LicenseKey, error) {
	if tx == nil {
		tx = r.db
	}
	var key model.LicenseKey
	err := tx.WithContext(ctx).
		Where("product_id = ? AND state = ? AND id > ?", productID, model.KeyStateAvailable, afterID).
		Order("id ASC").
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// Claim 核销卡密（CAS）
// 只有仍处于 available 的行才会被置为 used；RowsAffected 为 0 说明
// 这张卡密已被并发的另一次兑换抢走，调用方应重新选卡
func (r *KeyRepository) Claim(ctx context.Context, tx *gorm.DB, keyID int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.LicenseKey{}).
		Where("id = ? AND state = ?", keyID, model.KeyStateAvailable).
		Update("state", model.KeyStateUsed)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *KeyRepository) CountAvailable(ctx context.Context, productID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.LicenseKey{}).
		Where("product_id = ? AND state = ?", productID, model.KeyStateAvailable).
		Count(&count).Error
	return count, err
}

func (r *KeyRepository) ListByProduct(ctx context.Context, productID int64) ([]*model.LicenseKey, error) {
	var keys []*model.LicenseKey
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id ASC").
		Find(&keys).Error
	return keys, err
}
