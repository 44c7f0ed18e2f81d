package repository

import (
	"context"
	"errors"
	"strings"

	"keyshop/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound   = errors.New("账户不存在")
	ErrDuplicateUsername = errors.New("登录名已存在")
	ErrBalanceNotEnough  = errors.New("余额不足")
	ErrOptimisticLock    = errors.New("乐观锁冲突，请重试")
	ErrIdentityBound     = errors.New("聊天端身份已绑定其他账户")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		// 唯一索引冲突：MySQL 报 Duplicate entry，SQLite 报 UNIQUE constraint failed
		if strings.Contains(err.Error(), "Duplicate entry") ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateUsername
		}
		return err
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByCredentials(ctx context.Context, username, loginKey string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("username = ? AND login_key = ?", username, loginKey).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByExternalID(ctx context.Context, externalID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// BindExternalID 把聊天端身份绑定到账户
// 依赖 external_id 的唯一索引兜底：同一身份并发绑定两个账户时只会成功一个
func (r *AccountRepository) BindExternalID(ctx context.Context, accountID, externalID int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("external_id", externalID)

	if result.Error != nil {
		if strings.Contains(result.Error.Error(), "Duplicate entry") ||
			strings.Contains(result.Error.Error(), "UNIQUE constraint failed") {
			return ErrIdentityBound
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ClearExternalID 解绑聊天端身份，返回是否原本处于登录态
func (r *AccountRepository) ClearExternalID(ctx context.Context, externalID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("external_id = ?", externalID).
		Update("external_id", nil)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Deduct 余额扣款（CAS）
// 条件里同时校验余额和版本号，RowsAffected 为 0 时回查区分失败原因
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, accountID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND balance >= ? AND version = ?", accountID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// Adjust 按带符号增量调整余额（管理员操作，不设下限，允许出现负余额）
func (r *AccountRepository) Adjust(ctx context.Context, tx *gorm.DB, accountID int64, delta int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) ListAll(ctx context.Context) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}
