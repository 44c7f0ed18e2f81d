package service

import (
	"context"
	"errors"

	"keyshop/internal/model"
	"keyshop/internal/repository"

	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("用户名或登录密钥错误")
	ErrIdentityBound      = repository.ErrIdentityBound
	ErrAccountInUse       = errors.New("该账户已在其他会话登录")
)

// SessionService 会话/身份解析
// 维护「一个聊天端身份至多绑定一个账户、一个账户至多一个活跃会话」的约束
type SessionService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
}

func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
	}
}

// Login 普通会员登录，成功后把聊天端身份绑定到账户
//
// 拒绝两类冲突：
//   - 该聊天端身份已绑定其他账户 -> ErrIdentityBound
//   - 该账户已绑定其他聊天端身份 -> ErrAccountInUse（需先在原会话登出）
func (s *SessionService) Login(ctx context.Context, username, loginKey string, externalID int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByCredentials(ctx, username, loginKey)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// 已绑定到本身份，视为重复登录，直接成功
	if account.ExternalID != nil && *account.ExternalID == externalID {
		return account, nil
	}

	if account.ExternalID != nil {
		return nil, ErrAccountInUse
	}

	if other, err := s.accountRepo.GetByExternalID(ctx, externalID); err == nil && other.ID != account.ID {
		return nil, ErrIdentityBound
	} else if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	if err := s.accountRepo.BindExternalID(ctx, account.ID, externalID); err != nil {
		return nil, err
	}

	account.ExternalID = &externalID
	return account, nil
}

// AdminLogin 管理员登录
// 凭证必须属于管理员账户；与普通登录不同，允许管理员换设备重新绑定，
// 但该聊天端身份若已绑定其他账户仍然拒绝
func (s *SessionService) AdminLogin(ctx context.Context, username, loginKey string, externalID int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByCredentials(ctx, username, loginKey)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !account.IsAdmin {
		return nil, ErrInvalidCredentials
	}

	if account.ExternalID != nil && *account.ExternalID == externalID {
		return account, nil
	}

	if other, err := s.accountRepo.GetByExternalID(ctx, externalID); err == nil && other.ID != account.ID {
		return nil, ErrIdentityBound
	} else if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	// 管理员重新绑定前先清掉旧绑定，避免唯一索引冲突
	if account.ExternalID != nil {
		if _, err := s.accountRepo.ClearExternalID(ctx, *account.ExternalID); err != nil {
			return nil, err
		}
	}

	if err := s.accountRepo.BindExternalID(ctx, account.ID, externalID); err != nil {
		return nil, err
	}

	account.ExternalID = &externalID
	return account, nil
}

// Logout 解绑聊天端身份，幂等，返回是否原本处于登录态
func (s *SessionService) Logout(ctx context.Context, externalID int64) (bool, error) {
	return s.accountRepo.ClearExternalID(ctx, externalID)
}

// Whoami 按聊天端身份查当前登录账户，未登录返回 nil
func (s *SessionService) Whoami(ctx context.Context, externalID int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return account, nil
}
