package service

import (
	"context"
	"errors"

	"keyshop/internal/model"
	"keyshop/internal/repository"

	"gorm.io/gorm"
)

var (
	ErrDuplicateUsername = repository.ErrDuplicateUsername
	ErrInvalidPrice      = errors.New("价格不能为负数")
	ErrEmptyField        = errors.New("必填字段不能为空")
)

// AllowNegativeBalance 管理员调整余额时是否允许调成负数
// 明确的策略开关：沿用原有行为，带符号增量不设下限，
// 负余额会员在下次兑换时会被余额校验拦住
const AllowNegativeBalance = true

// LedgerService 管理端直接维护的账本操作
// 这些路径只有管理员访问，没有争抢，单事务提交即可
type LedgerService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	productRepo *repository.ProductRepository
	keyRepo     *repository.KeyRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		productRepo: repository.NewProductRepository(db),
		keyRepo:     repository.NewKeyRepository(db),
	}
}

// CreateAccount 创建会员账户，登录名重复返回 ErrDuplicateUsername
func (s *LedgerService) CreateAccount(ctx context.Context, username, loginKey string, initialBalanceCents int64, isAdmin bool) (*model.Account, error) {
	if username == "" || loginKey == "" {
		return nil, ErrEmptyField
	}

	account := &model.Account{
		Username: username,
		LoginKey: loginKey,
		Balance:  initialBalanceCents,
		IsAdmin:  isAdmin,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// AdjustBalance 按带符号增量调整余额，返回调整后的账户
func (s *LedgerService) AdjustBalance(ctx context.Context, accountID, deltaCents int64) (*model.Account, error) {
	if err := s.accountRepo.Adjust(ctx, nil, accountID, deltaCents); err != nil {
		return nil, err
	}
	return s.accountRepo.GetByID(ctx, accountID)
}

func (s *LedgerService) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, accountID)
}

func (s *LedgerService) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.accountRepo.ListAll(ctx)
}

// CreateProduct 创建商品
func (s *LedgerService) CreateProduct(ctx context.Context, name, category string, priceCents int64, description string) (*model.Product, error) {
	if name == "" || category == "" {
		return nil, ErrEmptyField
	}
	if priceCents < 0 {
		return nil, ErrInvalidPrice
	}

	product := &model.Product{
		Name:        name,
		Category:    category,
		PriceCents:  priceCents,
		Description: description,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *LedgerService) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	return s.productRepo.GetByID(ctx, productID)
}

// DeleteProduct 删除商品并级联删除其全部卡密（单事务，不可恢复）
// 返回被删除的商品信息，便于调用方提示
func (s *LedgerService) DeleteProduct(ctx context.Context, productID int64) (*model.Product, error) {
	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.productRepo.Delete(ctx, tx, productID)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// AddKeys 批量导入卡密，返回实际新增条数
// secret 与库内任何已有卡密（含其他商品）重复的行静默跳过
func (s *LedgerService) AddKeys(ctx context.Context, productID int64, secrets []string) (int, error) {
	if _, err := s.productRepo.GetByID(ctx, productID); err != nil {
		return 0, err
	}
	return s.keyRepo.BulkInsert(ctx, productID, secrets)
}
