package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"keyshop/internal/config"
	"keyshop/internal/infrastructure/lock"
	"keyshop/internal/model"
	"keyshop/internal/repository"
	"keyshop/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrProductNotFound     = repository.ErrProductNotFound
	ErrAccountNotFound     = repository.ErrAccountNotFound
	ErrInsufficientBalance = repository.ErrBalanceNotEnough
	ErrOutOfStock          = errors.New("商品已售罄")
	ErrPriceChanged        = errors.New("价格已变动，请重新选择")
	ErrRedeemBusy          = errors.New("系统繁忙，请稍后重试")
)

const (
	defaultClaimMaxAttempts = 5
	deductMaxAttempts       = 3
)

// AllocatorService 兑换分配器
// 负责「校验余额 -> 扣款 -> 选卡 -> 核销 -> 记流水」的原子事务，
// 是整个系统唯一存在并发争抢的路径
type AllocatorService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	accountRepo    *repository.AccountRepository
	productRepo    *repository.ProductRepository
	keyRepo        *repository.KeyRepository
	redemptionRepo *repository.RedemptionRepository
	outboxRepo     *repository.OutboxRepository
}

// NewAllocatorService 创建兑换分配器
// redisClient 允许为 nil（测试环境），此时跳过账户级分布式锁，
// 正确性仍由数据库内的 CAS 更新保证
func NewAllocatorService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *AllocatorService {
	return &AllocatorService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		accountRepo:    repository.NewAccountRepository(db),
		productRepo:    repository.NewProductRepository(db),
		keyRepo:        repository.NewKeyRepository(db),
		redemptionRepo: repository.NewRedemptionRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

// RedeemResult 兑换成功的返回值
type RedeemResult struct {
	RedemptionNo string `json:"redemption_no"`
	ProductName  string `json:"product_name"`
	Secret       string `json:"secret"`        // 交付给买家的卡密
	PriceCents   int64  `json:"price_cents"`   // 实际扣款金额
	NewBalance   int64  `json:"new_balance"`   // 扣款后余额
}

// Redeem 用余额兑换一张卡密
//
// expectedPriceCents 是买家在界面上看到的价格，仅用于校验展示是否过期，
// 实际扣款金额一律以库内当前价格为准；传负数表示跳过校验。
//
// 并发语义：同一商品最后一张卡被两个买家同时争抢时，恰好一人成功，
// 另一人得到 ErrOutOfStock；绝不会把同一张卡发给两个人，
// 也绝不会出现扣了款没发卡或发了卡没扣款的中间状态。
func (s *AllocatorService) Redeem(ctx context.Context, accountID int64, productName string, expectedPriceCents int64) (*RedeemResult, error) {
	product, err := s.productRepo.GetByName(ctx, productName)
	if err != nil {
		return nil, err
	}

	// 展示价过期校验：以库内价格为准，不信任调用方传入的价格
	if expectedPriceCents >= 0 && expectedPriceCents != product.PriceCents {
		return nil, ErrPriceChanged
	}

	redemptionNo := idgen.GenerateRedemptionNo()

	// 账户级分布式锁：串行化同一会员的重复提交，有限重试后放弃，不会挂起
	if s.redisClient != nil {
		redeemLock := lock.NewRedeemLock(s.redisClient, accountID, redemptionNo)
		if err := redeemLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedeemBusy, err)
		}
		defer redeemLock.Unlock(ctx)
	}

	var result *RedeemResult

	// 扣款使用乐观锁版本号，版本冲突时整体重试（重新读取账户）
	for attempt := 0; attempt < deductMaxAttempts; attempt++ {
		account, err := s.accountRepo.GetByID(ctx, accountID)
		if err != nil {
			return nil, err
		}

		if account.Balance < product.PriceCents {
			return nil, ErrInsufficientBalance
		}

		result, err = s.redeemOnce(ctx, account, product, redemptionNo)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrOptimisticLock) {
			continue
		}
		return nil, err
	}
	if result == nil {
		return nil, ErrRedeemBusy
	}

	log.Printf("兑换成功: redemptionNo=%s, accountID=%d, product=%s, price=%d",
		result.RedemptionNo, accountID, product.Name, product.PriceCents)

	return result, nil
}

// redeemOnce 在单个事务内完成一次兑换尝试
// 事务内任一步失败即整体回滚，余额和卡密状态同进同退
func (s *AllocatorService) redeemOnce(ctx context.Context, account *model.Account, product *model.Product, redemptionNo string) (*RedeemResult, error) {
	var claimed *model.LicenseKey

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 选卡-核销循环：被并发兑换抢走的候选卡密跳过再选下一张，
		// 直到核销成功或候选耗尽（售罄）
		maxAttempts := s.claimMaxAttempts()
		afterID := int64(0)
		for attempt := 0; attempt < maxAttempts; attempt++ {
			key, err := s.keyRepo.FindAvailable(ctx, tx, product.ID, afterID)
			if err != nil {
				if errors.Is(err, repository.ErrKeyNotFound) {
					return ErrOutOfStock
				}
				return fmt.Errorf("查询可用卡密失败: %w", err)
			}

			ok, err := s.keyRepo.Claim(ctx, tx, key.ID)
			if err != nil {
				return fmt.Errorf("核销卡密失败: %w", err)
			}
			if ok {
				claimed = key
				break
			}
			afterID = key.ID
		}
		if claimed == nil {
			return ErrRedeemBusy
		}

		if err := s.accountRepo.Deduct(ctx, tx, account.ID, product.PriceCents, account.Version); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrInsufficientBalance
			}
			return err
		}

		balanceAfter := account.Balance - product.PriceCents

		redemption := &model.Redemption{
			RedemptionNo: redemptionNo,
			AccountID:    account.ID,
			ProductID:    product.ID,
			KeyID:        claimed.ID,
			PriceCents:   product.PriceCents,
			BalanceAfter: balanceAfter,
		}
		if err := s.redemptionRepo.Create(ctx, tx, redemption); err != nil {
			return fmt.Errorf("记录兑换流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"redemption_no": redemptionNo,
			"account_id":    account.ID,
			"product_id":    product.ID,
			"key_id":        claimed.ID,
			"price_cents":   product.PriceCents,
			"balance_after": balanceAfter,
			"redeemed_at":   time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: redemptionNo,
			Topic:      s.redemptionTopic(),
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return &RedeemResult{
		RedemptionNo: redemptionNo,
		ProductName:  product.Name,
		Secret:       claimed.Secret,
		PriceCents:   product.PriceCents,
		NewBalance:   account.Balance - product.PriceCents,
	}, nil
}

func (s *AllocatorService) claimMaxAttempts() int {
	if s.cfg != nil && s.cfg.Business.ClaimMaxAttempts > 0 {
		return s.cfg.Business.ClaimMaxAttempts
	}
	return defaultClaimMaxAttempts
}

func (s *AllocatorService) redemptionTopic() string {
	if s.cfg != nil && s.cfg.Kafka.Topic.RedemptionResult != "" {
		return s.cfg.Kafka.Topic.RedemptionResult
	}
	return "redemption_result"
}
