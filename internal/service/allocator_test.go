package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"keyshop/internal/model"
	"keyshop/internal/repository"
)

func TestRedeemHappyPathThenOutOfStock(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	allocator := NewAllocatorService(db, nil, testConfig())

	alice := seedAccount(t, db, "alice", 2000, false)
	seedProduct(t, db, "VPN-1", "VPN", 999, "XYZ-1")

	result, err := allocator.Redeem(ctx, alice.ID, "VPN-1", 999)
	if err != nil {
		t.Fatalf("兑换失败: %v", err)
	}
	if result.Secret != "XYZ-1" {
		t.Fatalf("拿到的卡密不对: %q", result.Secret)
	}
	if result.NewBalance != 1001 {
		t.Fatalf("兑换后余额应为 1001，实际 %d", result.NewBalance)
	}
	if got := mustBalance(t, db, alice.ID); got != 1001 {
		t.Fatalf("库内余额应为 1001，实际 %d", got)
	}

	// 唯一一张卡已被消耗，立刻再次兑换应当售罄
	_, err = allocator.Redeem(ctx, alice.ID, "VPN-1", 999)
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("期望 ErrOutOfStock，实际 %v", err)
	}

	var key model.LicenseKey
	if err := db.Where("secret = ?", "XYZ-1").First(&key).Error; err != nil {
		t.Fatalf("读取卡密失败: %v", err)
	}
	if key.State != model.KeyStateUsed {
		t.Fatalf("卡密状态应为 used，实际 %q", key.State)
	}
}

func TestRedeemNotFoundAndBalanceErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	allocator := NewAllocatorService(db, nil, testConfig())

	poor := seedAccount(t, db, "poor", 100, false)
	seedProduct(t, db, "Game-1", "游戏", 500, "G-1")

	if _, err := allocator.Redeem(ctx, poor.ID, "不存在的商品", -1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("期望 ErrProductNotFound，实际 %v", err)
	}
	if _, err := allocator.Redeem(ctx, 99999, "Game-1", -1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("期望 ErrAccountNotFound，实际 %v", err)
	}
	if _, err := allocator.Redeem(ctx, poor.ID, "Game-1", -1); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("期望 ErrInsufficientBalance，实际 %v", err)
	}

	// 失败的兑换不得留下任何副作用
	if got := mustBalance(t, db, poor.ID); got != 100 {
		t.Fatalf("余额不应变动，实际 %d", got)
	}
	var count int64
	db.Model(&model.LicenseKey{}).Where("state = ?", model.KeyStateUsed).Count(&count)
	if count != 0 {
		t.Fatalf("不应有卡密被核销，实际 %d 张", count)
	}
}

func TestRedeemRejectsStaleDisplayedPrice(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	allocator := NewAllocatorService(db, nil, testConfig())

	buyer := seedAccount(t, db, "buyer", 10000, false)
	seedProduct(t, db, "VPN-2", "VPN", 999, "K-1")

	// 界面上的旧价格与库内价格不一致时拒绝扣款
	if _, err := allocator.Redeem(ctx, buyer.ID, "VPN-2", 500); !errors.Is(err, ErrPriceChanged) {
		t.Fatalf("期望 ErrPriceChanged，实际 %v", err)
	}
	if got := mustBalance(t, db, buyer.ID); got != 10000 {
		t.Fatalf("余额不应变动，实际 %d", got)
	}

	// 传负数跳过展示价校验，按库内价格扣款
	result, err := allocator.Redeem(ctx, buyer.ID, "VPN-2", -1)
	if err != nil {
		t.Fatalf("兑换失败: %v", err)
	}
	if result.PriceCents != 999 {
		t.Fatalf("扣款金额应为库内价格 999，实际 %d", result.PriceCents)
	}
}

func TestRedeemConcurrentBuyersConsumeDistinctKeys(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	allocator := NewAllocatorService(db, nil, testConfig())

	const stock = 3
	const buyers = 5

	seedProduct(t, db, "Steam-1", "游戏", 100, "S-1", "S-2", "S-3")

	accounts := make([]*model.Account, buyers)
	for i := 0; i < buyers; i++ {
		accounts[i] = seedAccount(t, db, "buyer-"+string(rune('a'+i)), 1000, false)
	}

	type outcome struct {
		secret string
		err    error
	}
	results := make([]outcome, buyers)

	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := allocator.Redeem(ctx, accounts[i].ID, "Steam-1", 100)
			if err != nil {
				results[i] = outcome{err: err}
				return
			}
			results[i] = outcome{secret: r.Secret}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	successes, soldOut := 0, 0
	for _, r := range results {
		switch {
		case r.err == nil:
			successes++
			if seen[r.secret] {
				t.Fatalf("同一张卡密被发给了两个买家: %q", r.secret)
			}
			seen[r.secret] = true
		case errors.Is(r.err, ErrOutOfStock):
			soldOut++
		default:
			t.Fatalf("意外错误: %v", r.err)
		}
	}

	if successes != stock {
		t.Fatalf("成功兑换数应等于库存 %d，实际 %d", stock, successes)
	}
	if soldOut != buyers-stock {
		t.Fatalf("售罄失败数应为 %d，实际 %d", buyers-stock, soldOut)
	}

	var used int64
	db.Model(&model.LicenseKey{}).Where("state = ?", model.KeyStateUsed).Count(&used)
	if used != stock {
		t.Fatalf("核销卡密数应为 %d，实际 %d", stock, used)
	}
}

func TestRedeemRollsBackAtomically(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	allocator := NewAllocatorService(db, nil, testConfig())

	buyer := seedAccount(t, db, "carol", 5000, false)
	seedProduct(t, db, "Office-1", "办公", 1200, "O-1")

	var key model.LicenseKey
	if err := db.Where("secret = ?", "O-1").First(&key).Error; err != nil {
		t.Fatalf("读取卡密失败: %v", err)
	}

	// 预埋一条占用 key_id 唯一索引的流水，迫使事务在最后一步写流水时失败，
	// 模拟「扣款和核销之间被打断」：提交必须整体回滚
	blocker := &model.Redemption{
		RedemptionNo: "RDM-blocker",
		AccountID:    buyer.ID,
		ProductID:    key.ProductID,
		KeyID:        key.ID,
		PriceCents:   1200,
		BalanceAfter: 0,
	}
	if err := db.Create(blocker).Error; err != nil {
		t.Fatalf("预埋流水失败: %v", err)
	}

	if _, err := allocator.Redeem(ctx, buyer.ID, "Office-1", -1); err == nil {
		t.Fatal("期望兑换失败")
	}

	// 余额和卡密状态都必须回到原样
	if got := mustBalance(t, db, buyer.ID); got != 5000 {
		t.Fatalf("余额应回滚到 5000，实际 %d", got)
	}
	if err := db.Where("secret = ?", "O-1").First(&key).Error; err != nil {
		t.Fatalf("读取卡密失败: %v", err)
	}
	if key.State != model.KeyStateAvailable {
		t.Fatalf("卡密状态应回滚为 available，实际 %q", key.State)
	}
}

func TestRedeemWritesAuditTrail(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	allocator := NewAllocatorService(db, nil, testConfig())

	buyer := seedAccount(t, db, "dave", 3000, false)
	product := seedProduct(t, db, "Music-1", "音乐", 800, "M-1")

	result, err := allocator.Redeem(ctx, buyer.ID, "Music-1", 800)
	if err != nil {
		t.Fatalf("兑换失败: %v", err)
	}

	redemptionRepo := repository.NewRedemptionRepository(db)
	redemption, err := redemptionRepo.GetByRedemptionNo(ctx, result.RedemptionNo)
	if err != nil {
		t.Fatalf("查询兑换流水失败: %v", err)
	}
	if redemption == nil {
		t.Fatal("兑换流水缺失")
	}
	if redemption.AccountID != buyer.ID || redemption.ProductID != product.ID {
		t.Fatalf("流水归属不对: %+v", redemption)
	}
	if redemption.PriceCents != 800 || redemption.BalanceAfter != 2200 {
		t.Fatalf("流水金额不对: %+v", redemption)
	}

	// 按卡密反查也能命中同一条流水
	var key model.LicenseKey
	if err := db.Where("secret = ?", "M-1").First(&key).Error; err != nil {
		t.Fatalf("读取卡密失败: %v", err)
	}
	byKey, err := redemptionRepo.GetByKeyID(ctx, key.ID)
	if err != nil {
		t.Fatalf("按卡密查流水失败: %v", err)
	}
	if byKey == nil || byKey.RedemptionNo != result.RedemptionNo {
		t.Fatalf("按卡密查到的流水不对: %+v", byKey)
	}

	var outbox model.OutboxMessage
	if err := db.Where("message_key = ?", result.RedemptionNo).First(&outbox).Error; err != nil {
		t.Fatalf("outbox 消息缺失: %v", err)
	}
	if outbox.Status != model.OutboxStatusPending {
		t.Fatalf("outbox 初始状态应为 PENDING，实际 %q", outbox.Status)
	}
}
