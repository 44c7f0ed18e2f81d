package service

import (
	"context"
	"testing"

	"keyshop/internal/config"
	"keyshop/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 建一个一次性的内存库
// 连接数压到 1，写事务天然串行，并发用例不会触发 SQLite 的锁错误
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层 DB 失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&model.Account{},
		&model.Product{},
		&model.LicenseKey{},
		&model.Redemption{},
		&model.OutboxMessage{},
	)
	if err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			SessionTTLMinutes: 30,
			ClaimMaxAttempts:  5,
			MaxRetryCount:     5,
		},
	}
}

func seedAccount(t *testing.T, db *gorm.DB, username string, balanceCents int64, isAdmin bool) *model.Account {
	t.Helper()
	account := &model.Account{
		Username: username,
		LoginKey: username + "-key",
		Balance:  balanceCents,
		IsAdmin:  isAdmin,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("创建测试账户失败: %v", err)
	}
	return account
}

func seedProduct(t *testing.T, db *gorm.DB, name, category string, priceCents int64, secrets ...string) *model.Product {
	t.Helper()
	product := &model.Product{
		Name:       name,
		Category:   category,
		PriceCents: priceCents,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("创建测试商品失败: %v", err)
	}
	for _, secret := range secrets {
		key := &model.LicenseKey{
			ProductID: product.ID,
			Secret:    secret,
			State:     model.KeyStateAvailable,
		}
		if err := db.Create(key).Error; err != nil {
			t.Fatalf("创建测试卡密失败: %v", err)
		}
	}
	return product
}

func mustBalance(t *testing.T, db *gorm.DB, accountID int64) int64 {
	t.Helper()
	var account model.Account
	if err := db.WithContext(context.Background()).First(&account, accountID).Error; err != nil {
		t.Fatalf("读取账户失败: %v", err)
	}
	return account.Balance
}
