package bot

import (
	"context"
	"testing"
	"time"

	"keyshop/internal/config"
	"keyshop/internal/model"
	"keyshop/internal/service"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestBackend 内存库 + 完整服务集合，对话状态机测试直接走真实服务
func newTestBackend(t *testing.T) (*gorm.DB, Services) {
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

	cfg := &config.Config{
		Business: config.BusinessConfig{
			SessionTTLMinutes: 30,
			ClaimMaxAttempts:  5,
			MaxRetryCount:     5,
		},
	}

	svcs := Services{
		Session:   service.NewSessionService(db),
		Catalog:   service.NewCatalogService(db),
		Allocator: service.NewAllocatorService(db, nil, cfg),
		Ledger:    service.NewLedgerService(db),
	}
	return db, svcs
}

func newTestSessions() *SessionStore {
	return NewSessionStore(30 * time.Minute)
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

// send 投一条消息进状态机，断言恰好一条回复并返回其文本
func send(t *testing.T, e *Engine, chatID int64, text string) string {
	t.Helper()
	replies := sendAll(t, e, chatID, text)
	if len(replies) != 1 {
		t.Fatalf("期望 1 条回复，实际 %d 条: %+v", len(replies), replies)
	}
	return replies[0].Text
}

func sendAll(t *testing.T, e *Engine, chatID int64, text string) []Reply {
	t.Helper()
	return e.Handle(context.Background(), Update{ChatID: chatID, Text: text})
}
