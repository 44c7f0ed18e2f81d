package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"keyshop/internal/bot"
	"keyshop/internal/config"
	"keyshop/internal/model"
	"keyshop/internal/service"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) http.Handler {
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

	account := &model.Account{Username: "alice", LoginKey: "alice-key", Balance: 2000}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("创建测试账户失败: %v", err)
	}

	cfg := &config.Config{
		Business: config.BusinessConfig{SessionTTLMinutes: 30, ClaimMaxAttempts: 5},
	}

	sessions := bot.NewSessionStore(30 * time.Minute)
	engine := bot.NewStorefrontEngine(bot.Services{
		Session:   service.NewSessionService(db),
		Catalog:   service.NewCatalogService(db),
		Allocator: service.NewAllocatorService(db, nil, cfg),
		Ledger:    service.NewLedgerService(db),
	}, sessions)

	return SetupRouter(engine, "test-token")
}

func postUpdate(t *testing.T, router http.Handler, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("序列化请求失败: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+token, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadToken(t *testing.T) {
	router := newTestRouter(t)

	w := postUpdate(t, router, "wrong-token", map[string]interface{}{
		"chat_id": 1001, "text": "/start",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("期望 401，实际 %d", w.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t)

	// 缺少必填的 chat_id
	w := postUpdate(t, router, "test-token", map[string]interface{}{"text": "/start"})
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", w.Code)
	}
	var resp struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != 400 {
		t.Fatalf("期望业务码 400，实际 %d", resp.Code)
	}
}

func TestWebhookRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	w := postUpdate(t, router, "test-token", map[string]interface{}{
		"chat_id": 1001, "text": "/start",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", w.Code)
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			ChatID  int64       `json:"chat_id"`
			Replies []bot.Reply `json:"replies"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != 0 {
		t.Fatalf("期望业务码 0，实际 %d", resp.Code)
	}
	if resp.Data.ChatID != 1001 || len(resp.Data.Replies) != 1 {
		t.Fatalf("响应内容不对: %+v", resp.Data)
	}
	if resp.Data.Replies[0].Text == "" {
		t.Fatal("回复文本不应为空")
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", w.Code)
	}
}
