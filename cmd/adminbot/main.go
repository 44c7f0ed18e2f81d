package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keyshop/internal/bot"
	"keyshop/internal/config"
	"keyshop/internal/handler"
	"keyshop/internal/infrastructure/database"
	"keyshop/internal/service"
	"keyshop/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")
	token := cfg.MustAdminBotToken()

	// 初始化 ID 生成器
	idgen.Init(2)

	// 初始化 MySQL（管理端不走兑换路径，不需要 Redis / Kafka）
	db := database.InitMySQL(&cfg.MySQL)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 组装管理对话状态机
	sessions := bot.NewSessionStore(time.Duration(cfg.Business.SessionTTLMinutes) * time.Minute)
	go sessions.StartSweeper(ctx)

	engine := bot.NewAdminEngine(bot.Services{
		Session: service.NewSessionService(db),
		Catalog: service.NewCatalogService(db),
		Ledger:  service.NewLedgerService(db),
	}, sessions)

	// 设置路由（管理端端口 = 商城端口 + 1）
	router := handler.SetupRouter(engine, token)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port+1),
		Handler: router,
	}

	go func() {
		log.Printf("管理机器人启动，监听端口: %d", cfg.Server.Port+1)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
