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
	"keyshop/internal/infrastructure/cache"
	"keyshop/internal/infrastructure/database"
	"keyshop/internal/infrastructure/mq"
	"keyshop/internal/job"
	"keyshop/internal/service"
	"keyshop/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")
	token := cfg.MustMainBotToken()

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	// 组装商城对话状态机
	sessions := bot.NewSessionStore(time.Duration(cfg.Business.SessionTTLMinutes) * time.Minute)
	go sessions.StartSweeper(ctx)

	engine := bot.NewStorefrontEngine(bot.Services{
		Session:   service.NewSessionService(db),
		Catalog:   service.NewCatalogService(db),
		Allocator: service.NewAllocatorService(db, redisClient, cfg),
		Ledger:    service.NewLedgerService(db),
	}, sessions)

	// 设置路由
	router := handler.SetupRouter(engine, token)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("商城机器人启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
