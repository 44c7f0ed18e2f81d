package handler

import (
	"keyshop/internal/bot"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(engine *bot.Engine, token string) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())

	h := NewHandler(engine, token)

	r.POST("/webhook/:token", h.HandleUpdate)

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
