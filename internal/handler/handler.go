package handler

import (
	"keyshop/internal/bot"
	"keyshop/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 聊天网关入口
// 聊天网络把用户消息 POST 到 webhook，机器人的回复直接放在响应体里带回，
// 与具体聊天协议解耦
type Handler struct {
	engine *bot.Engine
	token  string
}

func NewHandler(engine *bot.Engine, token string) *Handler {
	return &Handler{
		engine: engine,
		token:  token,
	}
}

// HandleUpdate 接收一条聊天消息
// POST /webhook/:token
func (h *Handler) HandleUpdate(c *gin.Context) {
	if c.Param("token") != h.token {
		response.Unauthorized(c, "无效的接入密钥")
		return
	}

	var upd bot.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	replies := h.engine.Handle(c.Request.Context(), upd)

	response.Success(c, gin.H{
		"chat_id": upd.ChatID,
		"replies": replies,
	})
}
