package bot

import (
	"context"
	"log"

	"keyshop/internal/service"
)

// Update 一条来自聊天端的消息，与具体聊天协议无关
type Update struct {
	ChatID int64  `json:"chat_id" binding:"required"`
	Text   string `json:"text"`
}

// Reply 机器人的一条回复
// Keyboard 非空时渲染成按钮行；RemoveKeyboard 收起现有键盘
type Reply struct {
	Text           string     `json:"text"`
	Keyboard       [][]string `json:"keyboard,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`
}

// HandlerFunc 处理一条消息，可以读写会话状态与中间态
type HandlerFunc func(ctx context.Context, sess *Session, text string) ([]Reply, error)

// GuardFunc 前置权限检查，返回 false 时用其回复拒绝本条消息
type GuardFunc func(ctx context.Context, sess *Session, cmd Command) (bool, []Reply)

// Services 对话处理器依赖的核心服务集合
type Services struct {
	Session   *service.SessionService
	Catalog   *service.CatalogService
	Allocator *service.AllocatorService
	Ledger    *service.LedgerService
}

// Engine 对话状态机
// 分发表是显式的 状态×命令 -> 处理器 映射；命中不了命令表时
// 把消息作为自由文本交给当前状态的文本处理器（多步流程的输入），
// 两者都没有则走兜底回复
type Engine struct {
	sessions *SessionStore
	routes   map[State]map[Command]HandlerFunc
	texts    map[State]HandlerFunc
	globals  map[Command]HandlerFunc // 任意状态都生效的命令（/start /cancel 等）
	guard    GuardFunc
	fallback HandlerFunc
}

func NewEngine(sessions *SessionStore) *Engine {
	return &Engine{
		sessions: sessions,
		routes:   make(map[State]map[Command]HandlerFunc),
		texts:    make(map[State]HandlerFunc),
		globals:  make(map[Command]HandlerFunc),
	}
}

func (e *Engine) Route(state State, cmd Command, h HandlerFunc) {
	if e.routes[state] == nil {
		e.routes[state] = make(map[Command]HandlerFunc)
	}
	e.routes[state][cmd] = h
}

func (e *Engine) Text(state State, h HandlerFunc) {
	e.texts[state] = h
}

func (e *Engine) Global(cmd Command, h HandlerFunc) {
	e.globals[cmd] = h
}

func (e *Engine) Guard(g GuardFunc) {
	e.guard = g
}

func (e *Engine) Fallback(h HandlerFunc) {
	e.fallback = h
}

func (e *Engine) Sessions() *SessionStore {
	return e.sessions
}

// Handle 处理一条消息，返回要发回的回复
// 任何处理器返回错误都会被兜成一条通用失败提示并把会话拉回主菜单，
// 保证对话永远不会卡死在无输入可接受的状态
func (e *Engine) Handle(ctx context.Context, upd Update) []Reply {
	sess := e.sessions.Get(upd.ChatID)
	cmd := ParseCommand(upd.Text)

	if e.guard != nil {
		if ok, replies := e.guard(ctx, sess, cmd); !ok {
			return replies
		}
	}

	handler := e.resolve(sess.State, cmd)
	if handler == nil {
		return []Reply{{Text: "无法识别的输入，请使用菜单按钮，或发送 /start 回到主菜单。"}}
	}

	replies, err := handler(ctx, sess, upd.Text)
	if err != nil {
		log.Printf("[Bot] 处理消息失败: chatID=%d, state=%d, err=%v", upd.ChatID, sess.State, err)
		sess.Reset()
		return []Reply{{Text: "操作失败，发生了内部错误，请稍后重试。已返回主菜单。"}}
	}
	return replies
}

func (e *Engine) resolve(state State, cmd Command) HandlerFunc {
	if cmd != CmdNone {
		if h, ok := e.routes[state][cmd]; ok {
			return h
		}
		if h, ok := e.globals[cmd]; ok {
			return h
		}
	}
	if h, ok := e.texts[state]; ok {
		return h
	}
	return e.fallback
}
