package bot

import (
	"context"
	"log"
	"sync"
	"time"
)

// State 对话状态机的状态
type State int

const (
	StateIdle State = iota // 主菜单，无进行中的多步操作

	// 商城端
	StateLoginWait   // 等待「用户名 密钥」
	StateBuyCategory // 等待选择分类
	StateBuyProduct  // 等待选择商品

	// 管理端
	StateAdjustAccountID
	StateAdjustAmount
	StateCreateAccountUsername
	StateCreateAccountKey
	StateCreateAccountBalance
	StateCreateAccountAdmin
	StateCreateProductName
	StateCreateProductCategory
	StateCreateProductPrice
	StateCreateProductDesc
	StateDeleteProductID
	StateAddKeysProduct
	StateAddKeysSecrets
)

// PendingOp 多步对话的中间态
// 显式的可序列化结构体，按聊天端身份隔离，随会话过期一起清除；
// 取代散落在各处的全局临时变量
type PendingOp struct {
	Username     string `json:"username,omitempty"`
	LoginKey     string `json:"login_key,omitempty"`
	BalanceCents int64  `json:"balance_cents,omitempty"`
	AccountID    int64  `json:"account_id,omitempty"`
	Category     string `json:"category,omitempty"`
	ProductID    int64  `json:"product_id,omitempty"`
	ProductName  string `json:"product_name,omitempty"`
}

// Session 一个聊天端身份的对话上下文
type Session struct {
	ChatID    int64
	State     State
	Pending   PendingOp
	UpdatedAt time.Time
}

// Reset 回到主菜单并丢弃中间态（完成、取消、出错时调用）
func (s *Session) Reset() {
	s.State = StateIdle
	s.Pending = PendingOp{}
}

// SessionStore 进程内会话存储
// 超过 TTL 未活动的会话由清扫协程回收，过期会话下次消息从主菜单重新开始
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
	}
}

// Get 取出会话，不存在或已过期则新建
func (st *SessionStore) Get(chatID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[chatID]
	if !ok || time.Since(sess.UpdatedAt) > st.ttl {
		sess = &Session{ChatID: chatID, State: StateIdle}
		st.sessions[chatID] = sess
	}
	sess.UpdatedAt = time.Now()
	return sess
}

func (st *SessionStore) Remove(chatID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, chatID)
}

func (st *SessionStore) sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for chatID, sess := range st.sessions {
		if time.Since(sess.UpdatedAt) > st.ttl {
			delete(st.sessions, chatID)
			removed++
		}
	}
	return removed
}

// StartSweeper 启动过期会话清扫任务
func (st *SessionStore) StartSweeper(ctx context.Context) {
	log.Println("[SessionSweeper] 会话清扫任务启动")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[SessionSweeper] 收到停止信号，任务退出")
			return
		case <-ticker.C:
			if n := st.sweep(); n > 0 {
				log.Printf("[SessionSweeper] 清理过期会话: %d 个", n)
			}
		}
	}
}
