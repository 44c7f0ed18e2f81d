package bot

import (
	"strings"
)

// Command 对话命令
// 用户输入在边界处一次性解析成带标签的命令，后续分发全部走
// 状态×命令的路由表，不在各处散落字符串比较
type Command int

const (
	CmdNone Command = iota // 自由文本，交给当前状态的文本处理器
	CmdStart
	CmdCancel
	CmdLogin
	CmdLogout
	CmdAccount
	CmdBuy
	CmdBack
	CmdSkip
	CmdListAccounts
	CmdCreateAccount
	CmdAdjustBalance
	CmdProducts
	CmdCreateProduct
	CmdDeleteProduct
	CmdAddKeys
)

// 菜单按钮文案，解析与键盘渲染共用同一组常量
const (
	BtnLogin         = "🔒 登录"
	BtnLogout        = "🚀 退出登录"
	BtnAccount       = "👤 我的账户"
	BtnBuy           = "🛒 购买卡密"
	BtnBack          = "« 返回"
	BtnListAccounts  = "👥 会员列表"
	BtnCreateAccount = "➕ 创建会员"
	BtnAdjustBalance = "💰 调整余额"
	BtnProducts      = "📦 商品管理"
	BtnCreateProduct = "➕ 创建商品"
	BtnDeleteProduct = "🗑 删除商品"
	BtnAddKeys       = "🔑 导入卡密"
)

var buttonCommands = map[string]Command{
	BtnLogin:         CmdLogin,
	BtnLogout:        CmdLogout,
	BtnAccount:       CmdAccount,
	BtnBuy:           CmdBuy,
	BtnBack:          CmdBack,
	BtnListAccounts:  CmdListAccounts,
	BtnCreateAccount: CmdCreateAccount,
	BtnAdjustBalance: CmdAdjustBalance,
	BtnProducts:      CmdProducts,
	BtnCreateProduct: CmdCreateProduct,
	BtnDeleteProduct: CmdDeleteProduct,
	BtnAddKeys:       CmdAddKeys,
}

// ParseCommand 解析一条消息对应的命令，自由文本返回 CmdNone
func ParseCommand(text string) Command {
	trimmed := strings.TrimSpace(text)

	if cmd, ok := buttonCommands[trimmed]; ok {
		return cmd
	}

	if strings.HasPrefix(trimmed, "/") {
		// 斜杠命令允许携带参数，如 /login user key
		head := strings.ToLower(strings.Fields(trimmed)[0])
		switch head {
		case "/start":
			return CmdStart
		case "/cancel":
			return CmdCancel
		case "/login":
			return CmdLogin
		case "/logout":
			return CmdLogout
		case "/skip":
			return CmdSkip
		}
	}

	return CmdNone
}
