package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"keyshop/internal/repository"
	"keyshop/internal/service"
)

// NewAdminEngine 组装管理机器人的对话状态机
//
// 除 /login 外的所有输入都要求已登录的管理员身份；
// 多步流程里数字/格式错误原地重问，唯一约束冲突中止流程回主菜单。
func NewAdminEngine(svcs Services, sessions *SessionStore) *Engine {
	a := &adminPanel{svcs: svcs}
	e := NewEngine(sessions)

	e.Guard(a.requireAdmin)

	e.Global(CmdStart, a.start)
	e.Global(CmdCancel, a.cancel)
	e.Global(CmdLogin, a.login)

	e.Route(StateIdle, CmdBack, a.start)
	e.Route(StateIdle, CmdListAccounts, a.listAccounts)
	e.Route(StateIdle, CmdCreateAccount, a.promptCreateAccount)
	e.Route(StateIdle, CmdAdjustBalance, a.promptAdjustBalance)
	e.Route(StateIdle, CmdProducts, a.showProductPanel)
	e.Route(StateIdle, CmdCreateProduct, a.promptCreateProduct)
	e.Route(StateIdle, CmdDeleteProduct, a.promptDeleteProduct)
	e.Route(StateIdle, CmdAddKeys, a.promptAddKeysProduct)

	e.Text(StateAdjustAccountID, a.adjustPickAccount)
	e.Text(StateAdjustAmount, a.adjustApply)

	e.Text(StateCreateAccountUsername, a.createAccountUsername)
	e.Text(StateCreateAccountKey, a.createAccountKey)
	e.Text(StateCreateAccountBalance, a.createAccountBalance)
	e.Text(StateCreateAccountAdmin, a.createAccountFinish)

	e.Text(StateCreateProductName, a.createProductName)
	e.Text(StateCreateProductCategory, a.createProductCategory)
	e.Text(StateCreateProductPrice, a.createProductPrice)
	e.Text(StateCreateProductDesc, a.createProductFinish)
	e.Route(StateCreateProductDesc, CmdSkip, a.createProductFinish)

	e.Text(StateDeleteProductID, a.deleteProductApply)

	e.Route(StateAddKeysProduct, CmdBack, a.start)
	e.Text(StateAddKeysProduct, a.addKeysPickProduct)
	e.Text(StateAddKeysSecrets, a.addKeysApply)

	e.Fallback(a.unknown)

	return e
}

type adminPanel struct {
	svcs Services
}

func adminKeyboard() [][]string {
	return [][]string{
		{BtnAdjustBalance, BtnListAccounts, BtnCreateAccount},
		{BtnProducts, BtnAddKeys, BtnDeleteProduct},
	}
}

// requireAdmin 管理端权限门卫
// /login 永远放行；其余输入要求当前聊天端身份绑定在管理员账户上
func (a *adminPanel) requireAdmin(ctx context.Context, sess *Session, cmd Command) (bool, []Reply) {
	if cmd == CmdLogin {
		return true, nil
	}

	account, err := a.svcs.Session.Whoami(ctx, sess.ChatID)
	if err != nil {
		return false, []Reply{{Text: "操作失败，发生了内部错误，请稍后重试。"}}
	}
	if account == nil || !account.IsAdmin {
		return false, []Reply{{
			Text: "❌ 访问被拒绝，请先以管理员身份登录。\n格式：/login 用户名 登录密钥",
		}}
	}
	return true, nil
}

func (a *adminPanel) start(_ context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.Reset()
	return []Reply{{
		Text:     "👋 管理面板\n请选择操作：",
		Keyboard: adminKeyboard(),
	}}, nil
}

func (a *adminPanel) cancel(_ context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.Reset()
	return []Reply{{
		Text:     "已取消当前操作，返回主菜单。",
		Keyboard: adminKeyboard(),
	}}, nil
}

func (a *adminPanel) login(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	parts := strings.Fields(text)
	if len(parts) != 3 {
		return []Reply{{Text: "❌ 格式不对，用法：/login 用户名 登录密钥"}}, nil
	}

	account, err := a.svcs.Session.AdminLogin(ctx, parts[1], parts[2], sess.ChatID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return []Reply{{Text: "❌ 登录失败，凭证错误或该用户不是管理员。"}}, nil
		case errors.Is(err, service.ErrIdentityBound):
			return []Reply{{Text: "❌ 你的聊天账号已绑定其他会员账户，请先退出那个账户。"}}, nil
		}
		return nil, err
	}

	sess.Reset()
	return []Reply{{
		Text:     fmt.Sprintf("✅ 欢迎，%s！你已以管理员身份登录。", account.Username),
		Keyboard: adminKeyboard(),
	}}, nil
}

// ---------------------------------------------------------------
// 会员管理
// ---------------------------------------------------------------

func (a *adminPanel) listAccounts(ctx context.Context, _ *Session, _ string) ([]Reply, error) {
	accounts, err := a.svcs.Ledger.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("会员列表（ID | 用户名 | 余额）：\n\n")
	if len(accounts) == 0 {
		b.WriteString("暂无会员。")
	}
	for _, acc := range accounts {
		adminTag := ""
		if acc.IsAdmin {
			adminTag = " [管理员]"
		}
		fmt.Fprintf(&b, "ID %d | %s%s | ¥%s\n", acc.ID, acc.Username, adminTag, FormatCents(acc.Balance))
	}

	return []Reply{{Text: b.String(), Keyboard: adminKeyboard()}}, nil
}

func (a *adminPanel) promptCreateAccount(_ context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.State = StateCreateAccountUsername
	sess.Pending = PendingOp{}
	return []Reply{{Text: "请输入新会员的用户名：", RemoveKeyboard: true}}, nil
}

func (a *adminPanel) createAccountUsername(_ context.Context, sess *Session, text string) ([]Reply, error) {
	username := strings.TrimSpace(text)
	if username == "" {
		return []Reply{{Text: "❌ 用户名不能为空，请重新输入。"}}, nil
	}
	sess.Pending.Username = username
	sess.State = StateCreateAccountKey
	return []Reply{{Text: "请输入该会员的登录密钥："}}, nil
}

func (a *adminPanel) createAccountKey(_ context.Context, sess *Session, text string) ([]Reply, error) {
	loginKey := strings.TrimSpace(text)
	if loginKey == "" {
		return []Reply{{Text: "❌ 登录密钥不能为空，请重新输入。"}}, nil
	}
	sess.Pending.LoginKey = loginKey
	sess.State = StateCreateAccountBalance
	return []Reply{{Text: "请输入初始余额（例如 50.00）："}}, nil
}

func (a *adminPanel) createAccountBalance(_ context.Context, sess *Session, text string) ([]Reply, error) {
	cents, err := ParseCents(text)
	if err != nil {
		return []Reply{{Text: "❌ 金额格式不对，请输入数字（例如 50.00）。"}}, nil
	}
	sess.Pending.BalanceCents = cents
	sess.State = StateCreateAccountAdmin
	return []Reply{{
		Text:     "该会员是否为管理员？",
		Keyboard: [][]string{{"是", "否"}},
	}}, nil
}

func (a *adminPanel) createAccountFinish(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	answer := strings.TrimSpace(text)
	if answer != "是" && answer != "否" {
		return []Reply{{Text: "请回答「是」或「否」。"}}, nil
	}
	isAdmin := answer == "是"

	account, err := a.svcs.Ledger.CreateAccount(ctx, sess.Pending.Username, sess.Pending.LoginKey, sess.Pending.BalanceCents, isAdmin)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateUsername) {
			sess.Reset()
			return []Reply{{
				Text:     "❌ 已存在同名会员，操作中止。",
				Keyboard: adminKeyboard(),
			}}, nil
		}
		return nil, err
	}

	sess.Reset()
	return []Reply{{
		Text: fmt.Sprintf("✅ 会员 %s 创建成功（ID %d）\n密钥：%s\n初始余额：¥%s",
			account.Username, account.ID, account.LoginKey, FormatCents(account.Balance)),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (a *adminPanel) promptAdjustBalance(_ context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.State = StateAdjustAccountID
	sess.Pending = PendingOp{}
	return []Reply{{
		Text:           "请输入要调整余额的会员 ID：\n（发送 /cancel 返回）",
		RemoveKeyboard: true,
	}}, nil
}

func (a *adminPanel) adjustPickAccount(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return []Reply{{Text: "❌ 请输入数字 ID。"}}, nil
	}

	account, err := a.svcs.Ledger.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return []Reply{{Text: "❌ 找不到该会员，请输入有效的 ID。"}}, nil
		}
		return nil, err
	}

	sess.Pending.AccountID = id
	sess.State = StateAdjustAmount
	return []Reply{{
		Text: fmt.Sprintf("会员：%s（当前余额 ¥%s）\n请输入调整金额，正数增加、负数减少（例如 10.00 或 -5.50）：",
			account.Username, FormatCents(account.Balance)),
	}}, nil
}

func (a *adminPanel) adjustApply(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	delta, err := ParseCents(text)
	if err != nil {
		return []Reply{{Text: "❌ 金额格式不对，请输入数字（例如 10.00 或 -5.50）。"}}, nil
	}

	account, err := a.svcs.Ledger.AdjustBalance(ctx, sess.Pending.AccountID, delta)
	if err != nil {
		return nil, err
	}

	sess.Reset()
	return []Reply{{
		Text: fmt.Sprintf("✅ 已调整 %s 的余额\n本次变动：¥%s\n最新余额：¥%s",
			account.Username, FormatCents(delta), FormatCents(account.Balance)),
		Keyboard: adminKeyboard(),
	}}, nil
}

// ---------------------------------------------------------------
// 商品与卡密管理
// ---------------------------------------------------------------

func (a *adminPanel) showProductPanel(ctx context.Context, _ *Session, _ string) ([]Reply, error) {
	products, err := a.svcs.Catalog.ListAllProducts(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("商品目录（ID | 名称 | 价格 | 库存）：\n\n")
	if len(products) == 0 {
		b.WriteString("暂无商品。")
	}
	for _, p := range products {
		fmt.Fprintf(&b, "ID %d | %s | ¥%s | 库存 %d\n",
			p.Product.ID, p.Product.Name, FormatCents(p.Product.PriceCents), p.AvailableStock)
	}

	keyboard := [][]string{
		{BtnCreateProduct},
		{BtnAddKeys, BtnDeleteProduct},
		{BtnBack},
	}
	return []Reply{{Text: b.String() + "\n请选择操作：", Keyboard: keyboard}}, nil
}

func (a *adminPanel) promptCreateProduct(_ context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.State = StateCreateProductName
	sess.Pending = PendingOp{}
	return []Reply{{Text: "请输入商品名称：", RemoveKeyboard: true}}, nil
}

func (a *adminPanel) createProductName(_ context.Context, sess *Session, text string) ([]Reply, error) {
	name := strings.TrimSpace(text)
	if name == "" {
		return []Reply{{Text: "❌ 商品名称不能为空，请重新输入。"}}, nil
	}
	sess.Pending.ProductName = name
	sess.State = StateCreateProductCategory
	return []Reply{{Text: "请输入分类："}}, nil
}

func (a *adminPanel) createProductCategory(_ context.Context, sess *Session, text string) ([]Reply, error) {
	category := strings.TrimSpace(text)
	if category == "" {
		return []Reply{{Text: "❌ 分类不能为空，请重新输入。"}}, nil
	}
	sess.Pending.Category = category
	sess.State = StateCreateProductPrice
	return []Reply{{Text: "请输入价格（例如 10.00）："}}, nil
}

func (a *adminPanel) createProductPrice(_ context.Context, sess *Session, text string) ([]Reply, error) {
	cents, err := ParseCents(text)
	if err != nil || cents < 0 {
		return []Reply{{Text: "❌ 价格格式不对，请输入非负数字（例如 10.00）。"}}, nil
	}
	sess.Pending.BalanceCents = cents
	sess.State = StateCreateProductDesc
	return []Reply{{Text: "请输入商品描述（可选，发送 /skip 跳过）："}}, nil
}

func (a *adminPanel) createProductFinish(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	desc := strings.TrimSpace(text)
	if desc == "/skip" {
		desc = ""
	}

	product, err := a.svcs.Ledger.CreateProduct(ctx, sess.Pending.ProductName, sess.Pending.Category, sess.Pending.BalanceCents, desc)
	if err != nil {
		return nil, err
	}

	sess.Reset()
	return []Reply{{
		Text: fmt.Sprintf("✅ 商品 %s 创建成功（ID %d，价格 ¥%s）\n使用「%s」为它导入库存。",
			product.Name, product.ID, FormatCents(product.PriceCents), BtnAddKeys),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (a *adminPanel) promptDeleteProduct(_ context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.State = StateDeleteProductID
	sess.Pending = PendingOp{}
	return []Reply{{
		Text:           "⚠️ 删除商品会连同它的全部卡密一起删除，且不可恢复。\n请输入要删除的商品 ID：",
		RemoveKeyboard: true,
	}}, nil
}

func (a *adminPanel) deleteProductApply(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return []Reply{{Text: "❌ 请输入数字 ID。"}}, nil
	}

	product, err := a.svcs.Ledger.DeleteProduct(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return []Reply{{Text: "❌ 找不到该商品，请输入有效的 ID。"}}, nil
		}
		return nil, err
	}

	sess.Reset()
	return []Reply{{
		Text:     fmt.Sprintf("✅ 商品 %s 及其全部卡密已删除。", product.Name),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (a *adminPanel) promptAddKeysProduct(ctx context.Context, sess *Session, _ string) ([]Reply, error) {
	products, err := a.svcs.Catalog.ListAllProducts(ctx)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		sess.Reset()
		return []Reply{{
			Text:     fmt.Sprintf("❌ 还没有商品，请先使用「%s」。", BtnCreateProduct),
			Keyboard: adminKeyboard(),
		}}, nil
	}

	keyboard := make([][]string, 0, len(products)+1)
	var b strings.Builder
	b.WriteString("可导入卡密的商品：\n\n")
	for _, p := range products {
		fmt.Fprintf(&b, "ID %d | %s | 库存 %d\n", p.Product.ID, p.Product.Name, p.AvailableStock)
		keyboard = append(keyboard, []string{fmt.Sprintf("ID %d: %s", p.Product.ID, p.Product.Name)})
	}
	keyboard = append(keyboard, []string{BtnBack})

	sess.State = StateAddKeysProduct
	sess.Pending = PendingOp{}
	return []Reply{{
		Text:     b.String() + "\n请选择商品或输入其 ID：",
		Keyboard: keyboard,
	}}, nil
}

// parseProductID 支持「ID 3: 名称」按钮文案和裸数字两种输入
func parseProductID(text string) (int64, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "ID ") {
		rest := strings.TrimPrefix(trimmed, "ID ")
		if idx := strings.IndexByte(rest, ':'); idx >= 0 {
			rest = rest[:idx]
		}
		trimmed = strings.TrimSpace(rest)
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

func (a *adminPanel) addKeysPickProduct(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	id, err := parseProductID(text)
	if err != nil {
		return []Reply{{Text: "❌ 无法识别，请点击商品按钮或输入数字 ID。"}}, nil
	}

	product, err := a.svcs.Ledger.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return []Reply{{Text: "❌ 找不到该商品，请输入有效的 ID。"}}, nil
		}
		return nil, err
	}

	sess.Pending.ProductID = product.ID
	sess.Pending.ProductName = product.Name
	sess.State = StateAddKeysSecrets
	return []Reply{{
		Text:           fmt.Sprintf("已选择商品：%s\n\n请粘贴卡密，每行一条。", product.Name),
		RemoveKeyboard: true,
	}}, nil
}

func (a *adminPanel) addKeysApply(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	secrets := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			secrets = append(secrets, s)
		}
	}
	if len(secrets) == 0 {
		return []Reply{{Text: "❌ 没有检测到有效的卡密，请重新粘贴。"}}, nil
	}

	added, err := a.svcs.Ledger.AddKeys(ctx, sess.Pending.ProductID, secrets)
	if err != nil {
		return nil, err
	}

	productName := sess.Pending.ProductName
	sess.Reset()
	return []Reply{{
		Text: fmt.Sprintf("✅ 已为 %s 导入卡密\n本次新增 %d 条（重复的 %d 条已跳过）。",
			productName, added, len(secrets)-added),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (a *adminPanel) unknown(_ context.Context, _ *Session, _ string) ([]Reply, error) {
	return []Reply{{
		Text:     "无法识别的输入，请使用菜单按钮，或发送 /start 回到主菜单。",
		Keyboard: adminKeyboard(),
	}}, nil
}
