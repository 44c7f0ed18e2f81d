package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keyshop/internal/service"
)

// NewStorefrontEngine 组装商城机器人的对话状态机
//
// 买家侧流程：登录 -> 浏览分类 -> 选商品 -> 兑换拿卡密。
// 校验类错误（格式不对、选项不存在）原地重新提问；
// 余额不足 / 售罄 / 绑定冲突中止当前流程回主菜单。
func NewStorefrontEngine(svcs Services, sessions *SessionStore) *Engine {
	f := &storefront{svcs: svcs}
	e := NewEngine(sessions)

	e.Global(CmdStart, f.start)
	e.Global(CmdCancel, f.start)
	e.Global(CmdLogout, f.logout)

	e.Route(StateIdle, CmdLogin, f.promptLogin)
	e.Route(StateIdle, CmdAccount, f.showAccount)
	e.Route(StateIdle, CmdBuy, f.showCategories)

	e.Text(StateLoginWait, f.handleLogin)

	e.Route(StateBuyCategory, CmdBack, f.start)
	e.Text(StateBuyCategory, f.handleCategory)

	e.Route(StateBuyProduct, CmdBack, f.showCategories)
	e.Text(StateBuyProduct, f.handlePurchase)

	e.Fallback(f.unknown)

	return e
}

type storefront struct {
	svcs Services
}

func storefrontKeyboard(loggedIn bool) [][]string {
	if loggedIn {
		return [][]string{
			{BtnBuy},
			{BtnAccount, BtnLogout},
		}
	}
	return [][]string{{BtnLogin}}
}

func (f *storefront) start(ctx context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.Reset()

	account, err := f.svcs.Session.Whoami(ctx, sess.ChatID)
	if err != nil {
		return nil, err
	}

	if account != nil {
		return []Reply{{
			Text:     fmt.Sprintf("欢迎回来，%s！\n通过下方菜单购买卡密或查看账户。", account.Username),
			Keyboard: storefrontKeyboard(true),
		}}, nil
	}
	return []Reply{{
		Text:     "✨ 欢迎来到卡密商城\n请先登录后再购买：",
		Keyboard: storefrontKeyboard(false),
	}}, nil
}

func (f *storefront) promptLogin(_ context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.State = StateLoginWait
	return []Reply{{
		Text:           "🔒 请输入管理员下发的凭证，格式：\n\n用户名 登录密钥",
		RemoveKeyboard: true,
	}}, nil
}

func (f *storefront) handleLogin(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return []Reply{{Text: "❌ 格式不对，请按「用户名 登录密钥」重新输入。"}}, nil
	}

	account, err := f.svcs.Session.Login(ctx, parts[0], parts[1], sess.ChatID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			// 凭证错误原地重试，不打断登录流程
			return []Reply{{Text: "❌ 登录失败，用户名或密钥错误。请重新输入，或发送 /start 返回。"}}, nil
		case errors.Is(err, service.ErrIdentityBound):
			sess.Reset()
			return []Reply{{
				Text:     "❌ 你的聊天账号已绑定其他会员，请先退出原账户再登录。",
				Keyboard: storefrontKeyboard(false),
			}}, nil
		case errors.Is(err, service.ErrAccountInUse):
			sess.Reset()
			return []Reply{{
				Text:     "❌ 该会员账户已在其他会话登录，请先在原会话退出。",
				Keyboard: storefrontKeyboard(false),
			}}, nil
		}
		return nil, err
	}

	sess.Reset()
	return []Reply{{
		Text:     fmt.Sprintf("✅ 登录成功，%s！", account.Username),
		Keyboard: storefrontKeyboard(true),
	}}, nil
}

func (f *storefront) logout(ctx context.Context, sess *Session, _ string) ([]Reply, error) {
	sess.Reset()

	wasLoggedIn, err := f.svcs.Session.Logout(ctx, sess.ChatID)
	if err != nil {
		return nil, err
	}

	if wasLoggedIn {
		return []Reply{{
			Text:     "🚪 已退出登录，发送 /start 可重新登录。",
			Keyboard: storefrontKeyboard(false),
		}}, nil
	}
	return []Reply{{
		Text:     "当前未登录。",
		Keyboard: storefrontKeyboard(false),
	}}, nil
}

func (f *storefront) showAccount(ctx context.Context, sess *Session, _ string) ([]Reply, error) {
	account, err := f.svcs.Session.Whoami(ctx, sess.ChatID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return []Reply{{
			Text:     "请先登录。",
			Keyboard: storefrontKeyboard(false),
		}}, nil
	}

	return []Reply{{
		Text: fmt.Sprintf("👤 我的账户\n• 用户名：%s\n• 余额：¥%s",
			account.Username, FormatCents(account.Balance)),
		Keyboard: storefrontKeyboard(true),
	}}, nil
}

func (f *storefront) showCategories(ctx context.Context, sess *Session, _ string) ([]Reply, error) {
	account, err := f.svcs.Session.Whoami(ctx, sess.ChatID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		sess.Reset()
		return []Reply{{
			Text:     "❌ 请先登录再购买。",
			Keyboard: storefrontKeyboard(false),
		}}, nil
	}

	categories, err := f.svcs.Catalog.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		sess.Reset()
		return []Reply{{
			Text:     "暂时没有上架的商品，请稍后再来。",
			Keyboard: storefrontKeyboard(true),
		}}, nil
	}

	keyboard := make([][]string, 0, len(categories)+1)
	for _, c := range categories {
		keyboard = append(keyboard, []string{c})
	}
	keyboard = append(keyboard, []string{BtnBack})

	sess.State = StateBuyCategory
	sess.Pending = PendingOp{}
	return []Reply{{Text: "请选择分类：", Keyboard: keyboard}}, nil
}

// productLabel 商品按钮文案，买家看到的价格和库存都来自库内实时数据
func productLabel(p ProductView) string {
	return fmt.Sprintf("%s | ¥%s | 库存 %d", p.Name, FormatCents(p.PriceCents), p.Stock)
}

// ProductView 渲染商品按钮所需的字段
type ProductView struct {
	Name       string
	PriceCents int64
	Stock      int64
}

func (f *storefront) handleCategory(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	category := strings.TrimSpace(text)

	products, err := f.svcs.Catalog.ListProducts(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return []Reply{{Text: fmt.Sprintf("❌ 分类「%s」下没有商品，请重新选择。", category)}}, nil
	}

	sess.Pending.Category = category
	sess.State = StateBuyProduct
	return []Reply{f.productListReply(category, products)}, nil
}

func (f *storefront) productListReply(category string, products []service.ProductWithStock) Reply {
	keyboard := make([][]string, 0, len(products)+1)
	for _, p := range products {
		keyboard = append(keyboard, []string{productLabel(ProductView{
			Name:       p.Product.Name,
			PriceCents: p.Product.PriceCents,
			Stock:      p.AvailableStock,
		})})
	}
	keyboard = append(keyboard, []string{BtnBack})
	return Reply{
		Text:     fmt.Sprintf("分类「%s」下的商品：", category),
		Keyboard: keyboard,
	}
}

// parseProductChoice 从按钮文案还原商品名和展示价
// 展示价只作为过期校验传给分配器，实际扣款以库内价格为准
func parseProductChoice(text string) (name string, displayedPriceCents int64, err error) {
	parts := strings.SplitN(strings.TrimSpace(text), " | ", 3)
	if len(parts) < 2 {
		return "", 0, errBadAmount
	}
	price, err := ParseCents(strings.TrimPrefix(parts[1], "¥"))
	if err != nil {
		return "", 0, err
	}
	return parts[0], price, nil
}

func (f *storefront) handlePurchase(ctx context.Context, sess *Session, text string) ([]Reply, error) {
	account, err := f.svcs.Session.Whoami(ctx, sess.ChatID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		sess.Reset()
		return []Reply{{
			Text:     "❌ 登录状态已失效，请重新登录。",
			Keyboard: storefrontKeyboard(false),
		}}, nil
	}

	name, displayedPrice, err := parseProductChoice(text)
	if err != nil {
		return []Reply{{Text: "❌ 无法识别的选择，请点击商品按钮。"}}, nil
	}

	result, err := f.svcs.Allocator.Redeem(ctx, account.ID, name, displayedPrice)
	if err != nil {
		return f.purchaseFailure(ctx, sess, err)
	}

	sess.Reset()
	return []Reply{{
		Text: fmt.Sprintf(
			"🎉 兑换成功：%s\n扣款：¥%s\n当前余额：¥%s\n\n🔐 你的卡密：\n%s",
			result.ProductName,
			FormatCents(result.PriceCents),
			FormatCents(result.NewBalance),
			result.Secret,
		),
		Keyboard: storefrontKeyboard(true),
	}}, nil
}

func (f *storefront) purchaseFailure(ctx context.Context, sess *Session, redeemErr error) ([]Reply, error) {
	switch {
	case errors.Is(redeemErr, service.ErrInsufficientBalance):
		sess.Reset()
		return []Reply{{
			Text:     "❌ 余额不足，请联系管理员充值。",
			Keyboard: storefrontKeyboard(true),
		}}, nil
	case errors.Is(redeemErr, service.ErrOutOfStock):
		sess.Reset()
		return []Reply{{
			Text:     "❌ 该商品已售罄。",
			Keyboard: storefrontKeyboard(true),
		}}, nil
	case errors.Is(redeemErr, service.ErrPriceChanged), errors.Is(redeemErr, service.ErrProductNotFound):
		// 展示已过期（价格变动或商品下架），刷新列表让买家重选
		products, err := f.svcs.Catalog.ListProducts(ctx, sess.Pending.Category)
		if err != nil {
			return nil, err
		}
		if len(products) == 0 {
			sess.Reset()
			return []Reply{{
				Text:     "❌ 商品信息已变动且该分类已无商品，已返回主菜单。",
				Keyboard: storefrontKeyboard(true),
			}}, nil
		}
		reply := f.productListReply(sess.Pending.Category, products)
		reply.Text = "⚠️ 商品信息已变动，已刷新列表，请重新选择：\n" + reply.Text
		return []Reply{reply}, nil
	}
	return nil, redeemErr
}

func (f *storefront) unknown(_ context.Context, _ *Session, _ string) ([]Reply, error) {
	return []Reply{{Text: "无法识别的输入，请使用菜单按钮，或发送 /start 回到主菜单。"}}, nil
}
