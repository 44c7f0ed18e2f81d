package service

import (
	"context"
	"errors"
	"testing"
)

func TestLoginBindsIdentity(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionService(db)

	alice := seedAccount(t, db, "alice", 2000, false)

	account, err := sessions.Login(ctx, "alice", "alice-key", 1001)
	if err != nil {
		t.Fatalf("登录失败: %v", err)
	}
	if account.ID != alice.ID {
		t.Fatalf("登录到了错误的账户: %d", account.ID)
	}
	if account.ExternalID == nil || *account.ExternalID != 1001 {
		t.Fatalf("聊天端身份未绑定: %+v", account.ExternalID)
	}

	// 同一身份重复登录视为幂等
	if _, err := sessions.Login(ctx, "alice", "alice-key", 1001); err != nil {
		t.Fatalf("重复登录应当成功: %v", err)
	}

	// Whoami 按身份解析
	who, err := sessions.Whoami(ctx, 1001)
	if err != nil {
		t.Fatalf("Whoami 失败: %v", err)
	}
	if who == nil || who.ID != alice.ID {
		t.Fatalf("Whoami 解析错误: %+v", who)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionService(db)

	seedAccount(t, db, "alice", 2000, false)

	if _, err := sessions.Login(ctx, "alice", "wrong-key", 1001); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("期望 ErrInvalidCredentials，实际 %v", err)
	}
	if _, err := sessions.Login(ctx, "nobody", "alice-key", 1001); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("期望 ErrInvalidCredentials，实际 %v", err)
	}

	// 凭证错误不应留下绑定
	who, err := sessions.Whoami(ctx, 1001)
	if err != nil {
		t.Fatalf("Whoami 失败: %v", err)
	}
	if who != nil {
		t.Fatalf("不应有绑定: %+v", who)
	}
}

func TestLoginBindingConflicts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionService(db)

	seedAccount(t, db, "alice", 2000, false)
	seedAccount(t, db, "bob", 2000, false)

	if _, err := sessions.Login(ctx, "alice", "alice-key", 1001); err != nil {
		t.Fatalf("登录失败: %v", err)
	}

	// 账户已绑定其他身份：需要先在原会话登出
	if _, err := sessions.Login(ctx, "alice", "alice-key", 2002); !errors.Is(err, ErrAccountInUse) {
		t.Fatalf("期望 ErrAccountInUse，实际 %v", err)
	}

	// 身份已绑定其他账户：拒绝切换
	if _, err := sessions.Login(ctx, "bob", "bob-key", 1001); !errors.Is(err, ErrIdentityBound) {
		t.Fatalf("期望 ErrIdentityBound，实际 %v", err)
	}
}

func TestLogoutIsIdempotentAndReleasesBinding(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionService(db)

	seedAccount(t, db, "alice", 2000, false)

	if _, err := sessions.Login(ctx, "alice", "alice-key", 1001); err != nil {
		t.Fatalf("登录失败: %v", err)
	}

	wasLoggedIn, err := sessions.Logout(ctx, 1001)
	if err != nil {
		t.Fatalf("登出失败: %v", err)
	}
	if !wasLoggedIn {
		t.Fatal("首次登出应返回 true")
	}

	wasLoggedIn, err = sessions.Logout(ctx, 1001)
	if err != nil {
		t.Fatalf("重复登出失败: %v", err)
	}
	if wasLoggedIn {
		t.Fatal("重复登出应返回 false")
	}

	// 登出后可以换设备重新登录
	if _, err := sessions.Login(ctx, "alice", "alice-key", 2002); err != nil {
		t.Fatalf("登出后重新登录失败: %v", err)
	}
}

func TestAdminLoginRequiresAdminAndAllowsRebind(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionService(db)

	seedAccount(t, db, "alice", 2000, false)
	seedAccount(t, db, "root", 0, true)

	// 普通会员凭证走管理员登录，一律按凭证错误处理
	if _, err := sessions.AdminLogin(ctx, "alice", "alice-key", 9001); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("期望 ErrInvalidCredentials，实际 %v", err)
	}

	admin, err := sessions.AdminLogin(ctx, "root", "root-key", 9001)
	if err != nil {
		t.Fatalf("管理员登录失败: %v", err)
	}
	if !admin.IsAdmin {
		t.Fatal("登录到的账户应为管理员")
	}

	// 管理员允许换设备直接重新绑定，不需要先登出
	admin, err = sessions.AdminLogin(ctx, "root", "root-key", 9002)
	if err != nil {
		t.Fatalf("管理员换设备登录失败: %v", err)
	}
	if admin.ExternalID == nil || *admin.ExternalID != 9002 {
		t.Fatalf("重新绑定失败: %+v", admin.ExternalID)
	}

	// 旧身份的绑定已被清除
	who, err := sessions.Whoami(ctx, 9001)
	if err != nil {
		t.Fatalf("Whoami 失败: %v", err)
	}
	if who != nil {
		t.Fatalf("旧绑定应已清除: %+v", who)
	}
}
