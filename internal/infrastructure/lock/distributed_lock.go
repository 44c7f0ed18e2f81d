package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 场景：同一会员因网络抖动连续提交两次兑换请求
//
// 没有锁时两个请求可能同时通过余额预检，各自扣款一次；
// 加锁后第二个请求要么排队等到第一个完成（此时余额已扣减，预检拦下），
// 要么在有限次重试后直接失败，绝不会挂起等待。
//
// 加锁：SET key value NX EX timeout
//   - NX: key 不存在才能设置，保证互斥
//   - EX: 过期时间，持有者崩溃后锁自动释放
//   - value: 持有者标识，释放时校验，防止误删别人的锁
//
// 释放：Lua 脚本保证「校验 value + 删除」的原子性
//
// 注意：卡密库存层面的并发（两个不同会员抢最后一张卡）不依赖这把锁，
// 由数据库内对卡密状态的 CAS 更新保证，见 repository.KeyRepository.Claim
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 带重试的获取锁，重试耗尽后返回 ErrLockFailed，不会无限等待
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// Lua 脚本先校验 value 再删除，避免删掉锁过期后其他请求新持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewRedeemLock 创建兑换锁（按账户维度）
// 不同账户可以并发兑换；同一账户的重复提交被串行化，
// 这正是防止同一会员超扣余额需要的粒度
func NewRedeemLock(client *redis.Client, accountID int64, redemptionNo string) *DistributedLock {
	key := fmt.Sprintf("redeem:lock:account:%d", accountID)
	// value 使用兑换单号，便于追踪是哪个请求持有锁
	return NewDistributedLock(client, key, redemptionNo, 30*time.Second)
}
