package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const throttleKeyPrefix = "ds_login:"

// ThrottleOptions はログイン試行制限の設定です。
type ThrottleOptions struct {
	MaxAttempts  int           // 0 以下で無効
	Window       time.Duration // 失敗回数を数える期間
	LockDuration time.Duration // 上限到達後にロックする時間
}

// LoginThrottle はクライアント IP ごとのログイン失敗回数を Redis で管理します。
type LoginThrottle struct {
	rdb  *redis.Client
	opts ThrottleOptions
}

// NewLoginThrottle は LoginThrottle を作成します。MaxAttempts が 0 以下なら nil を返します。
func NewLoginThrottle(rdb *redis.Client, opts ThrottleOptions) *LoginThrottle {
	if rdb == nil || opts.MaxAttempts <= 0 {
		return nil
	}
	return &LoginThrottle{rdb: rdb, opts: opts}
}

// CheckLock はロック中なら残り時間を返します。
func (t *LoginThrottle) CheckLock(ctx context.Context, ip string) (time.Duration, error) {
	ttl, err := t.rdb.PTTL(ctx, lockKey(ip)).Result()
	if err != nil {
		return 0, fmt.Errorf("throttle check: %w", err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure は失敗を記録し、残り試行回数を返します。上限に達すると IP をロックします。
func (t *LoginThrottle) RecordFailure(ctx context.Context, ip string) (int, error) {
	key := failKey(ip)

	// カウンタと有効期限は同じトランザクションで設定し、期限なしのキーを残さない
	var incr *redis.IntCmd
	if _, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, t.opts.Window)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("throttle record: %w", err)
	}
	count := incr.Val()

	if count >= int64(t.opts.MaxAttempts) {
		if err := t.rdb.Set(ctx, lockKey(ip), 1, t.opts.LockDuration).Err(); err != nil {
			return 0, fmt.Errorf("throttle lock: %w", err)
		}
		if err := t.rdb.Del(ctx, key).Err(); err != nil {
			return 0, fmt.Errorf("throttle lock: %w", err)
		}
		return 0, nil
	}

	return t.opts.MaxAttempts - int(count), nil
}

// Reset はログイン成功時に失敗回数を消去します。
func (t *LoginThrottle) Reset(ctx context.Context, ip string) error {
	if err := t.rdb.Del(ctx, failKey(ip), lockKey(ip)).Err(); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}

func failKey(ip string) string {
	return throttleKeyPrefix + "fail:" + ip
}

func lockKey(ip string) string {
	return throttleKeyPrefix + "lock:" + ip
}
