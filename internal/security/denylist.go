// Package security 登出吊销等与认证相关的存储。
package security

import (
	"context"
	"time"

	"gacha-admin/internal/pkg/cache"
	redisrepo "gacha-admin/internal/repository/redis"
)

// Denylist 登出后的会话在 token 过期前一直拒绝
type Denylist interface {
	Revoke(ctx context.Context, key string, ttl time.Duration) error
	IsRevoked(ctx context.Context, key string) (bool, error)
}

type RedisDenylist struct {
	Redis  *redisrepo.Client
	Prefix string
}

func NewRedisDenylist(r *redisrepo.Client, prefix string) *RedisDenylist {
	if prefix == "" {
		prefix = "gacha:denylist:"
	}
	return &RedisDenylist{Redis: r, Prefix: prefix}
}

func (d *RedisDenylist) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return d.Redis.SetTTL(ctx, d.Prefix+key, "1", ttl)
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, key string) (bool, error) {
	return d.Redis.Exists(ctx, d.Prefix+key)
}

// MemoryDenylist 单实例/测试使用
type MemoryDenylist struct{ c *cache.SimpleCache }

func NewMemoryDenylist() *MemoryDenylist { return &MemoryDenylist{c: cache.New()} }

func (d *MemoryDenylist) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return d.c.SetEX(ctx, key, "1", ttl)
}

func (d *MemoryDenylist) IsRevoked(ctx context.Context, key string) (bool, error) {
	v, err := d.c.Get(ctx, key)
	return v != "", err
}
