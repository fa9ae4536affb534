package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"
)

// Kind 缓存的资源类型
type Kind string

const (
	KindAccessibleMenus Kind = "accessible_menus" // 当前身份自己的可访问菜单
	KindIdentity        Kind = "identity"         // admin_users 记录
)

// identityKinds 按身份失效时需要清理的全部类型
var identityKinds = []Kind{KindAccessibleMenus, KindIdentity}

// Key 类型化 key：身份 id + 资源类型
type Key struct {
	Identity string
	Kind     Kind
}

func (k Key) String() string { return fmt.Sprintf("gacha:%s:%s", k.Kind, k.Identity) }

const nilSentinel = "__nil__"

// WrapNil 空结果占位，防止缓存穿透
func WrapNil(empty bool) string {
	if empty {
		return nilSentinel
	}
	return ""
}

func IsNilSentinel(v string) bool { return v == nilSentinel }

// JitterTTL 在 ttl 基础上随机缩短至多 10%，避免同批 key 同时过期
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= time.Second {
		return ttl
	}
	return ttl - time.Duration(rand.Int64N(int64(ttl/10)+1))
}

// Keyspace 面向业务的缓存服务，生命周期跟随登录/登出
type Keyspace struct {
	c     Cache
	local Cache
}

// NewKeyspace local 可为 nil；非 nil 时 InvalidateLocal 只清理本地层
func NewKeyspace(c Cache, local Cache) *Keyspace {
	return &Keyspace{c: c, local: local}
}

// GetJSON 命中返回 true；命中空占位时 out 保持零值
func (k *Keyspace) GetJSON(ctx context.Context, key Key, out any) (bool, error) {
	v, err := k.c.Get(ctx, key.String())
	if err != nil || v == "" {
		return false, err
	}
	if IsNilSentinel(v) {
		return true, nil
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		// 损坏的条目直接删掉，让调用方回源
		_ = k.c.Del(ctx, key.String())
		return false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return true, nil
}

func (k *Keyspace) SetJSON(ctx context.Context, key Key, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	return k.c.SetEX(ctx, key.String(), string(b), JitterTTL(ttl))
}

func (k *Keyspace) SetNil(ctx context.Context, key Key, ttl time.Duration) error {
	return k.c.SetEX(ctx, key.String(), WrapNil(true), ttl)
}

func (k *Keyspace) Get(ctx context.Context, key Key) (string, error) {
	return k.c.Get(ctx, key.String())
}

func (k *Keyspace) Set(ctx context.Context, key Key, val string, ttl time.Duration) error {
	return k.c.SetEX(ctx, key.String(), val, ttl)
}

func (k *Keyspace) Invalidate(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	raw := make([]string, 0, len(keys))
	for _, key := range keys {
		raw = append(raw, key.String())
	}
	return k.c.Del(ctx, raw...)
}

// InvalidateIdentity 清理一个身份的全部类型
func (k *Keyspace) InvalidateIdentity(ctx context.Context, identityID string) error {
	return k.Invalidate(ctx, identityKeys(identityID)...)
}

// InvalidateLocal 只清理本实例 L1，用于广播事件
func (k *Keyspace) InvalidateLocal(ctx context.Context, identityID string) error {
	if k.local == nil {
		return nil
	}
	keys := identityKeys(identityID)
	raw := make([]string, 0, len(keys))
	for _, key := range keys {
		raw = append(raw, key.String())
	}
	return k.local.Del(ctx, raw...)
}

func identityKeys(identityID string) []Key {
	keys := make([]Key, 0, len(identityKinds))
	for _, kind := range identityKinds {
		keys = append(keys, Key{Identity: identityID, Kind: kind})
	}
	return keys
}
