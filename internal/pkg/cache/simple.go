package cache

import (
	"context"
	"sync"
	"time"
)

// Cache 统一缓存接口，value 统一为 string（JSON 编解码在业务侧处理）
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	SetEX(ctx context.Context, key, val string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type item struct {
	val string
	exp time.Time
}

// SimpleCache 进程内 L1，带 TTL，过期条目惰性清理
type SimpleCache struct {
	mu   sync.RWMutex
	data map[string]item
	now  func() time.Time
}

func New() *SimpleCache { return &SimpleCache{data: make(map[string]item), now: time.Now} }

func (c *SimpleCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	it, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if !it.exp.IsZero() && c.now().After(it.exp) {
		c.mu.Lock()
		// 读锁释放后可能已被重新写入，只删仍过期的条目
		if cur, ok := c.data[key]; ok && !cur.exp.IsZero() && c.now().After(cur.exp) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return "", nil
	}
	return it.val, nil
}

func (c *SimpleCache) SetEX(_ context.Context, key, val string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.data[key] = item{val: val, exp: exp}
	c.mu.Unlock()
	return nil
}

func (c *SimpleCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *SimpleCache) Flush() { c.mu.Lock(); c.data = make(map[string]item); c.mu.Unlock() }

func (c *SimpleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// RemainingTTL 与 RedisAdapter 一致，便于 LayeredCache 回填时透传 TTL
func (c *SimpleCache) RemainingTTL(_ context.Context, key string) (time.Duration, bool) {
	c.mu.RLock()
	it, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || it.exp.IsZero() {
		return 0, false
	}
	d := it.exp.Sub(c.now())
	if d <= 0 {
		return 0, false
	}
	return d, true
}
