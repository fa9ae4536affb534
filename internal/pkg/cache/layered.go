package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// LayeredCache L1 (本地) + L2 (Redis)
// 读：L1 -> L2 -> miss，L2 命中回填 L1
// 写/删：两层都执行
type LayeredCache struct {
	L1 Cache
	L2 Cache

	hitsL1     uint64
	hitsL2     uint64
	miss       uint64
	setOps     uint64
	delOps     uint64
	backfillL1 uint64
	l2Errors   uint64
}

type LayeredMetrics struct {
	HitsL1     uint64  `json:"hits_l1"`
	HitsL2     uint64  `json:"hits_l2"`
	Miss       uint64  `json:"miss"`
	SetOps     uint64  `json:"set_ops"`
	DelOps     uint64  `json:"del_ops"`
	BackfillL1 uint64  `json:"backfill_l1"`
	L2Errors   uint64  `json:"l2_errors"`
	HitRate    float64 `json:"hit_rate"`
}

func NewLayered(l1, l2 Cache) *LayeredCache { return &LayeredCache{L1: l1, L2: l2} }

func (c *LayeredCache) Get(ctx context.Context, key string) (string, error) {
	if c.L1 != nil {
		if v, _ := c.L1.Get(ctx, key); v != "" {
			atomic.AddUint64(&c.hitsL1, 1)
			return v, nil
		}
	}
	if c.L2 != nil {
		v, err := c.L2.Get(ctx, key)
		if err != nil {
			// L2 不可用时降级为 miss，由调用方回源
			atomic.AddUint64(&c.l2Errors, 1)
		}
		if v != "" {
			atomic.AddUint64(&c.hitsL2, 1)
			if c.L1 != nil {
				ttl := 30 * time.Second
				if tf, ok := c.L2.(TTLFetcher); ok {
					if d, ok2 := tf.RemainingTTL(ctx, key); ok2 {
						ttl = d
					}
				}
				_ = c.L1.SetEX(ctx, key, v, ttl)
				atomic.AddUint64(&c.backfillL1, 1)
			}
			return v, nil
		}
	}
	atomic.AddUint64(&c.miss, 1)
	return "", nil
}

func (c *LayeredCache) SetEX(ctx context.Context, key, val string, ttl time.Duration) error {
	var errs []error
	if c.L1 != nil {
		errs = append(errs, c.L1.SetEX(ctx, key, val, ttl))
	}
	if c.L2 != nil {
		if err := c.L2.SetEX(ctx, key, val, ttl); err != nil {
			atomic.AddUint64(&c.l2Errors, 1)
			errs = append(errs, err)
		}
	}
	atomic.AddUint64(&c.setOps, 1)
	return errors.Join(errs...)
}

func (c *LayeredCache) Del(ctx context.Context, keys ...string) error {
	var errs []error
	if c.L1 != nil {
		errs = append(errs, c.L1.Del(ctx, keys...))
	}
	if c.L2 != nil {
		if err := c.L2.Del(ctx, keys...); err != nil {
			atomic.AddUint64(&c.l2Errors, 1)
			errs = append(errs, err)
		}
	}
	atomic.AddUint64(&c.delOps, 1)
	return errors.Join(errs...)
}

// Local 仅操作 L1；用于其它实例广播的失效事件（L2 已由写入方清理）
func (c *LayeredCache) Local() Cache { return c.L1 }

func (c *LayeredCache) SnapshotMetrics() LayeredMetrics {
	m := LayeredMetrics{
		HitsL1:     atomic.LoadUint64(&c.hitsL1),
		HitsL2:     atomic.LoadUint64(&c.hitsL2),
		Miss:       atomic.LoadUint64(&c.miss),
		SetOps:     atomic.LoadUint64(&c.setOps),
		DelOps:     atomic.LoadUint64(&c.delOps),
		BackfillL1: atomic.LoadUint64(&c.backfillL1),
		L2Errors:   atomic.LoadUint64(&c.l2Errors),
	}
	if total := m.HitsL1 + m.HitsL2 + m.Miss; total > 0 {
		m.HitRate = float64(m.HitsL1+m.HitsL2) / float64(total)
	}
	return m
}

func (c *LayeredCache) ResetMetrics() {
	atomic.StoreUint64(&c.hitsL1, 0)
	atomic.StoreUint64(&c.hitsL2, 0)
	atomic.StoreUint64(&c.miss, 0)
	atomic.StoreUint64(&c.setOps, 0)
	atomic.StoreUint64(&c.delOps, 0)
	atomic.StoreUint64(&c.backfillL1, 0)
	atomic.StoreUint64(&c.l2Errors, 0)
}
