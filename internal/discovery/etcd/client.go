package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gacha-admin/internal/logging"
	"gacha-admin/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type Config struct {
	Endpoints []string
	TTL       int
	Prefix    string
}

type Client struct{ *clientv3.Client }

func New(cfg Config) (*Client, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints, DialTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	return &Client{cli}, nil
}

func (c *Client) Close() error { return c.Client.Close() }

// Instance 注册到 etcd 的实例信息
type Instance struct {
	ID        string    `json:"id"`
	Addr      string    `json:"addr"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// Registrar 以租约维持实例注册；租约丢失后按指数退避重新注册，直到 ctx 结束
type Registrar struct {
	KV     clientv3.KV
	Lease  clientv3.Lease
	Prefix string
	TTL    int64
	Logger *logging.Logger

	// 重试上限，0 表示不限
	MaxElapsed time.Duration

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	key     string
}

func NewRegistrar(c *Client, prefix string, ttl int, l *logging.Logger) *Registrar {
	return newRegistrar(c.Client.KV, c.Client.Lease, prefix, ttl, l)
}

func newRegistrar(kv clientv3.KV, lease clientv3.Lease, prefix string, ttl int, l *logging.Logger) *Registrar {
	if prefix == "" {
		prefix = "/gacha-admin/instances/"
	}
	if ttl <= 0 {
		ttl = 10
	}
	if l == nil {
		l = logging.Nop()
	}
	return &Registrar{KV: kv, Lease: lease, Prefix: prefix, TTL: int64(ttl), Logger: l}
}

func (r *Registrar) register(ctx context.Context, key, val string) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	lease, err := r.Lease.Grant(ctx, r.TTL)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := r.KV.Put(ctx, key, val, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	ch, err := r.Lease.KeepAlive(ctx, lease.ID)
	if err != nil {
		return nil, fmt.Errorf("keepalive: %w", err)
	}
	r.mu.Lock()
	r.leaseID, r.key = lease.ID, key
	r.mu.Unlock()
	return ch, nil
}

func (r *Registrar) registerWithRetry(ctx context.Context, key, val string) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	opts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.EtcdUp.Set(0)
			r.Logger.Warn("etcd_register_retry", zap.String("key", key), zap.Duration("next", next), zap.Error(err))
		}),
	}
	if r.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.MaxElapsed))
	}
	return backoff.Retry(ctx, func() (<-chan *clientv3.LeaseKeepAliveResponse, error) {
		return r.register(ctx, key, val)
	}, opts...)
}

// Register 首次注册同步完成；之后在后台维持租约，ctx 结束时返回
func (r *Registrar) Register(ctx context.Context, inst Instance) error {
	b, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	key, val := r.Prefix+inst.ID, string(b)
	ch, err := r.registerWithRetry(ctx, key, val)
	if err != nil {
		return err
	}
	metrics.EtcdUp.Set(1)
	r.Logger.Info("etcd_registered", zap.String("key", key))
	go r.keep(ctx, ch, key, val)
	return nil
}

func (r *Registrar) keep(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse, key, val string) {
	for {
		for range ch {
		}
		if ctx.Err() != nil {
			return
		}
		metrics.EtcdUp.Set(0)
		r.Logger.Warn("etcd_lease_lost", zap.String("key", key))
		next, err := r.registerWithRetry(ctx, key, val)
		if err != nil {
			if ctx.Err() == nil {
				r.Logger.Error("etcd_reregister_failed", zap.String("key", key), zap.Error(err))
			}
			return
		}
		metrics.EtcdUp.Set(1)
		ch = next
	}
}

// Deregister 删除 key 并撤销租约；key 可能已随租约过期
func (r *Registrar) Deregister(ctx context.Context) error {
	r.mu.Lock()
	key, leaseID := r.key, r.leaseID
	r.mu.Unlock()
	if key == "" {
		return nil
	}
	_, _ = r.KV.Delete(ctx, key)
	if leaseID > 0 {
		_, _ = r.Lease.Revoke(ctx, leaseID)
	}
	r.Logger.Info("etcd_deregistered", zap.String("key", key))
	return nil
}

// Discover 列出前缀下全部实例；无法解析的值跳过
func (r *Registrar) Discover(ctx context.Context) ([]Instance, error) {
	resp, err := r.KV.Get(ctx, r.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}
