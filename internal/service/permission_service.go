package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gacha-admin/internal/domain/menutree"
	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/metrics"
	"gacha-admin/internal/pkg/cache"
	"gacha-admin/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PermissionService 负责当前身份可访问菜单的加载与缓存
// 规则：super_admin 不受授权表约束；其它身份按可访问菜单的 path / code 精确匹配
type PermissionService struct {
	Repo   repository.MenuRepository
	Cache  *cache.Keyspace
	Logger *logging.Logger

	ttl         time.Duration
	loadTimeout time.Duration

	group singleflight.Group
	genMu sync.Mutex
	gen   map[string]uint64 // 每个身份的失效代数，防止失效前发起的加载回写旧数据
	// inflight 每个身份进行中的读取数；归零时连同 gen 一起删除，两张表只保留活跃身份
	inflight map[string]int

	metricCacheHit     uint64
	metricLoad         uint64
	metricLoadError    uint64
	metricUnrestricted uint64
}

func NewPermissionService(repo repository.MenuRepository, ks *cache.Keyspace, l *logging.Logger, ttl, loadTimeout time.Duration) *PermissionService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if loadTimeout <= 0 {
		loadTimeout = 10 * time.Second
	}
	if l == nil {
		l = logging.Nop()
	}
	return &PermissionService{Repo: repo, Cache: ks, Logger: l, ttl: ttl, loadTimeout: loadTimeout, gen: make(map[string]uint64), inflight: make(map[string]int)}
}

func (p *PermissionService) tracer() trace.Tracer { return otel.Tracer("service.permission") }

// Resolve 立即返回 Resolver；缓存未命中时后台加载，调用方通过 IsLoading/Wait 观察
func (p *PermissionService) Resolve(ctx context.Context, identity *model.AdminUser) *Resolver {
	if identity == nil {
		return NewResolver(nil, nil, ErrNoIdentity)
	}
	if model.IsUnrestricted(identity) {
		atomic.AddUint64(&p.metricUnrestricted, 1)
		metrics.ResolverLookups.WithLabelValues("unrestricted").Inc()
		return NewResolver(identity, nil, nil)
	}
	if tree, ok := p.cached(ctx, identity.ID); ok {
		atomic.AddUint64(&p.metricCacheHit, 1)
		metrics.ResolverLookups.WithLabelValues("cache").Inc()
		return NewResolver(identity, tree, nil)
	}
	r, settle := NewPendingResolver(identity)
	// 保留 context 中的凭证，但不随请求结束而取消
	loadCtx := context.WithoutCancel(ctx)
	gen := p.acquire(identity.ID)
	ch := p.group.DoChan(identity.ID, func() (any, error) {
		return p.load(loadCtx, identity, gen)
	})
	go func() {
		res := <-ch
		p.release(identity.ID)
		if res.Err != nil {
			settle(nil, res.Err)
			return
		}
		settle(res.Val.(*menutree.Tree), nil)
	}()
	return r
}

// AccessibleMenus 同步获取可访问菜单（含 super_admin），用于菜单渲染接口
func (p *PermissionService) AccessibleMenus(ctx context.Context, identity *model.AdminUser) (*menutree.Tree, error) {
	if identity == nil {
		return nil, ErrNoIdentity
	}
	if tree, ok := p.cached(ctx, identity.ID); ok {
		metrics.ResolverLookups.WithLabelValues("cache").Inc()
		return tree, nil
	}
	gen := p.acquire(identity.ID)
	defer p.release(identity.ID)
	v, err, _ := p.group.Do(identity.ID, func() (any, error) {
		return p.load(context.WithoutCancel(ctx), identity, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*menutree.Tree), nil
}

func (p *PermissionService) cached(ctx context.Context, identityID string) (*menutree.Tree, bool) {
	if p.Cache == nil {
		return nil, false
	}
	var nested []model.MenuNode
	hit, err := p.Cache.GetJSON(ctx, cache.Key{Identity: identityID, Kind: cache.KindAccessibleMenus}, &nested)
	if err != nil {
		p.Logger.WithContext(ctx).Warn("permission_cache_decode_failed", zap.String("identity", identityID), zap.Error(err))
		return nil, false
	}
	if !hit {
		return nil, false
	}
	return menutree.FromNested(nested), true
}

// load gen 为发起请求时的失效代数；期间发生过失效则结果不写缓存
func (p *PermissionService) load(ctx context.Context, identity *model.AdminUser, gen uint64) (_ *menutree.Tree, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.loadTimeout)
	defer cancel()
	ctx, span := p.tracer().Start(ctx, "PermissionService.load", trace.WithAttributes(attribute.String("admin.id", identity.ID)))
	defer span.End()

	nested, err := p.Repo.ListAccessibleMenus(ctx, identity)
	if err != nil {
		atomic.AddUint64(&p.metricLoadError, 1)
		metrics.ResolverLookups.WithLabelValues("load_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.Logger.WithContext(ctx).Warn("permission_load_failed", zap.String("identity", identity.ID), zap.Error(err))
		return nil, fmt.Errorf("load accessible menus: %w", err)
	}
	atomic.AddUint64(&p.metricLoad, 1)
	metrics.ResolverLookups.WithLabelValues("load").Inc()
	tree := menutree.FromNested(nested)
	if p.Cache != nil && p.generation(identity.ID) == gen {
		key := cache.Key{Identity: identity.ID, Kind: cache.KindAccessibleMenus}
		var cerr error
		if tree.Empty() {
			cerr = p.Cache.SetNil(ctx, key, p.ttl)
		} else {
			cerr = p.Cache.SetJSON(ctx, key, tree.Nested(), p.ttl)
		}
		if cerr != nil {
			p.Logger.WithContext(ctx).Warn("permission_cache_store_failed", zap.String("identity", identity.ID), zap.Error(cerr))
		}
	}
	span.SetAttributes(attribute.Int("menu.count", tree.Len()))
	return tree, nil
}

func (p *PermissionService) generation(identityID string) uint64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	return p.gen[identityID]
}

// acquire 登记一次读取并返回发起时的代数，与 release 成对调用
func (p *PermissionService) acquire(identityID string) uint64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	p.inflight[identityID]++
	return p.gen[identityID]
}

// release 最后一个读取结束后删除该身份的代数；此后没有旧代数的加载需要比较
func (p *PermissionService) release(identityID string) {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	if p.inflight[identityID]--; p.inflight[identityID] > 0 {
		return
	}
	delete(p.inflight, identityID)
	delete(p.gen, identityID)
}

// bump 只有存在进行中的读取时才需要记录新代数
func (p *PermissionService) bump(identityID string) {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	if p.inflight[identityID] > 0 {
		p.gen[identityID]++
	}
}

// Invalidate 登出或授权变更后调用；进行中的加载结果不再回写缓存
func (p *PermissionService) Invalidate(ctx context.Context, identityID string) error {
	p.bump(identityID)
	p.group.Forget(identityID)
	if p.Cache == nil {
		return nil
	}
	return p.Cache.InvalidateIdentity(ctx, identityID)
}

// InvalidateLocal 其它实例广播的变更，只清理本地 L1
func (p *PermissionService) InvalidateLocal(ctx context.Context, identityID string) error {
	p.bump(identityID)
	p.group.Forget(identityID)
	if p.Cache == nil {
		return nil
	}
	return p.Cache.InvalidateLocal(ctx, identityID)
}

type PermissionMetrics struct {
	CacheHit     uint64 `json:"cache_hit"`
	Load         uint64 `json:"load"`
	LoadError    uint64 `json:"load_error"`
	Unrestricted uint64 `json:"unrestricted"`
}

func (p *PermissionService) SnapshotMetrics() PermissionMetrics {
	return PermissionMetrics{
		CacheHit:     atomic.LoadUint64(&p.metricCacheHit),
		Load:         atomic.LoadUint64(&p.metricLoad),
		LoadError:    atomic.LoadUint64(&p.metricLoadError),
		Unrestricted: atomic.LoadUint64(&p.metricUnrestricted),
	}
}
