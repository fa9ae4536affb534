package boot

import (
	"gacha-admin/internal/config"
	"gacha-admin/internal/discovery/etcd"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/pkg/cache"
	redisrepo "gacha-admin/internal/repository/redis"
	"gacha-admin/internal/security"
	jwtsec "gacha-admin/internal/security/jwt"
	httpSrv "gacha-admin/internal/server/http"
	handlerset "gacha-admin/internal/server/http/handler"
	adminh "gacha-admin/internal/server/http/handler/admin"
	sec "gacha-admin/internal/server/http/middleware/security"
	"gacha-admin/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"gorm.io/gorm"
)

// ProvideConfig wraps config.Load for wire with external path param
func ProvideConfig(path string) (*config.Config, error) { return config.Load(path) }

func NewJWTManager(c *config.Config) *jwtsec.Manager {
	return jwtsec.NewManager(c.JWT.Secret, c.JWT.Issuer)
}

// ProvideLayeredCache L1 本地；配置了 Redis 时 L2 为 Redis
func ProvideLayeredCache(r *redisrepo.Client) *cache.LayeredCache {
	if r == nil {
		return cache.NewLayered(cache.New(), nil)
	}
	return cache.NewLayered(cache.New(), cache.NewRedisAdapter(r))
}

// ProvideKeyspace 本地层单独传入，供跨实例失效只清理本机
func ProvideKeyspace(lc *cache.LayeredCache) *cache.Keyspace {
	return cache.NewKeyspace(lc, lc.Local())
}

// ProvideDenylist 有 Redis 时登出在全部实例生效，否则仅本进程
func ProvideDenylist(c *config.Config, r *redisrepo.Client) security.Denylist {
	if r == nil {
		return security.NewMemoryDenylist()
	}
	return security.NewRedisDenylist(r, c.Redis.DenylistPrefix)
}

func ProvidePermissionService(c *config.Config, repos Repositories, ks *cache.Keyspace, l *logging.Logger) *service.PermissionService {
	return service.NewPermissionService(repos.Menus, ks, l, c.Permission.CacheTTL, c.Permission.LoadTimeout)
}

func ProvideIdentityService(c *config.Config, repos Repositories, j *jwtsec.Manager, ks *cache.Keyspace, perm *service.PermissionService, dl security.Denylist, ev service.EventPublisher, l *logging.Logger) *service.IdentityService {
	return service.NewIdentityService(repos.Identity, j, ks, perm, dl, ev, l, c.Permission.CacheTTL)
}

func ProvideMenuService(repos Repositories, perm *service.PermissionService, l *logging.Logger) *service.MenuService {
	return service.NewMenuService(repos.Menus, perm, l)
}

func ProvideEditorService(c *config.Config, repos Repositories, perm *service.PermissionService, ev service.EventPublisher, l *logging.Logger) *service.EditorService {
	return service.NewEditorService(repos.Menus, perm, ev, l, c.Editor.SessionTTL, c.Permission.LoadTimeout)
}

func ProvideGuard(c *config.Config) service.Guard { return service.NewGuard(c.Guard.NotFoundPath) }

func ProvideHandlerDeps(c *config.Config, ident *service.IdentityService, perm *service.PermissionService, menu *service.MenuService, editor *service.EditorService, guard service.Guard, lc *cache.LayeredCache, reg *etcd.Registrar, l *logging.Logger) adminh.Dependencies {
	return adminh.Dependencies{
		Identity:  ident,
		Perm:      perm,
		Menu:      menu,
		Editor:    editor,
		Guard:     guard,
		GuardWait: c.Guard.WaitTimeout,
		Cache:     lc,
		Registrar: reg,
		Logger:    l,
	}
}

// ProvideHealthChecker 只为已配置的依赖注册探针
func ProvideHealthChecker(c *config.Config, db *gorm.DB, r *redisrepo.Client, e *etcd.Client) *httpSrv.HealthChecker {
	var probes []httpSrv.Probe
	if db != nil {
		probes = append(probes, httpSrv.DBProbe(db))
	}
	if c.Repository.Driver == config.DriverEdge {
		if addr, ok := upstreamAddr(c.Edge.BaseURL); ok {
			probes = append(probes, httpSrv.TCPProbe("edge", addr))
		}
	}
	if r != nil {
		probes = append(probes, httpSrv.RedisProbe(r))
	}
	if len(c.Kafka.Brokers) > 0 {
		probes = append(probes, httpSrv.KafkaProbe(c.Kafka.Brokers))
	}
	if e != nil {
		probes = append(probes, httpSrv.EtcdProbe(e))
	}
	return httpSrv.NewHealthChecker(probes...)
}

// ProvideRouter 装配路由；这里为注入后的 service 提供。
func ProvideRouter(c *config.Config, l *logging.Logger, hs *handlerset.HandlerSet, auth sec.Authenticator, perm *service.PermissionService, hc *httpSrv.HealthChecker) *gin.Engine {
	return httpSrv.NewRouter(c, l, hs, auth, perm, hc)
}

var ProviderSet = wire.NewSet(
	ProvideConfig,
	NewLogger,
	NewInstanceID,
	NewTracerProvider,
	// 存储
	NewPostgres,
	NewEdgeClient,
	NewRepositories,
	NewRedis,
	ProvideLayeredCache,
	ProvideKeyspace,
	ProvideDenylist,
	NewJWTManager,
	// 消息 / 注册
	NewKafkaProducer,
	NewEventPublisher,
	NewEtcd,
	NewRegistrar,
	// Service
	ProvidePermissionService,
	ProvideIdentityService,
	ProvideMenuService,
	ProvideEditorService,
	ProvideGuard,
	NewInvalidationConsumer,
	// HTTP
	ProvideHandlerDeps,
	handlerset.NewHandlerSet,
	wire.Bind(new(sec.Authenticator), new(*service.IdentityService)),
	ProvideHealthChecker,
	ProvideRouter,
	NewApp,
)
