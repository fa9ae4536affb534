package admin

import (
	"time"

	"gacha-admin/internal/discovery/etcd"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/pkg/cache"
	"gacha-admin/internal/service"
)

// Dependencies admin 子包最小依赖集合
type Dependencies struct {
	Identity *service.IdentityService
	Perm     *service.PermissionService
	Menu     *service.MenuService
	Editor   *service.EditorService
	Guard    service.Guard
	// GuardWait guard 接口等待解析完成的上限，超时返回 202
	GuardWait time.Duration
	// Cache 分层缓存，仅用于指标输出；可为 nil
	Cache     *cache.LayeredCache
	Registrar *etcd.Registrar
	Logger    *logging.Logger
}
