package security

import (
	"context"
	"time"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/service"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
)

// Permission 为当前身份解析可访问菜单并挂到上下文；不阻塞，加载在后台进行
func Permission(perm *service.PermissionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := IdentityFrom(c)
		if !ok {
			response.Abort(c, retcode.AUTH_ERROR, "unauthorized")
			return
		}
		c.Set(resolverKey, perm.Resolve(c.Request.Context(), u))
		c.Next()
	}
}

func ResolverFrom(c *gin.Context) (*service.Resolver, bool) {
	v, ok := c.Get(resolverKey)
	if !ok {
		return nil, false
	}
	r, ok := v.(*service.Resolver)
	return r, ok && r != nil
}

// RequireUnrestricted 仅 super_admin
func RequireUnrestricted() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := IdentityFrom(c)
		if !ok {
			response.Abort(c, retcode.AUTH_ERROR, "unauthorized")
			return
		}
		if !model.IsUnrestricted(u) {
			response.Abort(c, retcode.FORBIDDEN, "forbidden")
			return
		}
		c.Next()
	}
}

// RequireMenuCode 需要持有指定菜单 code。解析未完成时最多等待 wait，仍未完成按无权限处理。
func RequireMenuCode(code string, wait time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := ResolverFrom(c)
		if !ok {
			response.Abort(c, retcode.UNKNOWN, "permission resolver missing")
			return
		}
		if r.IsLoading() && wait > 0 {
			ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
			_ = r.Wait(ctx)
			cancel()
		}
		if r.IsLoading() {
			response.Abort(c, retcode.SESSION_LOADING, "permissions still loading")
			return
		}
		if !r.HasAccessToCode(code) {
			response.Abort(c, retcode.FORBIDDEN, "forbidden")
			return
		}
		c.Next()
	}
}
