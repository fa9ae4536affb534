package http

import (
	"context"
	"time"

	"gacha-admin/internal/config"
	"gacha-admin/internal/logging"
	handlerset "gacha-admin/internal/server/http/handler"
	"gacha-admin/internal/server/http/middleware"
	obs "gacha-admin/internal/server/http/middleware/observability"
	sec "gacha-admin/internal/server/http/middleware/security"
	"gacha-admin/internal/service"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 仅负责分组与中间件装配，具体业务放在 handler 层
func NewRouter(cfg *config.Config, logger *logging.Logger, h *handlerset.HandlerSet, auth sec.Authenticator, perm *service.PermissionService, hc *HealthChecker) *gin.Engine {
	r := gin.New()
	r.Use(obs.TraceMiddleware(), obs.LoggerContextMiddleware(logger), middleware.Recovery(logger), middleware.CORS(cfg.HTTP.AllowOrigins), obs.AccessLog(logger), obs.Metrics())

	// 健康检查
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, hc.Liveness()) })
	r.GET("/readyz", func(c *gin.Context) {
		if c.Query("refresh") == "1" {
			hc.Refresh()
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()
		res, code := hc.Readiness(ctx)
		c.JSON(code, res)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	codeWait := cfg.Guard.WaitTimeout

	pub := r.Group("/admin")
	{
		pub.POST("/auth/signin", h.Auth.SignIn)
	}

	// 需认证 + 权限预加载
	authed := r.Group("/admin", sec.Auth(auth, logger), sec.Permission(perm))
	{
		authed.POST("/auth/signout", h.Auth.SignOut)
		authed.GET("/auth/me", h.Auth.Me)
		authed.GET("/menus/me", h.Menu.Mine)
		authed.GET("/access", h.Access.Check)
		authed.GET("/guard", h.Access.Guard)
	}

	// super_admin
	root := authed.Group("", sec.RequireUnrestricted())
	{
		menus := root.Group("/menus")
		{
			menus.GET("", h.Menu.Index)
			menus.POST("", h.Menu.Add)
			menus.PUT("/:id", h.Menu.Edit)
			menus.DELETE("/:id", h.Menu.Delete)
		}
		sessions := root.Group("/menu-permissions/sessions")
		{
			sessions.POST("", h.Editor.Open)
			sessions.GET("/:id", h.Editor.Show)
			sessions.POST("/:id/reopen", h.Editor.Reopen)
			sessions.POST("/:id/toggle", h.Editor.Toggle)
			sessions.POST("/:id/save", h.Editor.Save)
			sessions.DELETE("/:id", h.Editor.Close)
		}
		users := root.Group("/users")
		{
			users.GET("", h.User.Index)
			users.POST("/:id/approve", h.User.Approve)
			users.POST("/:id/reject", h.User.Reject)
		}
	}

	// 运维接口按菜单 code 授权，super_admin 直接放行
	system := authed.Group("/system", sec.RequireMenuCode("system_monitor", codeWait))
	{
		system.GET("/cache", h.System.CacheMetrics)
		system.GET("/cache/reset", h.System.CacheReset)
		system.GET("/instances", h.System.Instances)
	}

	// 统一 404
	r.NoRoute(func(c *gin.Context) {
		response.Error(c, retcode.NOT_EXISTS, "不存在")
	})
	return r
}
