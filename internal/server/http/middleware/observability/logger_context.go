package observability

import (
	"gacha-admin/internal/logging"

	"github.com/gin-gonic/gin"
)

// LoggerContextMiddleware 将带 trace_id 的 logger 放入请求 context，
// handler 通过 logging.FromContext(c.Request.Context(), base) 获取。
// 认证成功后 security.Auth 会带上 user_id 重新放入。
func LoggerContextMiddleware(base *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = logging.IntoContext(ctx, base.WithContext(ctx))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
