package middleware

import (
	"net/http"

	"gacha-admin/internal/logging"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery panic 时记录堆栈并按统一结构返回，替代 gin.Recovery 的纯文本 500
func Recovery(base *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(c.Request.Context(), base).Error("http_panic",
					zap.Any("panic", rec),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				response.JSONStatus(c, http.StatusInternalServerError, retcode.EXCEPTION, "internal error", gin.H{})
				c.Abort()
			}
		}()
		c.Next()
	}
}
