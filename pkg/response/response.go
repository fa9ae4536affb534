package response

import (
	"net/http"

	"gacha-admin/internal/util/retcode"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func JSON(c *gin.Context, code int, msg string, data interface{}) {
	JSONStatus(c, http.StatusOK, code, msg, data)
}

// JSONStatus 需要非 200 状态码时使用（如 guard 加载中返回 202）
func JSONStatus(c *gin.Context, status, code int, msg string, data interface{}) {
	c.JSON(status, Body{Code: code, Msg: msg, Data: data})
}

func Success(c *gin.Context, data interface{}) {
	JSON(c, retcode.SUCCESS, "success", data)
}

// Error 约定：code 传入业务码(负值)。若传入 >=0，将自动转为 retcode.INVALID。
func Error(c *gin.Context, code int, msg string) {
	if code >= 0 {
		code = retcode.INVALID
	}
	JSON(c, code, msg, gin.H{})
}

// Abort Error 并中止后续 handler，中间件使用
func Abort(c *gin.Context, code int, msg string) {
	Error(c, code, msg)
	c.Abort()
}
