package admin

import (
	"errors"
	"io"
	"net/http"

	"gacha-admin/internal/logging"
	"gacha-admin/internal/repository"
	"gacha-admin/internal/service"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// upstreamStatus edge.Error 等携带上游状态码的错误
type upstreamStatus interface {
	StatusCode() int
}

// fail 将 service / repository 错误映射为业务码
func fail(c *gin.Context, base *logging.Logger, err error) {
	code, msg := classify(err)
	lg := logging.FromContext(c.Request.Context(), base)
	if code == retcode.UPSTREAM_ERROR || code == retcode.EXCEPTION {
		lg.Warn("request_failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	response.Error(c, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidMenu), errors.Is(err, repository.ErrUnknownMenuIDs), errors.Is(err, repository.ErrInvalidParent),
		errors.Is(err, service.ErrUnknownMenu), errors.Is(err, service.ErrNoTarget), errors.Is(err, service.ErrInvalidFilter):
		return retcode.PARAM_INVALID, err.Error()
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrSessionNotFound):
		return retcode.RECORD_NOT_FOUND, err.Error()
	case errors.Is(err, repository.ErrMenuHasChildren):
		return retcode.DELETE_FAILED, err.Error()
	case errors.Is(err, service.ErrEditorNotReady):
		return retcode.SESSION_LOADING, err.Error()
	case errors.Is(err, service.ErrEditorLoadFailed):
		return retcode.SESSION_LOAD_FAILED, err.Error()
	case errors.Is(err, service.ErrSaveInFlight):
		return retcode.SAVE_IN_FLIGHT, err.Error()
	case errors.Is(err, service.ErrNoIdentity):
		return retcode.AUTH_ERROR, err.Error()
	}
	var us upstreamStatus
	if errors.As(err, &us) {
		switch us.StatusCode() {
		case http.StatusUnauthorized:
			return retcode.AUTH_ERROR, err.Error()
		case http.StatusForbidden:
			return retcode.FORBIDDEN, err.Error()
		case http.StatusNotFound:
			return retcode.RECORD_NOT_FOUND, err.Error()
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			return retcode.PARAM_INVALID, err.Error()
		}
		return retcode.UPSTREAM_ERROR, err.Error()
	}
	return retcode.UPSTREAM_ERROR, "upstream unavailable"
}

// bind 解析 JSON body，失败时已写出响应
func bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		response.Error(c, retcode.JSON_PARSE_FAIL, err.Error())
		return false
	}
	return true
}

// bindOptional 请求体可以为空（含 chunked 无 Content-Length 的情况）
func bindOptional(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, retcode.JSON_PARSE_FAIL, err.Error())
		return false
	}
	return true
}
