package admin

import (
	"context"
	"net/http"

	sec "gacha-admin/internal/server/http/middleware/security"
	"gacha-admin/internal/service"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
)

type AccessHandler struct{ d Dependencies }

func NewAccessHandler(d Dependencies) *AccessHandler { return &AccessHandler{d: d} }

type accessResult struct {
	Loading      bool   `json:"loading"`
	Unrestricted bool   `json:"unrestricted"`
	Path         string `json:"path,omitempty"`
	PathAllowed  bool   `json:"path_allowed"`
	Code         string `json:"code,omitempty"`
	CodeAllowed  bool   `json:"code_allowed"`
	Error        string `json:"error,omitempty"`
}

// Check GET /admin/access?path=&code= 不等待加载，loading=true 时判定结果均为 false
func (h *AccessHandler) Check(c *gin.Context) {
	r, ok := sec.ResolverFrom(c)
	if !ok {
		response.Error(c, retcode.UNKNOWN, "permission resolver missing")
		return
	}
	res := accessResult{
		Loading:      r.IsLoading(),
		Unrestricted: r.Unrestricted(),
		Path:         c.Query("path"),
		Code:         c.Query("code"),
	}
	if res.Path != "" {
		res.PathAllowed = r.HasAccessToPath(res.Path)
	}
	if res.Code != "" {
		res.CodeAllowed = r.HasAccessToCode(res.Code)
	}
	if err := r.Err(); err != nil {
		res.Error = err.Error()
	}
	response.Success(c, res)
}

// Guard GET /admin/guard?path= 最多等待 GuardWait；仍在加载返回 202 + state=loading
func (h *AccessHandler) Guard(c *gin.Context) {
	r, ok := sec.ResolverFrom(c)
	if !ok {
		response.Error(c, retcode.UNKNOWN, "permission resolver missing")
		return
	}
	path := c.Query("path")
	if path == "" {
		response.Error(c, retcode.EMPTY_PARAMS, "path required")
		return
	}
	nav, d := h.d.Guard.Start(r, path)
	if d.State == service.GuardLoading && h.d.GuardWait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.d.GuardWait)
		d = nav.Settle(ctx)
		cancel()
	}
	if d.State == service.GuardLoading {
		response.JSONStatus(c, http.StatusAccepted, retcode.SESSION_LOADING, "loading", d)
		return
	}
	response.Success(c, d)
}
