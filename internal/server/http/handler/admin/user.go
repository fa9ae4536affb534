package admin

import (
	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler 管理员账号列表与审批（super_admin）
type UserHandler struct{ d Dependencies }

func NewUserHandler(d Dependencies) *UserHandler { return &UserHandler{d: d} }

// Index GET /admin/users?approval_status=&status=&role=&search=
func (h *UserHandler) Index(c *gin.Context) {
	var f model.AdminUserFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		response.Error(c, retcode.PARAM_INVALID, err.Error())
		return
	}
	users, err := h.d.Identity.ListAdminUsers(c.Request.Context(), f)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, gin.H{"users": users})
}

func (h *UserHandler) Approve(c *gin.Context) {
	u, err := h.d.Identity.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, u)
}

// Reject POST /admin/users/:id/reject 请求体可省略
func (h *UserHandler) Reject(c *gin.Context) {
	var req struct {
		RejectionReason *string `json:"rejection_reason"`
	}
	if !bindOptional(c, &req) {
		return
	}
	u, err := h.d.Identity.Reject(c.Request.Context(), c.Param("id"), req.RejectionReason)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, u)
}
