package admin

import (
	"strconv"

	"gacha-admin/internal/domain/model"
	sec "gacha-admin/internal/server/http/middleware/security"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
)

type MenuHandler struct{ d Dependencies }

func NewMenuHandler(d Dependencies) *MenuHandler { return &MenuHandler{d: d} }

// Mine GET /admin/menus/me 当前身份可访问的菜单树（侧边栏渲染）
func (h *MenuHandler) Mine(c *gin.Context) {
	u, ok := sec.IdentityFrom(c)
	if !ok {
		response.Error(c, retcode.AUTH_ERROR, "unauthorized")
		return
	}
	tree, err := h.d.Perm.AccessibleMenus(c.Request.Context(), u)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, gin.H{"menus": tree.Nested()})
}

// Index GET /admin/menus?view=flat 全部菜单（含停用）；flat 为前序展开的列表，默认嵌套
func (h *MenuHandler) Index(c *gin.Context) {
	tree, err := h.d.Menu.ListAll(c.Request.Context())
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	switch c.DefaultQuery("view", "tree") {
	case "flat":
		response.Success(c, gin.H{"menus": tree.Flatten()})
	case "tree":
		response.Success(c, gin.H{"menus": tree.Nested()})
	default:
		response.Error(c, retcode.PARAM_INVALID, "view must be tree or flat")
	}
}

func (h *MenuHandler) Add(c *gin.Context) {
	var req model.CreateMenuRequest
	if !bind(c, &req) {
		return
	}
	m, err := h.d.Menu.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, gin.H{"menu": m})
}

func (h *MenuHandler) Edit(c *gin.Context) {
	var req model.UpdateMenuRequest
	if !bind(c, &req) {
		return
	}
	m, err := h.d.Menu.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, gin.H{"menu": m})
}

// Delete DELETE /admin/menus/:id?hard_delete=true 默认软删除
func (h *MenuHandler) Delete(c *gin.Context) {
	hard, _ := strconv.ParseBool(c.DefaultQuery("hard_delete", "false"))
	if err := h.d.Menu.Delete(c.Request.Context(), c.Param("id"), hard); err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id"), "hard_delete": hard})
}
