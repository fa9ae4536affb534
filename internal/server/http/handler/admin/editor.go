package admin

import (
	"context"
	"errors"
	"time"

	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
)

type EditorHandler struct{ d Dependencies }

func NewEditorHandler(d Dependencies) *EditorHandler { return &EditorHandler{d: d} }

type openRequest struct {
	AdminID string `json:"admin_id" binding:"required"`
}

type toggleRequest struct {
	MenuID  string `json:"menu_id" binding:"required"`
	Checked bool   `json:"checked"`
	Cascade bool   `json:"cascade"`
}

// Open POST /admin/menu-permissions/sessions 立即返回加载中的快照
func (h *EditorHandler) Open(c *gin.Context) {
	var req openRequest
	if !bind(c, &req) {
		return
	}
	sess, err := h.d.Editor.Open(c.Request.Context(), req.AdminID)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, sess.Snapshot())
}

// Show GET /admin/menu-permissions/sessions/:id?wait=2s 可选长轮询到加载完成
func (h *EditorHandler) Show(c *gin.Context) {
	id := c.Param("id")
	wait, _ := time.ParseDuration(c.Query("wait"))
	if wait <= 0 {
		sess, err := h.d.Editor.Session(id)
		if err != nil {
			fail(c, h.d.Logger, err)
			return
		}
		response.Success(c, sess.Snapshot())
		return
	}
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	snap, err := h.d.Editor.WaitReady(ctx, id)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, snap)
}

// Reopen POST /admin/menu-permissions/sessions/:id/reopen admin_id 为空时沿用原目标
func (h *EditorHandler) Reopen(c *gin.Context) {
	var req struct {
		AdminID string `json:"admin_id"`
	}
	if !bindOptional(c, &req) {
		return
	}
	sess, err := h.d.Editor.Reopen(c.Request.Context(), c.Param("id"), req.AdminID)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, sess.Snapshot())
}

func (h *EditorHandler) Toggle(c *gin.Context) {
	var req toggleRequest
	if !bind(c, &req) {
		return
	}
	toggle := h.d.Editor.Toggle
	if req.Cascade {
		toggle = h.d.Editor.ToggleWithDescendants
	}
	snap, err := toggle(c.Param("id"), req.MenuID, req.Checked)
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, snap)
}

func (h *EditorHandler) Save(c *gin.Context) {
	res, err := h.d.Editor.Save(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, res)
}

func (h *EditorHandler) Close(c *gin.Context) {
	response.Success(c, gin.H{"closed": h.d.Editor.Close(c.Param("id"))})
}
