package admin

import (
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
)

// SystemHandler 运维接口：缓存命中指标、已注册实例
type SystemHandler struct{ d Dependencies }

func NewSystemHandler(d Dependencies) *SystemHandler { return &SystemHandler{d: d} }

// CacheMetrics GET /admin/system/cache?type=perm|layered|all
func (h *SystemHandler) CacheMetrics(c *gin.Context) {
	data := gin.H{}
	t := c.DefaultQuery("type", "all")
	if t == "perm" || t == "all" {
		data["perm"] = h.d.Perm.SnapshotMetrics()
	}
	if (t == "layered" || t == "all") && h.d.Cache != nil {
		data["layered"] = h.d.Cache.SnapshotMetrics()
	}
	response.Success(c, data)
}

// CacheReset GET /admin/system/cache/reset 只重置分层缓存计数
func (h *SystemHandler) CacheReset(c *gin.Context) {
	if h.d.Cache != nil {
		h.d.Cache.ResetMetrics()
	}
	response.Success(c, gin.H{})
}

// Instances GET /admin/system/instances 未启用 etcd 时返回空列表
func (h *SystemHandler) Instances(c *gin.Context) {
	if h.d.Registrar == nil {
		response.Success(c, gin.H{"instances": []any{}})
		return
	}
	list, err := h.d.Registrar.Discover(c.Request.Context())
	if err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, gin.H{"instances": list})
}
