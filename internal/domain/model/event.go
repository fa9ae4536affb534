package model

import "time"

type PermissionEventType string

const (
	EventGrantsReplaced PermissionEventType = "grants_replaced"
	EventSignedOut      PermissionEventType = "signed_out"
)

// PermissionEvent 授权变更/登出广播，用于审计与跨实例缓存失效
type PermissionEvent struct {
	Type    PermissionEventType `json:"type"`
	AdminID string              `json:"admin_id"`
	MenuIDs []string            `json:"menu_ids,omitempty"`
	ActorID string              `json:"actor_id,omitempty"`
	Origin  string              `json:"origin,omitempty"` // 发布实例 id，消费方据此跳过自己发出的事件
	TraceID string              `json:"trace_id,omitempty"`
	At      time.Time           `json:"at"`
}
