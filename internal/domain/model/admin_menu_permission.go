package model

import "time"

// AdminMenuPermission 一条授权记录：admin -> menu
type AdminMenuPermission struct {
	ID        string    `gorm:"primaryKey;column:id;type:uuid" json:"id"`
	AdminID   string    `gorm:"column:admin_id;index;uniqueIndex:uk_admin_menu" json:"admin_id"`
	MenuID    string    `gorm:"column:menu_id;index;uniqueIndex:uk_admin_menu" json:"menu_id"`
	GrantedBy *string   `gorm:"column:granted_by" json:"granted_by"`
	GrantedAt time.Time `gorm:"column:granted_at" json:"granted_at"`
}

func (AdminMenuPermission) TableName() string { return "admin_menu_permissions" }

// UpdateAdminMenuPermissionsRequest 整体替换，不存在增量授权
type UpdateAdminMenuPermissionsRequest struct {
	AdminUserID string   `json:"admin_user_id"`
	MenuIDs     []string `json:"menu_ids"`
}

type UpdateAdminMenuPermissionsResult struct {
	Success     bool                  `json:"success"`
	Permissions []AdminMenuPermission `json:"permissions"`
}
