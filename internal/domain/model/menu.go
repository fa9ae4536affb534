package model

import "time"

// Menu 对应 menus 表；json 字段与 edge function 返回保持一致
type Menu struct {
	ID           string         `gorm:"primaryKey;column:id;type:uuid" json:"id"`
	Code         string         `gorm:"column:code;size:100;uniqueIndex" json:"code"`
	Name         string         `gorm:"column:name;size:100" json:"name"`
	Description  *string        `gorm:"column:description" json:"description"`
	ParentID     *string        `gorm:"column:parent_id;index" json:"parent_id"`
	Path         *string        `gorm:"column:path;size:255" json:"path"`
	Icon         *string        `gorm:"column:icon;size:100" json:"icon"`
	DisplayOrder int            `gorm:"column:display_order" json:"display_order"`
	IsActive     bool           `gorm:"column:is_active" json:"is_active"`
	Metadata     map[string]any `gorm:"column:metadata;serializer:json" json:"metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at" json:"updated_at"`
	CreatedBy    *string        `gorm:"column:created_by" json:"created_by"`
	UpdatedBy    *string        `gorm:"column:updated_by" json:"updated_by"`
}

func (Menu) TableName() string { return "menus" }

// PathValue 无路径的菜单只作为分组节点
func (m Menu) PathValue() string {
	if m.Path == nil {
		return ""
	}
	return *m.Path
}

func (m Menu) ParentValue() string {
	if m.ParentID == nil {
		return ""
	}
	return *m.ParentID
}

func (m Menu) IsRoot() bool { return m.ParentValue() == "" }

// MenuNode 层级结构，children 缺省与空数组等价
type MenuNode struct {
	Menu
	Children []MenuNode `json:"children,omitempty"`
}

type CreateMenuRequest struct {
	Code         string         `json:"code" binding:"required"`
	Name         string         `json:"name" binding:"required"`
	Description  *string        `json:"description,omitempty"`
	ParentID     *string        `json:"parent_id,omitempty"`
	Path         *string        `json:"path,omitempty"`
	Icon         *string        `json:"icon,omitempty"`
	DisplayOrder *int           `json:"display_order,omitempty"`
	IsActive     *bool          `json:"is_active,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UpdateMenuRequest nil 字段不修改
type UpdateMenuRequest struct {
	Code         *string        `json:"code,omitempty"`
	Name         *string        `json:"name,omitempty"`
	Description  *string        `json:"description,omitempty"`
	ParentID     *string        `json:"parent_id,omitempty"`
	Path         *string        `json:"path,omitempty"`
	Icon         *string        `json:"icon,omitempty"`
	DisplayOrder *int           `json:"display_order,omitempty"`
	IsActive     *bool          `json:"is_active,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
