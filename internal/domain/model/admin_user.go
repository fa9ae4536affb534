package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleOwner      Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// AdminUser 对应 admin_users 表
type AdminUser struct {
	ID              string     `gorm:"primaryKey;column:id;type:uuid" json:"id"`
	Email           string     `gorm:"column:email;size:255" json:"email"`
	FullName        *string    `gorm:"column:full_name" json:"full_name"`
	AvatarURL       *string    `gorm:"column:avatar_url" json:"avatar_url"`
	Role            Role       `gorm:"column:role;size:20" json:"role"`
	Status          string     `gorm:"column:status;size:20" json:"status"`
	ApprovalStatus  string     `gorm:"column:approval_status;size:20" json:"approval_status"`
	ApprovedAt      *time.Time `gorm:"column:approved_at" json:"approved_at"`
	ApprovedBy      *string    `gorm:"column:approved_by" json:"approved_by"`
	RejectionReason *string    `gorm:"column:rejection_reason" json:"rejection_reason"`
	LastLoginAt     *time.Time `gorm:"column:last_login_at" json:"last_login_at"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (AdminUser) TableName() string { return "admin_users" }

const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// filterAll 列表过滤中表示不限
const filterAll = "all"

// AdminUserFilter 管理员列表过滤条件；空串与 "all" 都表示不限
type AdminUserFilter struct {
	ApprovalStatus string `json:"approval_status,omitempty" form:"approval_status"`
	Status         string `json:"status,omitempty" form:"status"`
	Role           string `json:"role,omitempty" form:"role"`
	Search         string `json:"search,omitempty" form:"search"`
}

// Normalize "all" 统一为空串，去掉搜索词首尾空白
func (f AdminUserFilter) Normalize() AdminUserFilter {
	norm := func(v string) string {
		if v == filterAll {
			return ""
		}
		return v
	}
	return AdminUserFilter{
		ApprovalStatus: norm(f.ApprovalStatus),
		Status:         norm(f.Status),
		Role:           norm(f.Role),
		Search:         strings.TrimSpace(f.Search),
	}
}

// IsUnrestricted super_admin 不受授权表约束；全局唯一的 bypass 判定
func IsUnrestricted(u *AdminUser) bool {
	return u != nil && u.Role == RoleSuperAdmin
}

// Session edge function 登录返回的会话
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

type SignInResult struct {
	User    *AdminUser `json:"user"`
	Session *Session   `json:"session"`
}
