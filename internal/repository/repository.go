// Package repository 菜单仓库与身份仓库的抽象；edge 与 postgres 两种实现。
package repository

import (
	"context"
	"errors"

	"gacha-admin/internal/domain/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrUnknownMenuIDs 授权替换中包含不存在的菜单 id
	ErrUnknownMenuIDs = errors.New("unknown menu ids")
	// ErrMenuHasChildren 物理删除仍有子菜单的节点
	ErrMenuHasChildren = errors.New("menu has children")
	// ErrInvalidParent 父菜单不存在，或是节点自身 / 其后代
	ErrInvalidParent = errors.New("invalid parent menu")
)

// MenuRepository 菜单仓库。返回的嵌套结构由调用方转换为 menutree.Tree。
type MenuRepository interface {
	// ListAccessibleMenus 当前身份可访问的菜单；super_admin 返回全部启用菜单
	ListAccessibleMenus(ctx context.Context, identity *model.AdminUser) ([]model.MenuNode, error)
	// ListAllMenus 全部菜单（含停用）
	ListAllMenus(ctx context.Context) ([]model.MenuNode, error)
	// ListAdminMenus 某个 admin 的已授权子集
	ListAdminMenus(ctx context.Context, adminID string) ([]model.MenuNode, error)
	// ReplaceAdminMenus 整体替换某个 admin 的授权
	ReplaceAdminMenus(ctx context.Context, adminID string, menuIDs []string) (*model.UpdateAdminMenuPermissionsResult, error)
	CreateMenu(ctx context.Context, req model.CreateMenuRequest) (*model.Menu, error)
	UpdateMenu(ctx context.Context, id string, req model.UpdateMenuRequest) (*model.Menu, error)
	DeleteMenu(ctx context.Context, id string, hard bool) error
}

type IdentityRepository interface {
	GetAdminUser(ctx context.Context, id string) (*model.AdminUser, error)
	SignIn(ctx context.Context, email, password string) (*model.SignInResult, error)
	// ListAdminUsers filter 已经过 Normalize
	ListAdminUsers(ctx context.Context, filter model.AdminUserFilter) ([]model.AdminUser, error)
	ApproveAdminUser(ctx context.Context, id string) (*model.AdminUser, error)
	RejectAdminUser(ctx context.Context, id string, reason *string) (*model.AdminUser, error)
}

// Credentials 调用方身份；edge 实现用 AccessToken 转发，postgres 实现用 ActorID 记录操作人
type Credentials struct {
	AccessToken string
	ActorID     string
}

type credentialsKey struct{}

func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, c)
}

func CredentialsFrom(ctx context.Context) (Credentials, bool) {
	c, ok := ctx.Value(credentialsKey{}).(Credentials)
	return c, ok
}
