package handler

import (
	adminh "gacha-admin/internal/server/http/handler/admin"
)

// HandlerSet 聚合 admin 子包的 handler，供 router 使用
type HandlerSet struct {
	Auth   *adminh.AuthHandler
	Menu   *adminh.MenuHandler
	Access *adminh.AccessHandler
	Editor *adminh.EditorHandler
	System *adminh.SystemHandler
	User   *adminh.UserHandler
}

func NewHandlerSet(ad adminh.Dependencies) *HandlerSet {
	return &HandlerSet{
		Auth:   adminh.NewAuthHandler(ad),
		Menu:   adminh.NewMenuHandler(ad),
		Access: adminh.NewAccessHandler(ad),
		Editor: adminh.NewEditorHandler(ad),
		System: adminh.NewSystemHandler(ad),
		User:   adminh.NewUserHandler(ad),
	}
}
