package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gacha-admin/internal/domain/menutree"
	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/repository"

	"go.uber.org/zap"
)

var ErrInvalidMenu = errors.New("invalid menu")

// MenuService 菜单 CRUD（super_admin）。菜单结构变化不逐个失效其它身份的缓存，
// 其它身份在缓存 ttl 内最终可见；操作者自己的缓存立即失效。
type MenuService struct {
	Repo   repository.MenuRepository
	Perm   *PermissionService
	Logger *logging.Logger
}

func NewMenuService(repo repository.MenuRepository, perm *PermissionService, l *logging.Logger) *MenuService {
	if l == nil {
		l = logging.Nop()
	}
	return &MenuService{Repo: repo, Perm: perm, Logger: l}
}

// ListAll 全部菜单（含停用）
func (s *MenuService) ListAll(ctx context.Context) (*menutree.Tree, error) {
	nested, err := s.Repo.ListAllMenus(ctx)
	if err != nil {
		return nil, err
	}
	return menutree.FromNested(nested), nil
}

func (s *MenuService) Create(ctx context.Context, req model.CreateMenuRequest) (*model.Menu, error) {
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		return nil, errors.Join(ErrInvalidMenu, errors.New("code and name required"))
	}
	if req.Path != nil && *req.Path != "" && !strings.HasPrefix(*req.Path, "/") {
		return nil, errors.Join(ErrInvalidMenu, errors.New("path must start with /"))
	}
	if req.ParentID != nil && *req.ParentID != "" {
		if err := s.checkParent(ctx, "", *req.ParentID); err != nil {
			return nil, err
		}
	}
	m, err := s.Repo.CreateMenu(ctx, req)
	if err != nil {
		return nil, err
	}
	s.touched(ctx, "menu_created", m.ID)
	return m, nil
}

func (s *MenuService) Update(ctx context.Context, id string, req model.UpdateMenuRequest) (*model.Menu, error) {
	if id == "" {
		return nil, errors.Join(ErrInvalidMenu, errors.New("id required"))
	}
	if req.ParentID != nil && *req.ParentID == id {
		return nil, errors.Join(ErrInvalidMenu, errors.New("menu cannot be its own parent"))
	}
	if req.Path != nil && *req.Path != "" && !strings.HasPrefix(*req.Path, "/") {
		return nil, errors.Join(ErrInvalidMenu, errors.New("path must start with /"))
	}
	if req.ParentID != nil && *req.ParentID != "" {
		if err := s.checkParent(ctx, id, *req.ParentID); err != nil {
			return nil, err
		}
	}
	m, err := s.Repo.UpdateMenu(ctx, id, req)
	if err != nil {
		return nil, err
	}
	s.touched(ctx, "menu_updated", id)
	return m, nil
}

// checkParent 父菜单必须存在且不在 id 的子树内。
// edge 后端不做这项校验；postgres 在事务内还会再查一次。
func (s *MenuService) checkParent(ctx context.Context, id, parent string) error {
	tree, err := s.ListAll(ctx)
	if err != nil {
		return err
	}
	if !tree.Contains(parent) {
		return errors.Join(ErrInvalidMenu, fmt.Errorf("parent %s not found", parent))
	}
	if id == "" {
		return nil
	}
	if slices.Contains(tree.Descendants(id), parent) {
		return errors.Join(ErrInvalidMenu, fmt.Errorf("parent %s is inside the subtree of %s", parent, id))
	}
	return nil
}

func (s *MenuService) Delete(ctx context.Context, id string, hard bool) error {
	if id == "" {
		return errors.Join(ErrInvalidMenu, errors.New("id required"))
	}
	if err := s.Repo.DeleteMenu(ctx, id, hard); err != nil {
		return err
	}
	s.touched(ctx, "menu_deleted", id)
	return nil
}

func (s *MenuService) touched(ctx context.Context, event, menuID string) {
	lg := logging.FromContext(ctx, s.Logger)
	lg.Info(event, zap.String("menu_id", menuID))
	cred, ok := repository.CredentialsFrom(ctx)
	if !ok || cred.ActorID == "" || s.Perm == nil {
		return
	}
	if err := s.Perm.Invalidate(ctx, cred.ActorID); err != nil {
		lg.Warn("permission_invalidate_failed", zap.String("identity", cred.ActorID), zap.Error(err))
	}
}
