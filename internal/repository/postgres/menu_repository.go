package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gacha-admin/internal/domain/menutree"
	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/metrics"
	"gacha-admin/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("repository/postgres")

var ErrSignInOnlyOnEdge = errors.New("sign in requires the edge repository")

// MenuRepository 直连与 edge function 相同的表
type MenuRepository struct{ db *gorm.DB }

var _ repository.MenuRepository = (*MenuRepository)(nil)

func NewMenuRepository(db *gorm.DB) *MenuRepository { return &MenuRepository{db: db} }

func startSpan(ctx context.Context, op string) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "postgres."+op)
	return ctx, span, time.Now()
}

func endSpan(span trace.Span, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RepositoryDuration.WithLabelValues("postgres", op, result).Observe(time.Since(start).Seconds())
	span.End()
}

func actorID(ctx context.Context) *string {
	if c, ok := repository.CredentialsFrom(ctx); ok && c.ActorID != "" {
		id := c.ActorID
		return &id
	}
	return nil
}

// ListAccessibleMenus super_admin 看全部启用菜单；其它角色只看已授权且启用的菜单
func (r *MenuRepository) ListAccessibleMenus(ctx context.Context, identity *model.AdminUser) (_ []model.MenuNode, err error) {
	ctx, span, start := startSpan(ctx, "list_accessible_menus")
	defer func() { endSpan(span, "list_accessible_menus", start, err) }()
	if identity == nil {
		return []model.MenuNode{}, nil
	}
	span.SetAttributes(attribute.String("admin.id", identity.ID))
	var rows []model.Menu
	if model.IsUnrestricted(identity) {
		if err = r.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("list active menus: %w", err)
		}
		return menutree.FromFlat(rows).Nested(), nil
	}
	rows, err = r.grantedRows(ctx, identity.ID, true)
	if err != nil {
		return nil, err
	}
	return menutree.FromFlat(promoteOrphans(rows)).Nested(), nil
}

func (r *MenuRepository) ListAllMenus(ctx context.Context) (_ []model.MenuNode, err error) {
	ctx, span, start := startSpan(ctx, "list_all_menus")
	defer func() { endSpan(span, "list_all_menus", start, err) }()
	var rows []model.Menu
	if err = r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list menus: %w", err)
	}
	return menutree.FromFlat(rows).Nested(), nil
}

// ListAdminMenus 编辑器使用，包含停用的已授权菜单，避免保存时丢失
func (r *MenuRepository) ListAdminMenus(ctx context.Context, adminID string) (_ []model.MenuNode, err error) {
	ctx, span, start := startSpan(ctx, "list_admin_menus")
	defer func() { endSpan(span, "list_admin_menus", start, err) }()
	span.SetAttributes(attribute.String("admin.id", adminID))
	rows, err := r.grantedRows(ctx, adminID, false)
	if err != nil {
		return nil, err
	}
	return menutree.FromFlat(promoteOrphans(rows)).Nested(), nil
}

func (r *MenuRepository) grantedRows(ctx context.Context, adminID string, activeOnly bool) ([]model.Menu, error) {
	q := r.db.WithContext(ctx).
		Model(&model.Menu{}).
		Joins("JOIN admin_menu_permissions amp ON amp.menu_id = menus.id").
		Where("amp.admin_id = ?", adminID)
	if activeOnly {
		q = q.Where("menus.is_active = ?", true)
	}
	var rows []model.Menu
	if err := q.Select("menus.*").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list granted menus of %s: %w", adminID, err)
	}
	return rows, nil
}

// promoteOrphans 父节点未授权的条目提升为根，保证每条授权都出现在树中
func promoteOrphans(rows []model.Menu) []model.Menu {
	present := make(map[string]struct{}, len(rows))
	for _, m := range rows {
		present[m.ID] = struct{}{}
	}
	out := make([]model.Menu, len(rows))
	for i, m := range rows {
		if p := m.ParentValue(); p != "" {
			if _, ok := present[p]; !ok {
				m.ParentID = nil
			}
		}
		out[i] = m
	}
	return out
}

// ReplaceAdminMenus 删除旧授权并写入新集合，单事务
func (r *MenuRepository) ReplaceAdminMenus(ctx context.Context, adminID string, menuIDs []string) (_ *model.UpdateAdminMenuPermissionsResult, err error) {
	ctx, span, start := startSpan(ctx, "replace_admin_menus")
	defer func() { endSpan(span, "replace_admin_menus", start, err) }()
	span.SetAttributes(attribute.String("admin.id", adminID), attribute.Int("menu.count", len(menuIDs)))

	ids := dedupe(menuIDs)
	grantedBy := actorID(ctx)
	now := time.Now().UTC()
	perms := make([]model.AdminMenuPermission, 0, len(ids))
	for _, id := range ids {
		perms = append(perms, model.AdminMenuPermission{
			ID:        uuid.NewString(),
			AdminID:   adminID,
			MenuID:    id,
			GrantedBy: grantedBy,
			GrantedAt: now,
		})
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(ids) > 0 {
			var n int64
			if err := tx.Model(&model.Menu{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
				return err
			}
			if int(n) != len(ids) {
				return fmt.Errorf("%w: %d of %d found", repository.ErrUnknownMenuIDs, n, len(ids))
			}
		}
		if err := tx.Where("admin_id = ?", adminID).Delete(&model.AdminMenuPermission{}).Error; err != nil {
			return err
		}
		if len(perms) == 0 {
			return nil
		}
		return tx.Create(&perms).Error
	})
	if err != nil {
		return nil, fmt.Errorf("replace grants of %s: %w", adminID, err)
	}
	return &model.UpdateAdminMenuPermissionsResult{Success: true, Permissions: perms}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (r *MenuRepository) CreateMenu(ctx context.Context, req model.CreateMenuRequest) (_ *model.Menu, err error) {
	ctx, span, start := startSpan(ctx, "create_menu")
	defer func() { endSpan(span, "create_menu", start, err) }()
	m := model.Menu{
		ID:          uuid.NewString(),
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
		Path:        req.Path,
		Icon:        req.Icon,
		IsActive:    true,
		Metadata:    req.Metadata,
		CreatedBy:   actorID(ctx),
	}
	if req.DisplayOrder != nil {
		m.DisplayOrder = *req.DisplayOrder
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.UpdatedBy = m.CreatedBy
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p := m.ParentValue(); p != "" {
			if err := checkParent(tx, m.ID, p); err != nil {
				return err
			}
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create menu %s: %w", req.Code, err)
	}
	return &m, nil
}

func (r *MenuRepository) UpdateMenu(ctx context.Context, id string, req model.UpdateMenuRequest) (_ *model.Menu, err error) {
	ctx, span, start := startSpan(ctx, "update_menu")
	defer func() { endSpan(span, "update_menu", start, err) }()
	var m model.Menu
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		if req.ParentID != nil && *req.ParentID != "" {
			if err := checkParent(tx, id, *req.ParentID); err != nil {
				return err
			}
		}
		applyUpdate(&m, req)
		if by := actorID(ctx); by != nil {
			m.UpdatedBy = by
		}
		return tx.Save(&m).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update menu %s: %w", id, err)
	}
	return &m, nil
}

// checkParent 沿 parent_id 向上走到根；经过 id 即成环，链上任何一行缺失都拒绝
// （FromFlat 会把缺父节点的整棵子树当作不存在）。
func checkParent(tx *gorm.DB, id, parent string) error {
	seen := make(map[string]struct{})
	for cur := parent; cur != ""; {
		if cur == id {
			return fmt.Errorf("%w: %s is %s or one of its descendants", repository.ErrInvalidParent, parent, id)
		}
		if _, ok := seen[cur]; ok {
			return fmt.Errorf("%w: parent chain of %s loops at %s", repository.ErrInvalidParent, parent, cur)
		}
		seen[cur] = struct{}{}
		var row model.Menu
		err := tx.Select("id", "parent_id").Take(&row, "id = ?", cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: ancestor %s of %s does not exist", repository.ErrInvalidParent, cur, parent)
		}
		if err != nil {
			return err
		}
		cur = row.ParentValue()
	}
	return nil
}

func applyUpdate(m *model.Menu, req model.UpdateMenuRequest) {
	if req.Code != nil {
		m.Code = *req.Code
	}
	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.Description != nil {
		m.Description = req.Description
	}
	if req.ParentID != nil {
		// 空字符串表示移到根
		if *req.ParentID == "" {
			m.ParentID = nil
		} else {
			m.ParentID = req.ParentID
		}
	}
	if req.Path != nil {
		m.Path = req.Path
	}
	if req.Icon != nil {
		m.Icon = req.Icon
	}
	if req.DisplayOrder != nil {
		m.DisplayOrder = *req.DisplayOrder
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}
	if req.Metadata != nil {
		m.Metadata = req.Metadata
	}
}

// DeleteMenu 软删除置 is_active=false；硬删除同时清理授权，存在子菜单时拒绝
func (r *MenuRepository) DeleteMenu(ctx context.Context, id string, hard bool) (err error) {
	ctx, span, start := startSpan(ctx, "delete_menu")
	defer func() { endSpan(span, "delete_menu", start, err) }()
	span.SetAttributes(attribute.Bool("menu.hard_delete", hard))
	db := r.db.WithContext(ctx)
	if !hard {
		res := db.Model(&model.Menu{}).Where("id = ?", id).Update("is_active", false)
		if res.Error != nil {
			return fmt.Errorf("deactivate menu %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var children int64
		if err := tx.Model(&model.Menu{}).Where("parent_id = ?", id).Count(&children).Error; err != nil {
			return err
		}
		if children > 0 {
			return repository.ErrMenuHasChildren
		}
		if err := tx.Where("menu_id = ?", id).Delete(&model.AdminMenuPermission{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Menu{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrMenuHasChildren) {
		return fmt.Errorf("delete menu %s: %w", id, err)
	}
	return err
}

// IdentityRepository admin_users 查询；登录依赖 Supabase Auth，只能走 edge
type IdentityRepository struct{ db *gorm.DB }

var _ repository.IdentityRepository = (*IdentityRepository)(nil)

func NewIdentityRepository(db *gorm.DB) *IdentityRepository { return &IdentityRepository{db: db} }

func (r *IdentityRepository) GetAdminUser(ctx context.Context, id string) (_ *model.AdminUser, err error) {
	ctx, span, start := startSpan(ctx, "get_admin_user")
	defer func() { endSpan(span, "get_admin_user", start, err) }()
	var u model.AdminUser
	if err = r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get admin user %s: %w", id, err)
	}
	return &u, nil
}

func (r *IdentityRepository) SignIn(context.Context, string, string) (*model.SignInResult, error) {
	return nil, ErrSignInOnlyOnEdge
}
