package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gacha-admin/internal/domain/menutree"
	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/pkg/cache"
)

func strp(s string) *string { return &s }

func menu(id, code, parent, path string, order int) model.Menu {
	m := model.Menu{ID: id, Code: code, Name: code, DisplayOrder: order, IsActive: true, CreatedAt: time.Unix(int64(order), 0)}
	if parent != "" {
		m.ParentID = strp(parent)
	}
	if path != "" {
		m.Path = strp(path)
	}
	return m
}

// gachaShopMenus Gacha Shop 分组下 Shop Mgmt / Tag Mgmt，另有一个 Reviews 与 Settings
func gachaShopMenus() []model.Menu {
	return []model.Menu{
		menu("gacha_shop", "gacha_shop", "", "", 1),
		menu("shop_mgmt", "shop_mgmt", "gacha_shop", "/shops", 1),
		menu("tag_mgmt", "tag_mgmt", "gacha_shop", "/shops/tags", 2),
		menu("reviews", "reviews", "", "/shops/reviews", 2),
		menu("settings", "settings", "", "/settings", 3),
	}
}

type fakeMenuRepo struct {
	mu     sync.Mutex
	menus  []model.Menu
	grants map[string]map[string]struct{}

	allErr        error
	grantsErr     error
	accessibleErr error
	replaceErr    error

	// 非 nil 时对应调用阻塞到 gate 关闭；按 adminID 区分
	grantsGate     map[string]chan struct{}
	accessibleGate chan struct{}
	replaceGate    chan struct{}

	accessibleCalls int32
	allCalls        int32
	replaced        [][]string
	created         []model.CreateMenuRequest
}

func newFakeMenuRepo() *fakeMenuRepo {
	return &fakeMenuRepo{menus: gachaShopMenus(), grants: map[string]map[string]struct{}{}, grantsGate: map[string]chan struct{}{}}
}

func (f *fakeMenuRepo) grant(adminID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	f.grants[adminID] = set
}

func (f *fakeMenuRepo) subset(adminID string) []model.MenuNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.grants[adminID]
	var rows []model.Menu
	for _, m := range f.menus {
		if _, ok := set[m.ID]; !ok {
			continue
		}
		if _, ok := set[m.ParentValue()]; !ok {
			m.ParentID = nil
		}
		rows = append(rows, m)
	}
	return menutree.FromFlat(rows).Nested()
}

func (f *fakeMenuRepo) ListAccessibleMenus(ctx context.Context, identity *model.AdminUser) ([]model.MenuNode, error) {
	atomic.AddInt32(&f.accessibleCalls, 1)
	f.mu.Lock()
	gate := f.accessibleGate
	err := f.accessibleErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if model.IsUnrestricted(identity) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return menutree.FromFlat(f.menus).Nested(), nil
	}
	return f.subset(identity.ID), nil
}

func (f *fakeMenuRepo) ListAllMenus(context.Context) ([]model.MenuNode, error) {
	atomic.AddInt32(&f.allCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allErr != nil {
		return nil, f.allErr
	}
	return menutree.FromFlat(f.menus).Nested(), nil
}

func (f *fakeMenuRepo) ListAdminMenus(ctx context.Context, adminID string) ([]model.MenuNode, error) {
	f.mu.Lock()
	gate := f.grantsGate[adminID]
	err := f.grantsErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.subset(adminID), nil
}

func (f *fakeMenuRepo) ReplaceAdminMenus(ctx context.Context, adminID string, menuIDs []string) (*model.UpdateAdminMenuPermissionsResult, error) {
	f.mu.Lock()
	gate := f.replaceGate
	err := f.replaceErr
	f.replaced = append(f.replaced, append([]string(nil), menuIDs...))
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	f.grant(adminID, menuIDs...)
	perms := make([]model.AdminMenuPermission, 0, len(menuIDs))
	for _, id := range menuIDs {
		perms = append(perms, model.AdminMenuPermission{AdminID: adminID, MenuID: id})
	}
	return &model.UpdateAdminMenuPermissionsResult{Success: true, Permissions: perms}, nil
}

func (f *fakeMenuRepo) CreateMenu(_ context.Context, req model.CreateMenuRequest) (*model.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	m := model.Menu{ID: "new-" + req.Code, Code: req.Code, Name: req.Name, Path: req.Path, IsActive: true}
	f.menus = append(f.menus, m)
	return &m, nil
}

func (f *fakeMenuRepo) UpdateMenu(_ context.Context, id string, req model.UpdateMenuRequest) (*model.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.menus {
		if f.menus[i].ID == id {
			if req.Name != nil {
				f.menus[i].Name = *req.Name
			}
			if req.ParentID != nil {
				f.menus[i].ParentID = req.ParentID
				if *req.ParentID == "" {
					f.menus[i].ParentID = nil
				}
			}
			m := f.menus[i]
			return &m, nil
		}
	}
	return nil, errNotFoundFake
}

func (f *fakeMenuRepo) DeleteMenu(_ context.Context, id string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.menus {
		if f.menus[i].ID == id {
			f.menus = append(f.menus[:i], f.menus[i+1:]...)
			return nil
		}
	}
	return errNotFoundFake
}

func (f *fakeMenuRepo) lastReplaced() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replaced) == 0 {
		return nil
	}
	return f.replaced[len(f.replaced)-1]
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errNotFoundFake = fakeErr("not found")

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.PermissionEvent
}

func (p *recordingPublisher) PublishPermissionEvent(_ context.Context, ev model.PermissionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []model.PermissionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.PermissionEvent(nil), p.events...)
}

func newKeyspace() *cache.Keyspace { return cache.NewKeyspace(cache.New(), nil) }

func admin(id string) *model.AdminUser {
	return &model.AdminUser{ID: id, Role: model.RoleAdmin, Status: "active"}
}

func superAdmin(id string) *model.AdminUser {
	return &model.AdminUser{ID: id, Role: model.RoleSuperAdmin, Status: "active"}
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
