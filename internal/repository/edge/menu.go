package edge

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/repository"
)

// MenuRepository 对应 admin-menus-* 系列 edge function
type MenuRepository struct{ c *Client }

var _ repository.MenuRepository = (*MenuRepository)(nil)

func NewMenuRepository(c *Client) *MenuRepository { return &MenuRepository{c: c} }

type menusPayload struct {
	Menus []model.MenuNode `json:"menus"`
}

type menuPayload struct {
	Menu model.Menu `json:"menu"`
}

func (r *MenuRepository) authed(ctx context.Context, op, method, endpoint string, body any, out any) error {
	token, err := userToken(ctx)
	if err != nil {
		return err
	}
	return r.c.do(ctx, call{op: op, method: method, url: r.c.functionURL(endpoint), body: body, bearer: token, envelope: true}, out)
}

// ListAccessibleMenus 角色判定在 edge 侧完成，identity 只用于日志
func (r *MenuRepository) ListAccessibleMenus(ctx context.Context, _ *model.AdminUser) ([]model.MenuNode, error) {
	var p menusPayload
	if err := r.authed(ctx, "list_accessible_menus", http.MethodGet, "/admin-menus-get", nil, &p); err != nil {
		return nil, err
	}
	return p.Menus, nil
}

func (r *MenuRepository) ListAllMenus(ctx context.Context) ([]model.MenuNode, error) {
	var p menusPayload
	if err := r.authed(ctx, "list_all_menus", http.MethodGet, "/admin-menus-get-all", nil, &p); err != nil {
		return nil, err
	}
	return p.Menus, nil
}

func (r *MenuRepository) ListAdminMenus(ctx context.Context, adminID string) ([]model.MenuNode, error) {
	var p menusPayload
	body := map[string]string{"admin_id": adminID}
	if err := r.authed(ctx, "list_admin_menus", http.MethodPost, "/admin-menus-get", body, &p); err != nil {
		return nil, err
	}
	return p.Menus, nil
}

func (r *MenuRepository) ReplaceAdminMenus(ctx context.Context, adminID string, menuIDs []string) (*model.UpdateAdminMenuPermissionsResult, error) {
	if menuIDs == nil {
		menuIDs = []string{}
	}
	req := model.UpdateAdminMenuPermissionsRequest{AdminUserID: adminID, MenuIDs: menuIDs}
	var res model.UpdateAdminMenuPermissionsResult
	if err := r.authed(ctx, "replace_admin_menus", http.MethodPost, "/admin-menu-permissions-update", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *MenuRepository) CreateMenu(ctx context.Context, req model.CreateMenuRequest) (*model.Menu, error) {
	var p menuPayload
	if err := r.authed(ctx, "create_menu", http.MethodPost, "/admin-menus-create", req, &p); err != nil {
		return nil, err
	}
	return &p.Menu, nil
}

func (r *MenuRepository) UpdateMenu(ctx context.Context, id string, req model.UpdateMenuRequest) (*model.Menu, error) {
	var p menuPayload
	if err := r.authed(ctx, "update_menu", http.MethodPut, "/admin-menus-update/"+url.PathEscape(id), req, &p); err != nil {
		return nil, err
	}
	return &p.Menu, nil
}

func (r *MenuRepository) DeleteMenu(ctx context.Context, id string, hard bool) error {
	endpoint := "/admin-menus-delete/" + url.PathEscape(id) + "?hard_delete=" + strconv.FormatBool(hard)
	return r.authed(ctx, "delete_menu", http.MethodDelete, endpoint, nil, nil)
}
