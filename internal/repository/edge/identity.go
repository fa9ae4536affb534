package edge

import (
	"context"
	"net/http"
	"net/url"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/repository"
)

// IdentityRepository 登录走 admin-auth-signin（anon key），admin_users 走 PostgREST
type IdentityRepository struct{ c *Client }

var _ repository.IdentityRepository = (*IdentityRepository)(nil)

func NewIdentityRepository(c *Client) *IdentityRepository { return &IdentityRepository{c: c} }

func (r *IdentityRepository) GetAdminUser(ctx context.Context, id string) (*model.AdminUser, error) {
	token, err := userToken(ctx)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", "*")
	var rows []model.AdminUser
	err = r.c.do(ctx, call{
		op:     "get_admin_user",
		method: http.MethodGet,
		url:    r.c.restURL("/admin_users?" + q.Encode()),
		bearer: token,
		apiKey: true,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return &rows[0], nil
}

func (r *IdentityRepository) SignIn(ctx context.Context, email, password string) (*model.SignInResult, error) {
	var res model.SignInResult
	err := r.c.do(ctx, call{
		op:       "sign_in",
		method:   http.MethodPost,
		url:      r.c.functionURL("/admin-auth-signin"),
		body:     map[string]string{"email": email, "password": password},
		bearer:   r.c.cfg.AnonKey,
		envelope: true,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// authed 以调用方 token 调用 edge function
func (r *IdentityRepository) authed(ctx context.Context, op, endpoint string, body, out any) error {
	token, err := userToken(ctx)
	if err != nil {
		return err
	}
	return r.c.do(ctx, call{op: op, method: http.MethodPost, url: r.c.functionURL(endpoint), body: body, bearer: token, envelope: true}, out)
}

func (r *IdentityRepository) ListAdminUsers(ctx context.Context, filter model.AdminUserFilter) ([]model.AdminUser, error) {
	users := []model.AdminUser{}
	if err := r.authed(ctx, "list_admin_users", "/admin-users-get-all", map[string]any{"filters": filter}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *IdentityRepository) ApproveAdminUser(ctx context.Context, id string) (*model.AdminUser, error) {
	var u model.AdminUser
	if err := r.authed(ctx, "approve_admin_user", "/admin-users-approve", map[string]string{"user_id": id}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *IdentityRepository) RejectAdminUser(ctx context.Context, id string, reason *string) (*model.AdminUser, error) {
	body := struct {
		UserID          string  `json:"user_id"`
		RejectionReason *string `json:"rejection_reason,omitempty"`
	}{id, reason}
	var u model.AdminUser
	if err := r.authed(ctx, "reject_admin_user", "/admin-users-reject", body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
