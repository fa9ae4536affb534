package edge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWithHTTPClient(Config{
		BaseURL:       srv.URL,
		FunctionsPath: "/functions/v1",
		RestPath:      "/rest/v1",
		AnonKey:       "anon-key",
	}, srv.Client())
}

func authedCtx() context.Context {
	return repository.WithCredentials(context.Background(), repository.Credentials{AccessToken: "user-token", ActorID: "u1"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListAccessibleMenusForwardsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/functions/v1/admin-menus-get", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{"menus": []any{
				map[string]any{"id": "m1", "code": "shops", "path": "/shops", "children": []any{
					map[string]any{"id": "m2", "code": "reviews", "path": "/shops/reviews", "parent_id": "m1"},
				}},
			}},
		})
	})
	menus, err := NewMenuRepository(c).ListAccessibleMenus(authedCtx(), nil)
	require.NoError(t, err)
	require.Len(t, menus, 1)
	assert.Equal(t, "m1", menus[0].ID)
	require.Len(t, menus[0].Children, 1)
	assert.Equal(t, "/shops/reviews", menus[0].Children[0].PathValue())
}

func TestListAdminMenusPostsTarget(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"admin_id":"target"}`, string(b))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"menus": []any{}}})
	})
	menus, err := NewMenuRepository(c).ListAdminMenus(authedCtx(), "target")
	require.NoError(t, err)
	assert.Empty(t, menus)
}

func TestReplaceAdminMenusSendsFullList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/admin-menu-permissions-update", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"admin_user_id":"target","menu_ids":[]}`, string(b))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"success": true, "permissions": []any{}}})
	})
	res, err := NewMenuRepository(c).ReplaceAdminMenus(authedCtx(), "target", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDeleteMenuQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/functions/v1/admin-menus-delete/m1", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("hard_delete"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"success": true}})
	})
	require.NoError(t, NewMenuRepository(c).DeleteMenu(authedCtx(), "m1", true))
}

func TestEnvelopeErrorBecomesEdgeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "Super admin only"})
	})
	_, err := NewMenuRepository(c).ListAllMenus(authedCtx())
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, http.StatusForbidden, ee.Status)
	assert.Equal(t, "Super admin only", ee.Message)
}

func TestEnvelopeErrorObjectMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": map[string]any{"message": "Invalid login credentials"}})
	})
	_, err := NewIdentityRepository(c).SignIn(context.Background(), "a@b.c", "x")
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "Invalid login credentials", ee.Message)
}

func TestSignInUsesAnonKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/admin-auth-signin", r.URL.Path)
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"user":    map[string]any{"id": "u1", "email": "a@b.c", "role": "admin"},
			"session": map[string]any{"access_token": "at", "refresh_token": "rt"},
		}})
	})
	res, err := NewIdentityRepository(c).SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, "at", res.Session.AccessToken)
}

func TestGetAdminUserViaRest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/admin_users", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		writeJSON(w, http.StatusOK, []any{map[string]any{"id": "u1", "email": "a@b.c", "role": "super_admin"}})
	})
	u, err := NewIdentityRepository(c).GetAdminUser(authedCtx(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "super_admin", string(u.Role))
}

func TestGetAdminUserNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})
	_, err := NewIdentityRepository(c).GetAdminUser(authedCtx(), "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMissingCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent")
	})
	_, err := NewMenuRepository(c).ListAllMenus(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestListAdminUsersPostsFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions/v1/admin-users-get-all", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"filters":{"approval_status":"pending","search":"ops"}}`, string(b))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{
			map[string]any{"id": "u2", "email": "ops@gacha.dev", "role": "admin", "approval_status": "pending"},
		}})
	})
	users, err := NewIdentityRepository(c).ListAdminUsers(authedCtx(), model.AdminUserFilter{ApprovalStatus: "pending", Search: "ops"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, model.RoleAdmin, users[0].Role)
}

func TestRejectAdminUserSendsReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/functions/v1/admin-users-reject":
			assert.JSONEq(t, `{"user_id":"u2","rejection_reason":"duplicate"}`, string(b))
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"id": "u2", "approval_status": "rejected"}})
		case "/functions/v1/admin-users-approve":
			assert.JSONEq(t, `{"user_id":"u3"}`, string(b))
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "super admin only"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	repo := NewIdentityRepository(c)
	reason := "duplicate"
	u, err := repo.RejectAdminUser(authedCtx(), "u2", &reason)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalRejected, u.ApprovalStatus)

	_, err = repo.ApproveAdminUser(authedCtx(), "u3")
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, http.StatusForbidden, ee.Status)
	assert.Equal(t, "super admin only", ee.Message)
}
