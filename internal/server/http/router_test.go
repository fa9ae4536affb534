package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gacha-admin/internal/config"
	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/pkg/cache"
	"gacha-admin/internal/repository"
	"gacha-admin/internal/repository/postgres"
	"gacha-admin/internal/security"
	"gacha-admin/internal/security/jwt"
	handlerset "gacha-admin/internal/server/http/handler"
	adminh "gacha-admin/internal/server/http/handler/admin"
	"gacha-admin/internal/service"
	"gacha-admin/internal/util/retcode"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "router-test-secret-0123456789"

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// gatedMenuRepo 可访问菜单的读取阻塞到 gate 关闭
type gatedMenuRepo struct {
	repository.MenuRepository
	gate chan struct{}
}

func (g *gatedMenuRepo) ListAccessibleMenus(ctx context.Context, identity *model.AdminUser) ([]model.MenuNode, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MenuRepository.ListAccessibleMenus(ctx, identity)
}

type testEnv struct {
	r   *gin.Engine
	jwt *jwt.Manager
	db  *gorm.DB
}

func strp(s string) *string { return &s }

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	users := []model.AdminUser{
		{ID: "root", Email: "root@gacha.dev", Role: model.RoleSuperAdmin, Status: "active"},
		{ID: "admin-1", Email: "ops@gacha.dev", Role: model.RoleAdmin, Status: "active"},
		{ID: "admin-2", Email: "gone@gacha.dev", Role: model.RoleAdmin, Status: "suspended"},
	}
	require.NoError(t, db.Create(&users).Error)
	menus := []model.Menu{
		{ID: "shop", Code: "gacha_shop", Name: "Gacha Shop", DisplayOrder: 1, IsActive: true},
		{ID: "shops", Code: "shops", Name: "Shops", ParentID: strp("shop"), Path: strp("/shops"), DisplayOrder: 1, IsActive: true},
		{ID: "reviews", Code: "reviews", Name: "Reviews", ParentID: strp("shops"), Path: strp("/shops/reviews"), DisplayOrder: 1, IsActive: true},
		{ID: "settings", Code: "settings", Name: "Settings", Path: strp("/settings"), DisplayOrder: 2, IsActive: true},
		{ID: "monitor", Code: "system_monitor", Name: "Monitor", Path: strp("/system"), DisplayOrder: 3, IsActive: true},
	}
	for i := range menus {
		menus[i].Metadata = map[string]any{}
	}
	require.NoError(t, db.Create(&menus).Error)
	_, err := postgres.NewMenuRepository(db).ReplaceAdminMenus(context.Background(), "admin-1", []string{"shops", "reviews"})
	require.NoError(t, err)
}

// newTestEnv wrap 非 nil 时包装菜单仓库
func newTestEnv(t *testing.T, guardWait time.Duration, wrap func(repository.MenuRepository) repository.MenuRepository) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, postgres.AutoMigrate(db))
	t.Cleanup(func() { _ = postgres.Close(db) })
	seed(t, db)

	var menus repository.MenuRepository = postgres.NewMenuRepository(db)
	if wrap != nil {
		menus = wrap(menus)
	}
	cfg := &config.Config{}
	cfg.HTTP.AllowOrigins = []string{"*"}
	cfg.Guard.NotFoundPath = "/404"
	cfg.Guard.WaitTimeout = guardWait

	l := logging.Nop()
	ks := cache.NewKeyspace(cache.New(), nil)
	j := jwt.NewManager(testSecret, "")
	perm := service.NewPermissionService(menus, ks, l, time.Minute, 2*time.Second)
	ident := service.NewIdentityService(postgres.NewIdentityRepository(db), j, ks, perm, security.NewMemoryDenylist(), nil, l, time.Minute)
	hs := handlerset.NewHandlerSet(adminh.Dependencies{
		Identity:  ident,
		Perm:      perm,
		Menu:      service.NewMenuService(menus, perm, l),
		Editor:    service.NewEditorService(menus, perm, nil, l, time.Minute, 2*time.Second),
		Guard:     service.NewGuard(cfg.Guard.NotFoundPath),
		GuardWait: guardWait,
		Logger:    l,
	})
	return &testEnv{r: NewRouter(cfg, l, hs, ident, perm, NewHealthChecker()), jwt: j, db: db}
}

func (e *testEnv) token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := e.jwt.Generate(sub, sub+"@gacha.dev", "sess-"+sub)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	req := httptest.NewRequest(nethttp.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))
}

func TestAuthRejections(t *testing.T) {
	e := newTestEnv(t, 0, nil)

	w, env := e.do(t, nethttp.MethodGet, "/admin/auth/me", "", nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, retcode.AUTH_ERROR, env.Code)

	_, env = e.do(t, nethttp.MethodGet, "/admin/auth/me", "not-a-jwt", nil)
	assert.Equal(t, retcode.AUTH_ERROR, env.Code)

	_, env = e.do(t, nethttp.MethodGet, "/admin/auth/me", e.token(t, "admin-2"), nil)
	assert.Equal(t, retcode.FORBIDDEN, env.Code)

	_, env = e.do(t, nethttp.MethodGet, "/admin/auth/me", e.token(t, "stranger"), nil)
	assert.Equal(t, retcode.FORBIDDEN, env.Code)
}

func TestSignIn(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	_, env := e.do(t, nethttp.MethodPost, "/admin/auth/signin", "", map[string]string{"email": "ops@gacha.dev"})
	assert.Equal(t, retcode.JSON_PARSE_FAIL, env.Code)

	// 直连数据库时不支持登录
	_, env = e.do(t, nethttp.MethodPost, "/admin/auth/signin", "", map[string]string{"email": "ops@gacha.dev", "password": "pw"})
	assert.Equal(t, retcode.LOGIN_ERROR, env.Code)
}

func TestMeAndSignOut(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	tok := e.token(t, "admin-1")

	_, env := e.do(t, nethttp.MethodGet, "/admin/auth/me", tok, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	var u model.AdminUser
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, "admin-1", u.ID)
	assert.Equal(t, model.RoleAdmin, u.Role)

	_, env = e.do(t, nethttp.MethodPost, "/admin/auth/signout", tok, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)

	_, env = e.do(t, nethttp.MethodGet, "/admin/auth/me", tok, nil)
	assert.Equal(t, retcode.ACCESS_TOKEN_TIMEOUT, env.Code)
}

func TestMyMenusAndAccessCheck(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	tok := e.token(t, "admin-1")

	_, env := e.do(t, nethttp.MethodGet, "/admin/menus/me", tok, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	var mine struct {
		Menus []model.MenuNode `json:"menus"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	require.Len(t, mine.Menus, 1)
	assert.Equal(t, "shops", mine.Menus[0].ID)
	require.Len(t, mine.Menus[0].Children, 1)
	assert.Equal(t, "reviews", mine.Menus[0].Children[0].ID)

	// 上一步已写入缓存，这里立即解析完成
	_, env = e.do(t, nethttp.MethodGet, "/admin/access?path=/shops/reviews&code=settings", tok, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	var res struct {
		Loading     bool `json:"loading"`
		PathAllowed bool `json:"path_allowed"`
		CodeAllowed bool `json:"code_allowed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Loading)
	assert.True(t, res.PathAllowed)
	assert.False(t, res.CodeAllowed)
}

// decision 每次解码到新的值，避免上一次的 Redirect 残留
func decision(t *testing.T, env envelope) service.GuardDecision {
	t.Helper()
	var d service.GuardDecision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	return d
}

func TestGuardDecisions(t *testing.T) {
	e := newTestEnv(t, 2*time.Second, nil)
	tok := e.token(t, "admin-1")

	_, env := e.do(t, nethttp.MethodGet, "/admin/guard", tok, nil)
	assert.Equal(t, retcode.EMPTY_PARAMS, env.Code)

	w, env := e.do(t, nethttp.MethodGet, "/admin/guard?path=/settings", tok, nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	require.Equal(t, retcode.SUCCESS, env.Code)
	d := decision(t, env)
	assert.Equal(t, service.GuardDenied, d.State)
	require.NotNil(t, d.Redirect)
	assert.Equal(t, service.Redirect{To: "/404", Replace: true}, *d.Redirect)

	_, env = e.do(t, nethttp.MethodGet, "/admin/guard?path=/shops", tok, nil)
	d = decision(t, env)
	assert.Equal(t, service.GuardAllowed, d.State)
	assert.Nil(t, d.Redirect)

	_, env = e.do(t, nethttp.MethodGet, "/admin/guard?path=/404", tok, nil)
	d = decision(t, env)
	assert.Equal(t, service.GuardAllowed, d.State)
	assert.Nil(t, d.Redirect)

	// super_admin 不受授权表约束
	_, env = e.do(t, nethttp.MethodGet, "/admin/guard?path=/settings", e.token(t, "root"), nil)
	d = decision(t, env)
	assert.Equal(t, service.GuardAllowed, d.State)
	assert.Nil(t, d.Redirect)
}

func TestGuardLoadingReturnsAccepted(t *testing.T) {
	gate := make(chan struct{})
	e := newTestEnv(t, 0, func(r repository.MenuRepository) repository.MenuRepository {
		return &gatedMenuRepo{MenuRepository: r, gate: gate}
	})
	t.Cleanup(func() { close(gate) })

	w, env := e.do(t, nethttp.MethodGet, "/admin/guard?path=/shops", e.token(t, "admin-1"), nil)
	assert.Equal(t, nethttp.StatusAccepted, w.Code)
	assert.Equal(t, retcode.SESSION_LOADING, env.Code)
	var d service.GuardDecision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, service.GuardLoading, d.State)
	assert.Nil(t, d.Redirect)
}

func TestGuardWaitsThenDecides(t *testing.T) {
	gate := make(chan struct{})
	e := newTestEnv(t, 2*time.Second, func(r repository.MenuRepository) repository.MenuRepository {
		return &gatedMenuRepo{MenuRepository: r, gate: gate}
	})
	time.AfterFunc(30*time.Millisecond, func() { close(gate) })

	w, env := e.do(t, nethttp.MethodGet, "/admin/guard?path=/settings", e.token(t, "admin-1"), nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	require.Equal(t, retcode.SUCCESS, env.Code)
	d := decision(t, env)
	assert.Equal(t, service.GuardDenied, d.State)
	require.NotNil(t, d.Redirect)
	assert.Equal(t, "/404", d.Redirect.To)
}

func TestMenuAdminRequiresSuperAdmin(t *testing.T) {
	e := newTestEnv(t, 0, nil)

	_, env := e.do(t, nethttp.MethodGet, "/admin/menus", e.token(t, "admin-1"), nil)
	assert.Equal(t, retcode.FORBIDDEN, env.Code)

	root := e.token(t, "root")
	_, env = e.do(t, nethttp.MethodPost, "/admin/menus", root, map[string]any{"code": "banners", "name": "Banners", "path": "/banners"})
	require.Equal(t, retcode.SUCCESS, env.Code)

	_, env = e.do(t, nethttp.MethodPost, "/admin/menus", root, map[string]any{"code": "bad", "name": "Bad", "path": "no-slash"})
	assert.Equal(t, retcode.PARAM_INVALID, env.Code)

	_, env = e.do(t, nethttp.MethodDelete, "/admin/menus/ghost", root, nil)
	assert.Equal(t, retcode.RECORD_NOT_FOUND, env.Code)

	_, env = e.do(t, nethttp.MethodPut, "/admin/menus/shop", root, map[string]any{"parent_id": "reviews"})
	assert.Equal(t, retcode.PARAM_INVALID, env.Code)

	_, env = e.do(t, nethttp.MethodGet, "/admin/menus", root, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	assert.Contains(t, string(env.Data), `"code":"banners"`)
}

func TestMenuIndexFlatView(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	root := e.token(t, "root")

	_, env := e.do(t, nethttp.MethodGet, "/admin/menus?view=flat", root, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	var res struct {
		Menus []model.Menu `json:"menus"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	ids := make([]string, 0, len(res.Menus))
	for _, m := range res.Menus {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"shop", "shops", "reviews", "settings", "monitor"}, ids)
	require.NotNil(t, res.Menus[2].ParentID)
	assert.Equal(t, "shops", *res.Menus[2].ParentID)

	_, env = e.do(t, nethttp.MethodGet, "/admin/menus?view=grid", root, nil)
	assert.Equal(t, retcode.PARAM_INVALID, env.Code)
}

func TestAdminUsersListAndReview(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	root := e.token(t, "root")

	_, env := e.do(t, nethttp.MethodGet, "/admin/users", e.token(t, "admin-1"), nil)
	assert.Equal(t, retcode.FORBIDDEN, env.Code)

	_, env = e.do(t, nethttp.MethodGet, "/admin/users?status=suspended&role=all", root, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	var res struct {
		Users []model.AdminUser `json:"users"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.Users, 1)
	assert.Equal(t, "admin-2", res.Users[0].ID)

	_, env = e.do(t, nethttp.MethodGet, "/admin/users?role=guest", root, nil)
	assert.Equal(t, retcode.PARAM_INVALID, env.Code)

	_, env = e.do(t, nethttp.MethodPost, "/admin/users/admin-2/reject", root, map[string]string{"rejection_reason": "left the team"})
	require.Equal(t, retcode.SUCCESS, env.Code)
	var u model.AdminUser
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, model.ApprovalRejected, u.ApprovalStatus)
	require.NotNil(t, u.RejectionReason)
	assert.Equal(t, "left the team", *u.RejectionReason)

	_, env = e.do(t, nethttp.MethodPost, "/admin/users/admin-1/approve", root, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	u = model.AdminUser{}
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, model.ApprovalApproved, u.ApprovalStatus)

	_, env = e.do(t, nethttp.MethodPost, "/admin/users/ghost/approve", root, nil)
	assert.Equal(t, retcode.RECORD_NOT_FOUND, env.Code)
}

func TestEditorFlowGrantsSystemAccess(t *testing.T) {
	e := newTestEnv(t, 2*time.Second, nil)
	root := e.token(t, "root")
	ops := e.token(t, "admin-1")

	_, env := e.do(t, nethttp.MethodGet, "/admin/system/instances", ops, nil)
	require.Equal(t, retcode.FORBIDDEN, env.Code)

	_, env = e.do(t, nethttp.MethodPost, "/admin/menu-permissions/sessions", ops, map[string]string{"admin_id": "admin-1"})
	require.Equal(t, retcode.FORBIDDEN, env.Code)

	_, env = e.do(t, nethttp.MethodPost, "/admin/menu-permissions/sessions", root, map[string]string{"admin_id": "admin-1"})
	require.Equal(t, retcode.SUCCESS, env.Code)
	var snap service.EditorSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.NotEmpty(t, snap.SessionID)
	base := "/admin/menu-permissions/sessions/" + snap.SessionID

	_, env = e.do(t, nethttp.MethodGet, base+"?wait=2s", root, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.False(t, snap.Loading)
	assert.Equal(t, []string{"reviews", "shops"}, snap.SelectedMenuIDs)

	_, env = e.do(t, nethttp.MethodPost, base+"/toggle", root, map[string]any{"menu_id": "shops", "checked": false, "cascade": true})
	require.Equal(t, retcode.SUCCESS, env.Code)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Empty(t, snap.SelectedMenuIDs)

	_, env = e.do(t, nethttp.MethodPost, base+"/toggle", root, map[string]any{"menu_id": "ghost", "checked": true})
	assert.Equal(t, retcode.PARAM_INVALID, env.Code)

	_, env = e.do(t, nethttp.MethodPost, base+"/toggle", root, map[string]any{"menu_id": "monitor", "checked": true})
	require.Equal(t, retcode.SUCCESS, env.Code)

	_, env = e.do(t, nethttp.MethodPost, base+"/save", root, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	var res model.UpdateAdminMenuPermissionsResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Success)
	require.Len(t, res.Permissions, 1)
	assert.Equal(t, "monitor", res.Permissions[0].MenuID)

	// 保存成功后会话关闭
	_, env = e.do(t, nethttp.MethodGet, base, root, nil)
	assert.Equal(t, retcode.RECORD_NOT_FOUND, env.Code)

	// 目标缓存已失效，新授权立即生效
	_, env = e.do(t, nethttp.MethodGet, "/admin/system/instances", ops, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	assert.JSONEq(t, `{"instances":[]}`, string(env.Data))

	_, env = e.do(t, nethttp.MethodGet, "/admin/guard?path=/shops", ops, nil)
	assert.Equal(t, service.GuardDenied, decision(t, env).State)
}

// doStream 请求体不带 Content-Length，等同 chunked 上传
func (e *testEnv) doStream(t *testing.T, method, path, token, body string) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, io.NopCloser(strings.NewReader(body)))
	require.Equal(t, int64(-1), req.ContentLength)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestEditorReopenReadsStreamedBody(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	root := e.token(t, "root")

	_, env := e.do(t, nethttp.MethodPost, "/admin/menu-permissions/sessions", root, map[string]string{"admin_id": "admin-1"})
	require.Equal(t, retcode.SUCCESS, env.Code)
	var snap service.EditorSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	base := "/admin/menu-permissions/sessions/" + snap.SessionID

	env = e.doStream(t, nethttp.MethodPost, base+"/reopen", root, `{"admin_id":"admin-2"}`)
	require.Equal(t, retcode.SUCCESS, env.Code)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "admin-2", snap.TargetAdminID)

	// 空请求体沿用原目标
	_, env = e.do(t, nethttp.MethodPost, base+"/reopen", root, nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "admin-2", snap.TargetAdminID)

	env = e.doStream(t, nethttp.MethodPost, base+"/reopen", root, `{"admin_id":`)
	assert.Equal(t, retcode.JSON_PARSE_FAIL, env.Code)
}

func TestSystemCacheMetricsForSuperAdmin(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	_, env := e.do(t, nethttp.MethodGet, "/admin/system/cache?type=perm", e.token(t, "root"), nil)
	require.Equal(t, retcode.SUCCESS, env.Code)
	assert.Contains(t, string(env.Data), `"perm"`)
}

func TestNoRoute(t *testing.T) {
	e := newTestEnv(t, 0, nil)
	_, env := e.do(t, nethttp.MethodGet, "/nope", "", nil)
	assert.Equal(t, retcode.NOT_EXISTS, env.Code)
}
