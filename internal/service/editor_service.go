package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gacha-admin/internal/domain/menutree"
	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/metrics"
	"gacha-admin/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSessionNotFound  = errors.New("editor session not found")
	ErrEditorNotReady   = errors.New("editor session is still loading")
	ErrEditorLoadFailed = errors.New("editor session failed to load")
	ErrUnknownMenu      = errors.New("unknown menu id")
	ErrSaveInFlight     = errors.New("a save for this admin is already in flight")
	ErrNoTarget         = errors.New("target admin id required")
)

// EventPublisher 授权变更事件出口；为 nil 时不发布
type EventPublisher interface {
	PublishPermissionEvent(ctx context.Context, ev model.PermissionEvent) error
}

// EditorService super_admin 编辑某个 admin 的菜单授权。会话只保存在本实例内存中。
type EditorService struct {
	Repo        repository.MenuRepository
	Perm        *PermissionService
	Events      EventPublisher
	Logger      *logging.Logger
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*EditorSession
	saving   map[string]string // target admin id -> 正在保存的 session id
}

func NewEditorService(repo repository.MenuRepository, perm *PermissionService, events EventPublisher, l *logging.Logger, ttl, loadTimeout time.Duration) *EditorService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if loadTimeout <= 0 {
		loadTimeout = 10 * time.Second
	}
	if l == nil {
		l = logging.Nop()
	}
	return &EditorService{
		Repo:        repo,
		Perm:        perm,
		Events:      events,
		Logger:      l,
		ttl:         ttl,
		loadTimeout: loadTimeout,
		now:         time.Now,
		sessions:    make(map[string]*EditorSession),
		saving:      make(map[string]string),
	}
}

// EditorSession 一次编辑对话框的状态：完整菜单树 + 选中集合
type EditorSession struct {
	ID string

	mu         sync.Mutex
	target     string
	generation uint64
	tree       *menutree.Tree
	treeDone   bool
	grantsDone bool
	treeErr    error
	grantsErr  error
	selection  map[string]struct{}
	saving     bool
	saveErr    error
	lastUsed   time.Time
	ready      chan struct{}
	release    func() // 关闭当前 ready，只生效一次
}

// EditorSnapshot 对外输出
type EditorSnapshot struct {
	SessionID       string           `json:"session_id"`
	TargetAdminID   string           `json:"target_admin_id"`
	Generation      uint64           `json:"generation"`
	Loading         bool             `json:"loading"`
	MenusLoading    bool             `json:"menus_loading"`
	GrantsLoading   bool             `json:"grants_loading"`
	Menus           []model.MenuNode `json:"menus"`
	SelectedMenuIDs []string         `json:"selected_menu_ids"`
	Error           string           `json:"error,omitempty"`
	Saving          bool             `json:"saving"`
	SaveError       string           `json:"save_error,omitempty"`
}

// Open 创建会话并并发发起两次读取，立即返回
func (s *EditorService) Open(ctx context.Context, targetAdminID string) (*EditorSession, error) {
	if targetAdminID == "" {
		return nil, ErrNoTarget
	}
	sess := &EditorSession{ID: uuid.NewString()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.EditorSessions.Set(float64(n))
	s.start(ctx, sess, targetAdminID)
	logging.FromContext(ctx, s.Logger).Info("editor_session_opened", zap.String("session_id", sess.ID), zap.String("target", targetAdminID))
	return sess, nil
}

// Reopen 重新读取；target 为空时沿用原目标。旧读取的结果会被丢弃。
func (s *EditorService) Reopen(ctx context.Context, sessionID, targetAdminID string) (*EditorSession, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if targetAdminID == "" {
		sess.mu.Lock()
		targetAdminID = sess.target
		sess.mu.Unlock()
	}
	s.start(ctx, sess, targetAdminID)
	return sess, nil
}

func (s *EditorService) start(ctx context.Context, sess *EditorSession, target string) {
	sess.mu.Lock()
	sess.generation++
	gen := sess.generation
	sess.target = target
	sess.tree = nil
	sess.treeDone, sess.grantsDone = false, false
	sess.treeErr, sess.grantsErr = nil, nil
	sess.selection = nil
	sess.saveErr = nil
	sess.lastUsed = s.now()
	if sess.release != nil {
		sess.release()
	}
	ready := make(chan struct{})
	release := sync.OnceFunc(func() { close(ready) })
	sess.ready, sess.release = ready, release
	sess.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
	// 两次读取互不依赖，一方失败不取消另一方
	var g errgroup.Group
	g.Go(func() error {
		nested, err := s.Repo.ListAllMenus(loadCtx)
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.generation != gen {
			return nil
		}
		sess.treeDone = true
		if err != nil {
			sess.treeErr = err
			sess.tree = menutree.FromNested(nil)
			return err
		}
		sess.tree = menutree.FromNested(nested)
		return nil
	})
	g.Go(func() error {
		nested, err := s.Repo.ListAdminMenus(loadCtx, target)
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.generation != gen {
			return nil
		}
		sess.grantsDone = true
		if err != nil {
			sess.grantsErr = err
			sess.selection = map[string]struct{}{}
			return err
		}
		sess.selection = menutree.FromNested(nested).ExtractIDs()
		return nil
	})
	go func() {
		defer cancel()
		if err := g.Wait(); err != nil {
			s.Logger.WithContext(ctx).Warn("editor_load_failed", zap.String("session_id", sess.ID), zap.String("target", target), zap.Error(err))
		}
		sess.mu.Lock()
		if sess.generation == gen {
			release()
		}
		sess.mu.Unlock()
	}()
}

func (s *EditorService) Session(id string) (*EditorSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.mu.Lock()
	sess.lastUsed = s.now()
	sess.mu.Unlock()
	return sess, nil
}

// WaitReady 等待当前代的两次读取完成；期间被 reopen 则继续等新的一代。
// ctx 结束时返回当时的快照和 ctx.Err()。
func (s *EditorService) WaitReady(ctx context.Context, id string) (EditorSnapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return EditorSnapshot{}, err
	}
	for {
		sess.mu.Lock()
		ready := sess.ready
		sess.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return sess.Snapshot(), ctx.Err()
		}
		sess.mu.Lock()
		current := sess.ready == ready
		sess.mu.Unlock()
		if current {
			return sess.Snapshot(), nil
		}
	}
}

func (s *EditorService) Toggle(id, menuID string, checked bool) (EditorSnapshot, error) {
	return s.toggle(id, menuID, checked, false)
}

// ToggleWithDescendants 对 menuID 及其整棵子树设置相同的选中状态
func (s *EditorService) ToggleWithDescendants(id, menuID string, checked bool) (EditorSnapshot, error) {
	return s.toggle(id, menuID, checked, true)
}

func (s *EditorService) toggle(id, menuID string, checked, cascade bool) (EditorSnapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return EditorSnapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.usableLocked(); err != nil {
		return EditorSnapshot{}, err
	}
	if !sess.tree.Contains(menuID) {
		return EditorSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownMenu, menuID)
	}
	ids := []string{menuID}
	if cascade {
		ids = sess.tree.Descendants(menuID)
	}
	for _, mid := range ids {
		if checked {
			sess.selection[mid] = struct{}{}
		} else {
			delete(sess.selection, mid)
		}
	}
	return sess.snapshotLocked(), nil
}

func (sess *EditorSession) usableLocked() error {
	if !sess.treeDone || !sess.grantsDone {
		return ErrEditorNotReady
	}
	if sess.treeErr != nil || sess.grantsErr != nil {
		return ErrEditorLoadFailed
	}
	return nil
}

// Save 以完整列表替换目标的授权。同一目标同时只允许一个保存。
// 成功后失效目标缓存、发布事件并关闭会话；失败时保留选中集合以便重试。
func (s *EditorService) Save(ctx context.Context, id string) (_ *model.UpdateAdminMenuPermissionsResult, err error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	if err := sess.usableLocked(); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	target, gen := sess.target, sess.generation
	ids := make([]string, 0, len(sess.selection))
	for mid := range sess.selection {
		ids = append(ids, mid)
	}
	sess.mu.Unlock()
	sort.Strings(ids)

	s.mu.Lock()
	if _, busy := s.saving[target]; busy {
		s.mu.Unlock()
		metrics.EditorSaves.WithLabelValues("rejected").Inc()
		return nil, ErrSaveInFlight
	}
	s.saving[target] = id
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.saving, target)
		s.mu.Unlock()
	}()

	sess.mu.Lock()
	sess.saving = true
	sess.mu.Unlock()

	ctx, span := otel.Tracer("service.editor").Start(ctx, "EditorService.Save")
	span.SetAttributes(attribute.String("admin.id", target), attribute.Int("menu.count", len(ids)))
	defer span.End()

	res, err := s.Repo.ReplaceAdminMenus(ctx, target, ids)

	sess.mu.Lock()
	sess.saving = false
	if err != nil {
		sess.saveErr = err
	} else {
		sess.saveErr = nil
	}
	sess.mu.Unlock()

	lg := logging.FromContext(ctx, s.Logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.EditorSaves.WithLabelValues("error").Inc()
		lg.Warn("editor_save_failed", zap.String("session_id", id), zap.String("target", target), zap.Error(err))
		return nil, fmt.Errorf("save grants of %s: %w", target, err)
	}
	metrics.EditorSaves.WithLabelValues("ok").Inc()

	if s.Perm != nil {
		if ierr := s.Perm.Invalidate(ctx, target); ierr != nil {
			lg.Warn("permission_invalidate_failed", zap.String("target", target), zap.Error(ierr))
		}
	}
	if s.Events != nil {
		ev := model.PermissionEvent{Type: model.EventGrantsReplaced, AdminID: target, MenuIDs: ids, TraceID: logging.TraceID(ctx), At: s.now().UTC()}
		if cred, ok := repository.CredentialsFrom(ctx); ok {
			ev.ActorID = cred.ActorID
		}
		if perr := s.Events.PublishPermissionEvent(ctx, ev); perr != nil {
			lg.Warn("permission_event_publish_failed", zap.String("target", target), zap.Error(perr))
		}
	}
	// 保存期间被 reopen 的会话保留
	sess.mu.Lock()
	sameGen := sess.generation == gen
	sess.mu.Unlock()
	if sameGen {
		s.Close(id)
	}
	lg.Info("editor_saved", zap.String("session_id", id), zap.String("target", target), zap.Int("menu_count", len(ids)))
	if res == nil {
		res = &model.UpdateAdminMenuPermissionsResult{Success: true}
	}
	return res, nil
}

// Close 丢弃会话；未完成的读取结果随之作废
func (s *EditorService) Close(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	if ok {
		sess.mu.Lock()
		sess.generation++
		if sess.release != nil {
			sess.release()
		}
		sess.mu.Unlock()
		metrics.EditorSessions.Set(float64(n))
	}
	return ok
}

// Sweep 清理空闲超过 ttl 的会话，返回清理数量
func (s *EditorService) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastUsed.Before(cutoff) && !sess.saving
		sess.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()
	for _, id := range expired {
		s.Close(id)
	}
	return len(expired)
}

// Run 周期性清理，直到 ctx 结束
func (s *EditorService) Run(ctx context.Context) {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.Logger.Info("editor_sessions_swept", zap.Int("count", n))
			}
		}
	}
}

func (sess *EditorSession) Snapshot() EditorSnapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked()
}

func (sess *EditorSession) snapshotLocked() EditorSnapshot {
	snap := EditorSnapshot{
		SessionID:       sess.ID,
		TargetAdminID:   sess.target,
		Generation:      sess.generation,
		MenusLoading:    !sess.treeDone,
		GrantsLoading:   !sess.grantsDone,
		Menus:           []model.MenuNode{},
		SelectedMenuIDs: []string{},
		Saving:          sess.saving,
	}
	snap.Loading = snap.MenusLoading || snap.GrantsLoading
	if sess.treeDone {
		snap.Menus = sess.tree.Nested()
	}
	// 授权读取完成前不暴露选中集合
	if sess.grantsDone {
		for id := range sess.selection {
			snap.SelectedMenuIDs = append(snap.SelectedMenuIDs, id)
		}
		sort.Strings(snap.SelectedMenuIDs)
	}
	if err := errors.Join(sess.treeErr, sess.grantsErr); err != nil {
		snap.Error = err.Error()
	}
	if sess.saveErr != nil {
		snap.SaveError = sess.saveErr.Error()
	}
	return snap
}

// Selected 当前选中集合的副本（已排序）
func (sess *EditorSession) Selected() []string {
	return sess.Snapshot().SelectedMenuIDs
}
