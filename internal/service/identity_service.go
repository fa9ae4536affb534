package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/pkg/cache"
	"gacha-admin/internal/repository"
	"gacha-admin/internal/security"
	"gacha-admin/internal/security/jwt"

	"go.uber.org/zap"
)

var (
	ErrInvalidToken    = errors.New("invalid access token")
	ErrSessionRevoked  = errors.New("session signed out")
	ErrAccountInactive = errors.New("admin account is not active")
	ErrUnknownAdmin    = errors.New("not an admin user")
	ErrInvalidFilter   = errors.New("invalid admin user filter")
)

var (
	approvalStatuses = []string{model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected}
	accountStatuses  = []string{"active", "suspended", "deleted"}
)

// IdentityService token -> AdminUser，结果缓存 ttl；登出时吊销会话并清理缓存
type IdentityService struct {
	Repo     repository.IdentityRepository
	JWT      *jwt.Manager
	Cache    *cache.Keyspace
	Perm     *PermissionService
	Denylist security.Denylist
	Events   EventPublisher
	Logger   *logging.Logger
	ttl      time.Duration
	now      func() time.Time
}

func NewIdentityService(repo repository.IdentityRepository, j *jwt.Manager, ks *cache.Keyspace, perm *PermissionService, dl security.Denylist, events EventPublisher, l *logging.Logger, ttl time.Duration) *IdentityService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if l == nil {
		l = logging.Nop()
	}
	return &IdentityService{Repo: repo, JWT: j, Cache: ks, Perm: perm, Denylist: dl, Events: events, Logger: l, ttl: ttl, now: time.Now}
}

// Authenticate 校验 token 并返回身份；ctx 需已带上 Credentials 供 edge 仓库转发
func (s *IdentityService) Authenticate(ctx context.Context, token string) (*model.AdminUser, *jwt.Claims, error) {
	claims, err := s.JWT.Parse(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if s.Denylist != nil {
		revoked, err := s.Denylist.IsRevoked(ctx, claims.RevocationKey())
		if err != nil {
			// 黑名单不可用时放行，仅记录
			logging.FromContext(ctx, s.Logger).Warn("denylist_check_failed", zap.Error(err))
		} else if revoked {
			return nil, nil, ErrSessionRevoked
		}
	}
	u, err := s.Identity(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	if u.Status != "" && u.Status != "active" {
		return nil, nil, ErrAccountInactive
	}
	return u, claims, nil
}

// Identity 读取 admin_users，带缓存
func (s *IdentityService) Identity(ctx context.Context, id string) (*model.AdminUser, error) {
	key := cache.Key{Identity: id, Kind: cache.KindIdentity}
	if s.Cache != nil {
		var u model.AdminUser
		hit, err := s.Cache.GetJSON(ctx, key, &u)
		if err == nil && hit && u.ID != "" {
			return &u, nil
		}
	}
	u, err := s.Repo.GetAdminUser(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownAdmin
	}
	if err != nil {
		return nil, fmt.Errorf("load admin user %s: %w", id, err)
	}
	if s.Cache != nil {
		if err := s.Cache.SetJSON(ctx, key, u, s.ttl); err != nil {
			logging.FromContext(ctx, s.Logger).Warn("identity_cache_store_failed", zap.String("identity", id), zap.Error(err))
		}
	}
	return u, nil
}

// SignIn 委托 edge 登录；登录成功后清掉该身份的旧缓存
func (s *IdentityService) SignIn(ctx context.Context, email, password string) (*model.SignInResult, error) {
	res, err := s.Repo.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if res.User != nil && s.Perm != nil {
		if err := s.Perm.Invalidate(ctx, res.User.ID); err != nil {
			logging.FromContext(ctx, s.Logger).Warn("permission_invalidate_failed", zap.String("identity", res.User.ID), zap.Error(err))
		}
	}
	return res, nil
}

// SignOut 清理身份缓存，吊销会话直到 token 过期，并广播
func (s *IdentityService) SignOut(ctx context.Context, claims *jwt.Claims) error {
	if claims == nil {
		return ErrInvalidToken
	}
	lg := logging.FromContext(ctx, s.Logger)
	var errs []error
	if s.Perm != nil {
		errs = append(errs, s.Perm.Invalidate(ctx, claims.Subject))
	} else if s.Cache != nil {
		errs = append(errs, s.Cache.InvalidateIdentity(ctx, claims.Subject))
	}
	if s.Denylist != nil {
		errs = append(errs, s.Denylist.Revoke(ctx, claims.RevocationKey(), claims.Remaining(s.now())))
	}
	if s.Events != nil {
		ev := model.PermissionEvent{Type: model.EventSignedOut, AdminID: claims.Subject, ActorID: claims.Subject, TraceID: logging.TraceID(ctx), At: s.now().UTC()}
		if err := s.Events.PublishPermissionEvent(ctx, ev); err != nil {
			lg.Warn("permission_event_publish_failed", zap.String("identity", claims.Subject), zap.Error(err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		lg.Error("sign_out_cleanup_failed", zap.String("identity", claims.Subject), zap.Error(err))
		return err
	}
	lg.Info("signed_out", zap.String("identity", claims.Subject))
	return nil
}

// ListAdminUsers super_admin 的管理员列表
func (s *IdentityService) ListAdminUsers(ctx context.Context, filter model.AdminUserFilter) ([]model.AdminUser, error) {
	f := filter.Normalize()
	switch {
	case f.ApprovalStatus != "" && !slices.Contains(approvalStatuses, f.ApprovalStatus):
		return nil, fmt.Errorf("%w: approval_status %q", ErrInvalidFilter, f.ApprovalStatus)
	case f.Status != "" && !slices.Contains(accountStatuses, f.Status):
		return nil, fmt.Errorf("%w: status %q", ErrInvalidFilter, f.Status)
	case f.Role != "" && !model.Role(f.Role).Valid():
		return nil, fmt.Errorf("%w: role %q", ErrInvalidFilter, f.Role)
	}
	return s.Repo.ListAdminUsers(ctx, f)
}

func (s *IdentityService) Approve(ctx context.Context, id string) (*model.AdminUser, error) {
	u, err := s.Repo.ApproveAdminUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.reviewed(ctx, "admin_user_approved", id)
	return u, nil
}

func (s *IdentityService) Reject(ctx context.Context, id string, reason *string) (*model.AdminUser, error) {
	u, err := s.Repo.RejectAdminUser(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.reviewed(ctx, "admin_user_rejected", id)
	return u, nil
}

// reviewed 审批后清掉目标的身份与菜单缓存，下次请求读到新状态
func (s *IdentityService) reviewed(ctx context.Context, event, id string) {
	lg := logging.FromContext(ctx, s.Logger)
	lg.Info(event, zap.String("admin_id", id))
	var err error
	switch {
	case s.Perm != nil:
		err = s.Perm.Invalidate(ctx, id)
	case s.Cache != nil:
		err = s.Cache.InvalidateIdentity(ctx, id)
	}
	if err != nil {
		lg.Warn("identity_invalidate_failed", zap.String("admin_id", id), zap.Error(err))
	}
}
