package security

import (
	"context"
	"errors"
	"strings"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/repository"
	"gacha-admin/internal/security/jwt"
	"gacha-admin/internal/service"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	identityKey = "identity"
	claimsKey   = "claims"
	resolverKey = "resolver"
)

// Authenticator 由 service.IdentityService 实现
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.AdminUser, *jwt.Claims, error)
}

// Auth 认证中间件：bearer token -> AdminUser。token 同时放进请求 context，
// edge 仓库以调用者身份转发请求。
func Auth(a Authenticator, base *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			response.Abort(c, retcode.AUTH_ERROR, "missing token")
			return
		}
		token := strings.TrimSpace(auth[7:])
		ctx := repository.WithCredentials(c.Request.Context(), repository.Credentials{AccessToken: token})
		u, claims, err := a.Authenticate(ctx, token)
		if err != nil {
			code, msg := authFailure(err)
			logging.FromContext(ctx, base).Info("auth_rejected", zap.Error(err))
			response.Abort(c, code, msg)
			return
		}
		ctx = repository.WithCredentials(ctx, repository.Credentials{AccessToken: token, ActorID: u.ID})
		ctx = logging.WithUserID(ctx, u.ID)
		ctx = logging.IntoContext(ctx, base.WithContext(ctx))
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", u.ID)
		c.Set(identityKey, u)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		return retcode.AUTH_ERROR, "invalid token"
	case errors.Is(err, service.ErrSessionRevoked):
		return retcode.ACCESS_TOKEN_TIMEOUT, "session signed out"
	case errors.Is(err, service.ErrAccountInactive):
		return retcode.FORBIDDEN, "account is not active"
	case errors.Is(err, service.ErrUnknownAdmin):
		return retcode.FORBIDDEN, "not an admin user"
	default:
		return retcode.UPSTREAM_ERROR, "identity lookup failed"
	}
}

// IdentityFrom Auth 之后可用
func IdentityFrom(c *gin.Context) (*model.AdminUser, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*model.AdminUser)
	return u, ok && u != nil
}

func ClaimsFrom(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*jwt.Claims)
	return cl, ok && cl != nil
}
