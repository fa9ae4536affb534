package admin

import (
	"gacha-admin/internal/logging"
	sec "gacha-admin/internal/server/http/middleware/security"
	"gacha-admin/internal/util/retcode"
	"gacha-admin/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct{ d Dependencies }

func NewAuthHandler(d Dependencies) *AuthHandler { return &AuthHandler{d: d} }

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignIn POST /admin/auth/signin
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.d.Identity.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		logging.FromContext(c.Request.Context(), h.d.Logger).Info("sign_in_failed", zap.String("email", req.Email), zap.Error(err))
		response.Error(c, retcode.LOGIN_ERROR, "invalid email or password")
		return
	}
	response.Success(c, res)
}

// SignOut POST /admin/auth/signout
func (h *AuthHandler) SignOut(c *gin.Context) {
	claims, ok := sec.ClaimsFrom(c)
	if !ok {
		response.Error(c, retcode.AUTH_ERROR, "unauthorized")
		return
	}
	if err := h.d.Identity.SignOut(c.Request.Context(), claims); err != nil {
		fail(c, h.d.Logger, err)
		return
	}
	response.Success(c, gin.H{})
}

// Me GET /admin/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	u, ok := sec.IdentityFrom(c)
	if !ok {
		response.Error(c, retcode.AUTH_ERROR, "unauthorized")
		return
	}
	response.Success(c, u)
}
