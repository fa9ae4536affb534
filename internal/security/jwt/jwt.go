// Package jwt 校验 Supabase Auth 签发的 access token（HS256，项目 JWT secret）。
package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type Manager struct {
	secret []byte
	issuer string
	expire time.Duration
}

// Claims Supabase access token 中使用到的字段；sub 即 admin_users.id
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	jwtlib.RegisteredClaims
}

func NewManager(secret, issuer string) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer, expire: time.Hour}
}

// Generate 测试与本地工具使用，生产 token 由 Supabase 签发
func (m *Manager) Generate(subject, email, sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:     email,
		Role:      "authenticated",
		SessionID: sessionID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.expire)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(m.issuer))
	}
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, errors.Join(jwtlib.ErrTokenInvalidClaims, errors.New("missing sub"))
	}
	return claims, nil
}

// Remaining token 剩余有效期，用于登出黑名单的 TTL
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RevocationKey 优先使用 session_id，缺失时退回 jti / sub+iat
func (c *Claims) RevocationKey() string {
	if c.SessionID != "" {
		return c.SessionID
	}
	if c.ID != "" {
		return c.ID
	}
	if c.IssuedAt != nil {
		return c.Subject + ":" + c.IssuedAt.Time.UTC().Format(time.RFC3339)
	}
	return c.Subject
}
