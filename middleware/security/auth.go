package security

import (
	"context"
	"net/http"
	"strings"

	"SocialChat/tools/errs"
	toolsec "SocialChat/tools/security"
	"SocialChat/tools/specialerror"

	"github.com/gin-gonic/gin"
)

// —— context key ——
// 后续模块统一用 UserID(c) 读取
const (
	CtxUserIDKey = "userId"
	CookieToken  = "token"
)

// UserChecker token 里的用户必须仍然存在
type UserChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

type Options struct {
	JWT        toolsec.Options
	Users      UserChecker // nil => 不查库
	CookieName string      // 默认 "token"

	EnableAuthorizationBearer bool // 默认 true，方便脚本和服务间调用
}

func DefaultOptions(secret []byte, users UserChecker) *Options {
	return &Options{
		JWT:                       toolsec.DefaultOptions(secret),
		Users:                     users,
		CookieName:                CookieToken,
		EnableAuthorizationBearer: true,
	}
}

func tokenFrom(r *http.Request, opts *Options) string {
	name := opts.CookieName
	if name == "" {
		name = CookieToken
	}
	if ck, err := r.Cookie(name); err == nil {
		if v := strings.TrimSpace(ck.Value); v != "" {
			return v
		}
	}
	// 兼容 Authorization: Bearer xxx
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				return strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	return ""
}

func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFrom(c.Request, opts)
		if token == "" {
			specialerror.Abort(c, errs.ErrTokenMissing.Wrap())
			return
		}
		claims, err := toolsec.Verify(opts.JWT, token)
		if err != nil {
			specialerror.Abort(c, errs.ErrTokenInvalid.WrapMsg(err.Error()))
			return
		}
		userID := claims.UserID()

		if opts.Users != nil {
			ok, err := opts.Users.Exists(c.Request.Context(), userID)
			if err != nil {
				specialerror.Abort(c, err)
				return
			}
			if !ok {
				specialerror.Abort(c, errs.ErrUserNotFound.Wrap())
				return
			}
		}

		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID 已通过鉴权的用户；未挂 Middleware 时为空
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

// Identify WebSocket 握手用：浏览器会带上同一个 cookie；不查库。
// 没带 token 返回 errs.ErrTokenMissing，校验失败返回 errs.ErrTokenInvalid
func Identify(opts *Options) func(r *http.Request) (string, error) {
	return func(r *http.Request) (string, error) {
		token := tokenFrom(r, opts)
		if token == "" {
			return "", errs.ErrTokenMissing.Wrap()
		}
		claims, err := toolsec.Verify(opts.JWT, token)
		if err != nil {
			return "", errs.ErrTokenInvalid.WrapMsg(err.Error())
		}
		return claims.UserID(), nil
	}
}
