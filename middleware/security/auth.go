package security

import (
	"strings"

	"PPLive/global"
	"PPLive/tools/errs"
	jwtsec "PPLive/tools/security"

	"github.com/gin-gonic/gin"
)

// context keys, read them through IdentityFrom
const (
	PPCtxAuthKey     = "authorization"
	PPCtxIdentityKey = "pp.identity"
)

type Options struct {
	JWT jwtsec.Options

	HeaderToken               string // default "authorization"
	EnableAuthorizationBearer bool   // default true
	// browsers cannot set headers on a WebSocket upgrade
	QueryToken string // default "token"
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		JWT:                       jwtsec.DefaultOptions(secret),
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
		QueryToken:                "token",
	}
}

// Middleware verifies the caller's token and stores the identity in the context.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, opts)
		if token == "" {
			c.AbortWithStatusJSON(global.Fail(errs.ErrTokenInvalid.WrapMsg("missing token")))
			return
		}
		id, err := jwtsec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(global.Fail(err))
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxIdentityKey, id)
		c.Next()
	}
}

func extractToken(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if token == "" && opts.QueryToken != "" {
		token = strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return token
}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(c *gin.Context) (*jwtsec.Identity, bool) {
	v, ok := c.Get(PPCtxIdentityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*jwtsec.Identity)
	return id, ok && id != nil
}
