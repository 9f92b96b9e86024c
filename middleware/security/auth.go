package security

import (
	"context"
	"net/http"
	"strings"

	"fieldgate/logger"
	"fieldgate/module/identity"
	"fieldgate/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// —— context key ——
const (
	CtxIdentityKey = "identity" // *identity.Identity
	CtxTokenKey    = "authorization"
)

// Authenticator is the identity verifier as seen by the HTTP layer.
type Authenticator interface {
	Verify(ctx context.Context, token, clientHint string) (*identity.Identity, error)
}

type Options struct {
	QueryToken                string // 默认 "token"
	HeaderToken               string // 默认 "authorization"
	QueryClient               string // 默认 "client"
	HeaderClient              string // 默认 "X-Client-Class"
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions() *Options {
	return &Options{
		QueryToken:                "token",
		HeaderToken:               "authorization",
		QueryClient:               "client",
		HeaderClient:              "X-Client-Class",
		EnableAuthorizationBearer: true,
	}
}

// TokenFromRequest looks at ?token=, then Authorization: Bearer, then the raw
// authorization header. Browsers cannot set headers on a WebSocket upgrade,
// hence the query parameter first.
func TokenFromRequest(r *http.Request, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	if t := strings.TrimSpace(r.URL.Query().Get(opts.QueryToken)); t != "" {
		return t
	}
	raw := strings.TrimSpace(r.Header.Get(opts.HeaderToken))
	if opts.EnableAuthorizationBearer && len(raw) > len("bearer ") && strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(raw[len("bearer "):])
	}
	return raw
}

// ClientHint is the client class the caller declares, "" when absent.
func ClientHint(r *http.Request, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	if v := strings.TrimSpace(r.URL.Query().Get(opts.QueryClient)); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get(opts.HeaderClient))
}

// Middleware verifies the caller and stores the identity on the gin context.
// Any failure is a 401 with the unauthorized code; there is no retry.
func Middleware(auth Authenticator, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}
		who, err := auth.Verify(c.Request.Context(), token, ClientHint(c.Request, opts))
		if err != nil {
			logger.Info("[auth] token rejected", zap.String("path", c.FullPath()), zap.String("remote", c.ClientIP()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}
		c.Set(CtxTokenKey, token)
		c.Set(CtxIdentityKey, who)
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (*identity.Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return nil, false
	}
	who, ok := v.(*identity.Identity)
	return who, ok
}
