package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fieldgate/module/identity"
	"fieldgate/module/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubAuth struct{ gotHint string }

func (s *stubAuth) Verify(_ context.Context, token, hint string) (*identity.Identity, error) {
	s.gotHint = hint
	switch token {
	case "good":
	case "stale":
		return nil, errors.New("session version superseded: token=3 current=5")
	default:
		return nil, errors.New("bad token")
	}
	return &identity.Identity{ID: "op1", Kind: model.KindOperator}, nil
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	req.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "q", TokenFromRequest(req, nil))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "bearer  h ")
	assert.Equal(t, "h", TokenFromRequest(req, nil))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("authorization", "raw")
	assert.Equal(t, "raw", TokenFromRequest(req, nil))

	assert.Equal(t, "", TokenFromRequest(httptest.NewRequest(http.MethodGet, "/ws", nil), nil))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := &stubAuth{}
	r := gin.New()
	r.GET("/me", Middleware(auth, nil), func(c *gin.Context) {
		who, ok := IdentityFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, who.ID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":1001`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token=bad", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the refusal carries no verification detail
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token=stale", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"code":1001,"message":"unauthorized"}`, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me?client=tablet", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op1", w.Body.String())
	assert.Equal(t, "tablet", auth.gotHint)
}
