package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/auth"
	"github.com/trainermatch/backend/internal/models"
)

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://app.local"), Logger(zap.NewNop()))
	g := r.Group("", JWT(jwtService))
	g.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": UserID(c), "role": Role(c)})
	})
	g.GET("/trainer", RequireRole(models.RoleTrainer), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Origin", "http://app.local")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTSetsContext(t *testing.T) {
	svc := auth.NewJWTService("s", 1)
	r := newRouter(svc)
	tok, err := svc.Generate("client-9", "", models.RoleClient)
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/me", tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"client-9","role":"client"}`, w.Body.String())
	assert.Equal(t, "http://app.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestJWTRejectsMissingAndBadTokens(t *testing.T) {
	r := newRouter(auth.NewJWTService("s", 1))
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "garbage").Code)
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("s", 1)
	r := newRouter(svc)
	client, _ := svc.Generate("client-1", "", models.RoleClient)
	trainer, _ := svc.Generate("trainer-1", "", models.RoleTrainer)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/trainer", client).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/trainer", trainer).Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(auth.NewJWTService("s", 1))
	w := do(r, http.MethodOptions, "/me", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
