package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainermatch/backend/internal/models"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]models.User
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *memoryUsers) Create(_ context.Context, email, hash, name string, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, ErrEmailTaken
	}
	u := models.User{ID: "u-" + email, Email: email, Password: hash, FullName: name, Role: role, CreatedAt: time.Now()}
	m.users[email] = u
	return &u, nil
}

func (m *memoryUsers) ListByRole(_ context.Context, role models.Role) ([]models.UserPublic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.UserPublic{}
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u.ToPublic())
		}
	}
	return out, nil
}

func newAuthRouter(store UserStore, svc *JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, svc, nil)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/clients", h.Clients)
	return r
}

func post(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func tokenFrom(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data.Token
}

func TestRegisterAndLogin(t *testing.T) {
	store := &memoryUsers{users: map[string]models.User{}}
	svc := NewJWTService("secret", 1)
	r := newAuthRouter(store, svc)

	w := post(r, "/auth/register", map[string]string{
		"email": "Coach@Example.com", "password": "squat-rack", "full_name": "Coach", "role": "trainer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	claims, err := svc.Validate(tokenFrom(t, w))
	require.NoError(t, err)
	assert.Equal(t, models.RoleTrainer, claims.Role)
	assert.Equal(t, "coach@example.com", claims.Email)

	stored, err := store.GetByEmail(context.Background(), "coach@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "squat-rack", stored.Password, "password is hashed")
	assert.NotContains(t, w.Body.String(), stored.Password)

	w = post(r, "/auth/register", map[string]string{
		"email": "coach@example.com", "password": "squat-rack", "full_name": "Again",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = post(r, "/auth/login", map[string]string{"email": "coach@example.com", "password": "squat-rack"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, tokenFrom(t, w))

	w = post(r, "/auth/login", map[string]string{"email": "coach@example.com", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = post(r, "/auth/login", map[string]string{"email": "nobody@example.com", "password": "squat-rack"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterDefaultsToClientAndRejectsUnknownRoles(t *testing.T) {
	store := &memoryUsers{users: map[string]models.User{}}
	svc := NewJWTService("secret", 1)
	r := newAuthRouter(store, svc)

	w := post(r, "/auth/register", map[string]string{"email": "a@example.com", "password": "long-enough", "full_name": "A"})
	require.Equal(t, http.StatusCreated, w.Code)
	claims, err := svc.Validate(tokenFrom(t, w))
	require.NoError(t, err)
	assert.Equal(t, models.RoleClient, claims.Role)

	w = post(r, "/auth/register", map[string]string{"email": "b@example.com", "password": "long-enough", "full_name": "B", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, "/auth/register", map[string]string{"email": "c@example.com", "password": "short", "full_name": "C"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var body struct {
		Data []models.UserPublic `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "a@example.com", body.Data[0].Email)
}
