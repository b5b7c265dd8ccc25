package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainermatch/backend/internal/capture"
	"github.com/trainermatch/backend/internal/delivery"
	"github.com/trainermatch/backend/internal/media"
	"github.com/trainermatch/backend/internal/messages"
	"github.com/trainermatch/backend/internal/middleware"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/internal/recording"
)

type fakeSession struct {
	configureErr error
	state        capture.State
}

func (s *fakeSession) State() capture.State { return s.state }
func (s *fakeSession) Configure(context.Context) error {
	if s.configureErr != nil {
		return s.configureErr
	}
	s.state.Configured = true
	return nil
}
func (s *fakeSession) Start() error { s.state.Running = true; return nil }
func (s *fakeSession) Stop() error  { s.state.Running = false; return nil }

// fakeRecorder finalizes a take synchronously on Stop.
type fakeRecorder struct {
	mu         sync.Mutex
	dir        string
	phase      recording.Phase
	seconds    int
	onFinished func(recording.Take)
	flipErr    error
}

func (r *fakeRecorder) Begin(_ context.Context, seconds int, onFinished func(recording.Take)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != "" && r.phase != recording.PhaseIdle {
		return recording.ErrBusy
	}
	r.seconds = seconds
	r.onFinished = onFinished
	r.phase = recording.PhaseRecording
	return nil
}

func (r *fakeRecorder) Cancel() error { return recording.ErrNotCountingDown }

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	if r.phase != recording.PhaseRecording {
		r.mu.Unlock()
		return recording.ErrIdle
	}
	r.phase = recording.PhaseIdle
	cb := r.onFinished
	r.mu.Unlock()

	p := filepath.Join(r.dir, "take.mp4")
	if err := os.WriteFile(p, []byte("frames"), 0o600); err != nil {
		return err
	}
	cb(recording.Take{TempPath: p, StartedAt: time.Now().Add(-45 * time.Second), Elapsed: 45 * time.Second})
	return nil
}

func (r *fakeRecorder) Flip() error { return r.flipErr }

func (r *fakeRecorder) Status() recording.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	phase := r.phase
	if phase == "" {
		phase = recording.PhaseIdle
	}
	return recording.Status{Phase: phase}
}

type fixture struct {
	session  *fakeSession
	recorder *fakeRecorder
	store    *messages.FileStore
	router   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lib, err := media.NewLibrary(t.TempDir(), nil)
	require.NoError(t, err)
	store := messages.OpenFileStore(filepath.Join(t.TempDir(), "messages.json"), false, nil, nil)
	f := &fixture{
		session:  &fakeSession{},
		recorder: &fakeRecorder{dir: t.TempDir()},
		store:    store,
	}
	orch := delivery.NewOrchestrator(store, lib, nil, nil)
	h := NewHandler(context.Background(), f.session, f.recorder, orch, 3, nil)

	r := gin.New()
	g := r.Group("", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "trainer-1")
		c.Set(middleware.ContextUserRole, models.RoleTrainer)
		c.Next()
	})
	h.RegisterRoutes(g)
	f.router = r
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRecordCommitFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/recording/begin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, f.recorder.seconds, "default countdown")

	w = f.do(http.MethodPost, "/recording/begin", map[string]int{"countdown": 0})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/recording/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state struct {
		Data struct {
			Phase   recording.Phase   `json:"phase"`
			Pending *delivery.Pending `json:"pending"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, recording.PhaseIdle, state.Data.Phase)
	require.NotNil(t, state.Data.Pending)
	assert.InDelta(t, 45.0, state.Data.Pending.Elapsed, 0.01)

	w = f.do(http.MethodPost, "/recording/commit", map[string]string{
		"recipient_id": "client-a",
		"title":        "Weekly Check-In",
		"category":     "check-in",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	list, err := f.store.MessagesFor(context.Background(), "client-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "trainer-1", list[0].SenderID)
	assert.Equal(t, models.CategoryCheckIn, list[0].Category)
	assert.InDelta(t, 45.0, list[0].DurationSeconds, 0.01)
	assert.False(t, list[0].Viewed)

	w = f.do(http.MethodPost, "/recording/commit", map[string]string{"recipient_id": "client-a", "title": "again"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommitValidationAndDiscard(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/recording/begin", map[string]int{"countdown": 0}).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/recording/stop", nil).Code)

	w := f.do(http.MethodPost, "/recording/commit", map[string]string{"recipient_id": "client-a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodPost, "/recording/commit", map[string]string{
		"recipient_id": "client-a", "title": "x", "category": "nutrition",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/recording/discard", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/recording/discard", nil).Code)
	assert.NoFileExists(t, filepath.Join(f.recorder.dir, "take.mp4"))
}

func TestCommitMissingFileIsGone(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/recording/begin", nil).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/recording/stop", nil).Code)
	require.NoError(t, os.Remove(filepath.Join(f.recorder.dir, "take.mp4")))

	w := f.do(http.MethodPost, "/recording/commit", map[string]string{"recipient_id": "client-a", "title": "x"})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	f.recorder.flipErr = capture.ErrFlipInProgress
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/recording/flip", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/recording/cancel", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/recording/stop", nil).Code)

	f.session.configureErr = capture.ErrAccessDenied
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/capture/start", nil).Code)

	f.session.configureErr = nil
	w := f.do(http.MethodPost, "/capture/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Data capture.State `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Data.Running)
}
