package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainermatch/backend/internal/media"
	"github.com/trainermatch/backend/internal/messages"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/internal/realtime"
	"github.com/trainermatch/backend/internal/recording"
	"github.com/trainermatch/backend/pkg/queue"
)

type fakeProber struct {
	d   float64
	err error
}

func (p fakeProber) Duration(context.Context, string) (float64, error) { return p.d, p.err }

type failingStore struct {
	messages.Store
	err error
}

func (s failingStore) Insert(context.Context, *models.VideoMessage) error { return s.err }

type recordedQueue struct {
	mu   sync.Mutex
	jobs []queue.MessageArchivePayload
	err  error
}

func (q *recordedQueue) EnqueueMessageArchive(_ context.Context, p queue.MessageArchivePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, p)
	return q.err
}

type recordedNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordedNotifier) NotifyUser(userID, event string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, userID+":"+event)
}

type fixture struct {
	store *messages.FileStore
	lib   *media.Library
	tmp   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lib, err := media.NewLibrary(t.TempDir(), nil)
	require.NoError(t, err)
	return &fixture{
		store: messages.OpenFileStore(filepath.Join(t.TempDir(), "messages.json"), false, nil, nil),
		lib:   lib,
		tmp:   t.TempDir(),
	}
}

func (f *fixture) take(t *testing.T, elapsed time.Duration) recording.Take {
	t.Helper()
	p := filepath.Join(f.tmp, "take-"+uuid.NewString()+".mp4")
	require.NoError(t, os.WriteFile(p, []byte("frames"), 0o600))
	return recording.Take{TempPath: p, StartedAt: time.Now().Add(-elapsed), Elapsed: elapsed}
}

func checkIn() Draft {
	return Draft{
		SenderID:    "trainer-1",
		RecipientID: "client-a",
		Title:       "Weekly Check-In",
		Body:        "Nice work on the deadlifts.",
		Category:    "check-in",
	}
}

func TestCommitCheckInScenario(t *testing.T) {
	f := newFixture(t)
	q := &recordedQueue{}
	n := &recordedNotifier{}
	o := NewOrchestrator(f.store, f.lib, nil, nil, WithArchiveQueue(q), WithNotifier(n))

	take := f.take(t, 45*time.Second)
	o.Stage(take)
	msg, err := o.Commit(context.Background(), checkIn())
	require.NoError(t, err)

	list, err := f.store.MessagesFor(context.Background(), "client-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)
	assert.InDelta(t, 45.0, list[0].DurationSeconds, 0.01)
	assert.Equal(t, models.CategoryCheckIn, list[0].Category)
	assert.Equal(t, "Weekly Check-In", list[0].Title)
	assert.False(t, list[0].Viewed)

	_, err = os.Stat(take.TempPath)
	assert.True(t, os.IsNotExist(err), "temp file moved away")
	p, err := f.lib.Path(msg.MediaRef)
	require.NoError(t, err)
	assert.FileExists(t, p)

	_, pending := o.Pending()
	assert.False(t, pending)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, msg.ID, q.jobs[0].MessageID)
	assert.Equal(t, []string{"client-a:" + realtime.EventVideoMessage, "client-a:" + realtime.EventUnviewedCount}, n.events)

	_, err = o.Commit(context.Background(), checkIn())
	assert.ErrorIs(t, err, ErrNoPendingRecording)
}

func TestCommitPrefersProbedDuration(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.store, f.lib, fakeProber{d: 44.87}, nil)
	o.Stage(f.take(t, 45*time.Second))
	msg, err := o.Commit(context.Background(), checkIn())
	require.NoError(t, err)
	assert.InDelta(t, 44.87, msg.DurationSeconds, 0.001)

	o = NewOrchestrator(f.store, f.lib, fakeProber{err: errors.New("no ffprobe")}, nil)
	o.Stage(f.take(t, 12*time.Second))
	msg, err = o.Commit(context.Background(), checkIn())
	require.NoError(t, err)
	assert.InDelta(t, 12.0, msg.DurationSeconds, 0.01)
}

func TestCommitWithoutPendingRecording(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.store, f.lib, nil, nil)
	_, err := o.Commit(context.Background(), checkIn())
	assert.ErrorIs(t, err, ErrNoPendingRecording)
	assert.NotErrorIs(t, err, ErrTempFileMissing)
}

func TestCommitMissingTempFile(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.store, f.lib, nil, nil)
	take := f.take(t, time.Second)
	o.Stage(take)
	require.NoError(t, os.Remove(take.TempPath))

	_, err := o.Commit(context.Background(), checkIn())
	assert.ErrorIs(t, err, ErrTempFileMissing)
	assert.NotErrorIs(t, err, ErrNoPendingRecording)

	n, err := f.store.UnviewedCountFor(context.Background(), "client-a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailedInsertKeepsTakeStaged(t *testing.T) {
	f := newFixture(t)
	broken := failingStore{Store: f.store, err: errors.New("disk full")}
	o := NewOrchestrator(broken, f.lib, nil, nil)
	take := f.take(t, 3*time.Second)
	o.Stage(take)

	_, err := o.Commit(context.Background(), checkIn())
	require.Error(t, err)
	assert.FileExists(t, take.TempPath)
	pending, ok := o.Pending()
	require.True(t, ok)
	assert.Equal(t, take.TempPath, pending.TempPath)

	// the same take can still be committed once the store recovers
	o.store = f.store
	_, err = o.Commit(context.Background(), checkIn())
	require.NoError(t, err)
}

func TestCommitValidatesDraft(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.store, f.lib, nil, nil)
	take := f.take(t, time.Second)
	o.Stage(take)

	d := checkIn()
	d.Title = "  "
	_, err := o.Commit(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidDraft)

	d = checkIn()
	d.Category = "nutrition"
	_, err = o.Commit(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidDraft)

	d = checkIn()
	d.RecipientID = ""
	_, err = o.Commit(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidDraft)

	assert.FileExists(t, take.TempPath)
	_, ok := o.Pending()
	assert.True(t, ok)
}

func TestDiscardDeletesTempFileOnce(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.store, f.lib, nil, nil)
	take := f.take(t, time.Second)
	o.Stage(take)

	o.Discard()
	_, err := os.Stat(take.TempPath)
	assert.True(t, os.IsNotExist(err))
	_, ok := o.Pending()
	assert.False(t, ok)

	o.Discard()
	_, err = o.Commit(context.Background(), checkIn())
	assert.ErrorIs(t, err, ErrNoPendingRecording)
}

func TestStageReplacesAndDropsFailedTakes(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.store, f.lib, nil, nil)

	first := f.take(t, time.Second)
	o.Stage(first)
	second := f.take(t, 2*time.Second)
	o.Stage(second)
	_, err := os.Stat(first.TempPath)
	assert.True(t, os.IsNotExist(err))
	pending, ok := o.Pending()
	require.True(t, ok)
	assert.Equal(t, second.TempPath, pending.TempPath)

	o.Stage(recording.Take{TempPath: filepath.Join(f.tmp, "never-written.mp4"), Err: errors.New("encoder died")})
	pending, ok = o.Pending()
	require.True(t, ok)
	assert.Equal(t, second.TempPath, pending.TempPath)
}

func TestArchiveFailureDoesNotFailCommit(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.store, f.lib, nil, nil, WithArchiveQueue(&recordedQueue{err: errors.New("redis down")}))
	o.Stage(f.take(t, time.Second))
	_, err := o.Commit(context.Background(), checkIn())
	require.NoError(t, err)
}

func TestParseProbeDuration(t *testing.T) {
	d, err := parseProbeDuration([]byte(`{"format":{"filename":"x.mp4","duration":"45.021000"}}`))
	require.NoError(t, err)
	assert.InDelta(t, 45.021, d, 1e-9)

	_, err = parseProbeDuration([]byte(`{"format":{"duration":"N/A"}}`))
	assert.Error(t, err)
	_, err = parseProbeDuration([]byte(`not json`))
	assert.Error(t, err)
}
