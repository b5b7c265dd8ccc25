package recording

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainermatch/backend/internal/capture"
)

// gatedDriver writes a small file per take. SwapInput blocks while gate is open.
type gatedDriver struct {
	mu        sync.Mutex
	gate      chan struct{}
	position  capture.Position
	begins    []string
	finalizer func(error)
}

func (d *gatedDriver) RequestAccess(context.Context) (capture.Authorization, error) {
	return capture.AuthorizationAuthorized, nil
}

func (d *gatedDriver) Configure(_ context.Context, pos capture.Position) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = pos
	return true, nil
}

func (d *gatedDriver) Run() error  { return nil }
func (d *gatedDriver) Halt() error { return d.EndRecording() }

func (d *gatedDriver) SwapInput(pos capture.Position) error {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = pos
	return nil
}

func (d *gatedDriver) BeginRecording(path string, finalized func(error)) error {
	if err := os.WriteFile(path, []byte("frames"), 0o600); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.begins = append(d.begins, path)
	d.finalizer = finalized
	return nil
}

func (d *gatedDriver) EndRecording() error {
	d.mu.Lock()
	fin := d.finalizer
	d.finalizer = nil
	d.mu.Unlock()
	if fin != nil {
		fin(nil)
	}
	return nil
}

func (d *gatedDriver) beginPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.begins...)
}

func (d *gatedDriver) currentPosition() capture.Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

func runningManager(t *testing.T, drv *gatedDriver) *capture.Manager {
	t.Helper()
	m := capture.NewManager(drv, t.TempDir(), nil)
	require.NoError(t, m.Configure(context.Background()))
	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return m.State().Running }, waitFor, poll)
	return m
}

func TestCountdownEndingDuringFlipWaitsForSwap(t *testing.T) {
	gate := make(chan struct{})
	drv := &gatedDriver{gate: gate}
	m := runningManager(t, drv)
	c := NewController(m, 20*time.Millisecond, nil, nil)

	require.NoError(t, c.Begin(context.Background(), 1, nil))
	require.NoError(t, c.Flip())
	assert.True(t, c.Status().Flipping)
	assert.ErrorIs(t, c.Flip(), capture.ErrFlipInProgress)

	time.Sleep(100 * time.Millisecond)
	st := c.Status()
	assert.Equal(t, PhaseCountingDown, st.Phase)
	assert.Empty(t, st.LastError)
	assert.Empty(t, drv.beginPaths())

	close(gate)
	require.Eventually(t, phaseIs(c, PhaseRecording), waitFor, poll)
	require.Eventually(t, func() bool { return len(drv.beginPaths()) == 1 }, waitFor, poll)
	assert.Equal(t, capture.PositionFront, drv.currentPosition())
	assert.False(t, c.Status().Flipping)
}

func TestZeroCountdownDuringFlipStartsAfterSwap(t *testing.T) {
	gate := make(chan struct{})
	drv := &gatedDriver{gate: gate}
	m := runningManager(t, drv)
	c := NewController(m, 20*time.Millisecond, nil, nil)

	require.NoError(t, c.Flip())
	require.NoError(t, c.Begin(context.Background(), 0, nil))
	assert.Equal(t, PhaseCountingDown, c.Status().Phase)

	close(gate)
	require.Eventually(t, phaseIs(c, PhaseRecording), waitFor, poll)
}

func TestCancelWhileWaitingForFlipNeverStarts(t *testing.T) {
	gate := make(chan struct{})
	drv := &gatedDriver{gate: gate}
	m := runningManager(t, drv)
	c := NewController(m, 10*time.Millisecond, nil, nil)

	require.NoError(t, c.Begin(context.Background(), 1, nil))
	require.NoError(t, c.Flip())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Cancel())

	close(gate)
	require.Eventually(t, func() bool { return !c.Status().Flipping }, waitFor, poll)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PhaseIdle, c.Status().Phase)
	assert.Empty(t, drv.beginPaths())
}

func TestFlipThenStopDeliversPostFlipFile(t *testing.T) {
	drv := &gatedDriver{}
	m := runningManager(t, drv)
	c := NewController(m, time.Hour, nil, nil)
	var sink takeSink

	require.NoError(t, c.Begin(context.Background(), 0, sink.record))
	require.Eventually(t, func() bool { return len(drv.beginPaths()) == 1 }, waitFor, poll)

	flippedAt := time.Now()
	require.NoError(t, c.Flip())
	require.Eventually(t, func() bool {
		return c.Status().Phase == PhaseRecording && len(drv.beginPaths()) == 2
	}, waitFor, poll)
	assert.Empty(t, sink.all())

	require.NoError(t, c.Stop())
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, waitFor, poll)

	paths := drv.beginPaths()
	take := sink.all()[0]
	assert.Equal(t, paths[1], take.TempPath)
	assert.NoError(t, take.Err)
	assert.False(t, take.StartedAt.Before(flippedAt))
	assert.Less(t, take.Elapsed, time.Since(flippedAt)+time.Millisecond)

	_, err := os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(paths[1])
	assert.NoError(t, err)

	assert.Equal(t, PhaseIdle, c.Status().Phase)
	assert.Equal(t, capture.PositionFront, m.State().Position)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.all(), 1)
}
