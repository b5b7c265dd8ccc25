package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrFlipInProgress   = errors.New("camera flip in progress")
	ErrStopping         = errors.New("recording is stopping")
	ErrNotConfigured    = errors.New("capture session not configured")
	ErrNotRunning       = errors.New("capture session not running")
	ErrAccessDenied     = errors.New("camera access denied")
)

// State is a snapshot of the capture session. Recording implies Running.
type State struct {
	Running       bool          `json:"running"`
	Recording     bool          `json:"recording"`
	Authorization Authorization `json:"authorization"`
	Position      Position      `json:"position"`
	Configured    bool          `json:"configured"`
	Flipping      bool          `json:"flipping"`
	Audio         bool          `json:"audio"`
	// Reason says why recording is unavailable; empty when it is available.
	Reason string `json:"reason,omitempty"`
}

// Result is delivered once per logical recording when its file is finalized.
type Result struct {
	Path      string
	StartedAt time.Time
	Err       error
}

type take struct {
	path       string
	startedAt  time.Time
	onFinished func(Result)
	stopping   bool

	started  chan struct{}
	beginErr error
}

// Manager owns the capture hardware. Driver calls run on background goroutines;
// state changes are serialized by mu and published to subscribers in order.
type Manager struct {
	driver  Driver
	tempDir string
	logger  *zap.Logger
	now     func() time.Time

	// held while inputs are being reconfigured
	reconfig sync.Mutex

	mu                sync.Mutex
	state             State
	configErr         string
	starting          bool
	current           *take
	restartPending    bool
	pendingFlip       func(Position, error)
	haltAfterFinalize bool
	subs              map[int]chan State
	nextSub           int
}

// NewManager creates an unconfigured capture session writing takes into tempDir.
func NewManager(driver Driver, tempDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Manager{
		driver:  driver,
		tempDir: tempDir,
		logger:  logger,
		now:     time.Now,
		state: State{
			Authorization: AuthorizationUndetermined,
			Position:      PositionBack,
		},
		subs: make(map[int]chan State),
	}
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel carrying the latest state. A slow reader only
// misses intermediate snapshots, never the most recent one.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan State, 1)
	ch <- m.snapshotLocked()
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Configure requests camera permission and opens the back camera with a
// best-effort microphone. On failure the session stays unconfigured and the
// reason is visible in State.
func (m *Manager) Configure(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Configured {
		m.mu.Unlock()
		return nil
	}
	auth := m.state.Authorization
	m.mu.Unlock()

	if auth == AuthorizationUndetermined {
		granted, err := m.driver.RequestAccess(ctx)
		if err != nil {
			m.setConfigErr("camera permission check failed")
			m.logger.Error("camera access request failed", zap.Error(err))
			return fmt.Errorf("request camera access: %w", err)
		}
		auth = granted
		m.mu.Lock()
		m.state.Authorization = granted
		m.publishLocked()
		m.mu.Unlock()
	}
	if auth != AuthorizationAuthorized {
		m.logger.Warn("camera access not granted", zap.String("authorization", string(auth)))
		return ErrAccessDenied
	}

	m.reconfig.Lock()
	audio, err := m.driver.Configure(ctx, PositionBack)
	m.reconfig.Unlock()
	if err != nil {
		m.setConfigErr("back camera unavailable")
		m.logger.Error("configure capture inputs failed", zap.Error(err))
		return fmt.Errorf("configure capture inputs: %w", err)
	}
	if !audio {
		m.logger.Warn("no audio input available, recording video only")
	}

	m.mu.Lock()
	m.configErr = ""
	m.state.Configured = true
	m.state.Position = PositionBack
	m.state.Audio = audio
	m.publishLocked()
	m.mu.Unlock()
	m.logger.Info("capture session configured", zap.Bool("audio", audio))
	return nil
}

// Start runs the session in the background. No-op if already running.
func (m *Manager) Start() error {
	m.mu.Lock()
	if !m.state.Configured {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	if m.state.Running || m.starting {
		m.mu.Unlock()
		return nil
	}
	m.starting = true
	m.mu.Unlock()

	go func() {
		err := m.driver.Run()
		m.mu.Lock()
		m.starting = false
		if err != nil {
			m.logger.Error("start capture session failed", zap.Error(err))
		} else {
			m.state.Running = true
		}
		m.publishLocked()
		m.mu.Unlock()
	}()
	return nil
}

// Stop halts the session in the background. An active recording is finalized
// first. No-op if not running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.state.Running {
		m.mu.Unlock()
		return nil
	}
	if m.state.Flipping {
		m.mu.Unlock()
		return ErrFlipInProgress
	}
	if t := m.current; t != nil {
		m.haltAfterFinalize = true
		alreadyStopping := t.stopping
		t.stopping = true
		m.mu.Unlock()
		if !alreadyStopping {
			go m.endTake(t)
		}
		return nil
	}
	m.mu.Unlock()
	go m.halt()
	return nil
}

func (m *Manager) halt() {
	err := m.driver.Halt()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Error("halt capture session failed", zap.Error(err))
		return
	}
	m.state.Running = false
	m.publishLocked()
}

// StartRecording begins writing a new temp file and returns its path.
// onFinished is called exactly once when that logical recording is finalized.
func (m *Manager) StartRecording(onFinished func(Result)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.current != nil:
		m.logger.Warn("start recording ignored: already recording", zap.String("path", m.current.path))
		return "", ErrAlreadyRecording
	case m.state.Flipping:
		return "", ErrFlipInProgress
	case !m.state.Running:
		return "", ErrNotRunning
	}
	t := m.beginLocked(onFinished)
	m.logger.Info("recording started", zap.String("path", t.path), zap.String("position", string(m.state.Position)))
	return t.path, nil
}

// StopRecording asks the driver to finalize the active file.
func (m *Manager) StopRecording() error {
	m.mu.Lock()
	t := m.current
	if t == nil {
		m.mu.Unlock()
		m.logger.Debug("stop recording ignored: not recording")
		return ErrNotRecording
	}
	if m.state.Flipping {
		m.mu.Unlock()
		return ErrFlipInProgress
	}
	if t.stopping {
		m.mu.Unlock()
		return nil
	}
	t.stopping = true
	m.mu.Unlock()
	go m.endTake(t)
	return nil
}

// FlipDevice toggles between front and back cameras. While recording, the
// current file is finalized and discarded, the input is swapped, and recording
// resumes into a new file that reports to the original onFinished. onFlipped
// fires once the flip has completed; a failed swap keeps the previous camera.
func (m *Manager) FlipDevice(onFlipped func(Position, error)) error {
	m.mu.Lock()
	if !m.state.Configured {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	if m.state.Flipping {
		m.mu.Unlock()
		return ErrFlipInProgress
	}
	t := m.current
	if t != nil && t.stopping {
		m.mu.Unlock()
		return ErrStopping
	}
	m.state.Flipping = true
	if t != nil {
		m.restartPending = true
		m.pendingFlip = onFlipped
		t.stopping = true
		m.publishLocked()
		m.mu.Unlock()
		m.logger.Info("flipping camera during recording", zap.String("path", t.path))
		go m.endTake(t)
		return nil
	}
	m.publishLocked()
	m.mu.Unlock()

	go func() {
		pos, err := m.swap()
		m.mu.Lock()
		m.state.Flipping = false
		m.publishLocked()
		m.mu.Unlock()
		if onFlipped != nil {
			onFlipped(pos, err)
		}
	}()
	return nil
}

func (m *Manager) beginLocked(onFinished func(Result)) *take {
	t := &take{
		path:       filepath.Join(m.tempDir, "take-"+uuid.NewString()+".mp4"),
		startedAt:  m.now(),
		onFinished: onFinished,
		started:    make(chan struct{}),
	}
	m.current = t
	m.state.Recording = true
	m.publishLocked()
	go m.runTake(t)
	return t
}

func (m *Manager) runTake(t *take) {
	err := m.driver.BeginRecording(t.path, func(ferr error) { m.finalize(t, ferr) })
	if err != nil {
		t.beginErr = err
		close(t.started)
		m.logger.Error("begin recording failed", zap.Error(err), zap.String("path", t.path))
		m.finalize(t, fmt.Errorf("begin recording: %w", err))
		return
	}
	close(t.started)
}

func (m *Manager) endTake(t *take) {
	<-t.started
	if t.beginErr != nil {
		return
	}
	if err := m.driver.EndRecording(); err != nil {
		m.logger.Warn("end recording failed", zap.Error(err), zap.String("path", t.path))
	}
}

func (m *Manager) finalize(t *take, err error) {
	m.mu.Lock()
	if m.current != t {
		m.mu.Unlock()
		m.logger.Warn("stale finalize ignored", zap.String("path", t.path))
		return
	}
	m.current = nil
	m.state.Recording = false

	if m.restartPending {
		// Flip-triggered stop: this completion is not the end of the recording.
		m.restartPending = false
		onFlipped := m.pendingFlip
		m.pendingFlip = nil
		m.publishLocked()
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("pre-flip segment finalized with error", zap.Error(err))
		}
		if rmErr := os.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) {
			m.logger.Warn("remove pre-flip segment failed", zap.Error(rmErr), zap.String("path", t.path))
		}
		pos, swapErr := m.swap()
		m.resume(t.onFinished, pos, swapErr, onFlipped)
		return
	}

	halt := m.haltAfterFinalize
	m.haltAfterFinalize = false
	m.publishLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("recording finalized with error", zap.Error(err), zap.String("path", t.path))
	} else {
		m.logger.Info("recording finalized", zap.String("path", t.path))
	}
	if halt {
		m.halt()
	}
	if t.onFinished != nil {
		t.onFinished(Result{Path: t.path, StartedAt: t.startedAt, Err: err})
	}
}

func (m *Manager) swap() (Position, error) {
	m.reconfig.Lock()
	defer m.reconfig.Unlock()

	m.mu.Lock()
	prev := m.state.Position
	m.mu.Unlock()
	target := prev.Opposite()

	if err := m.driver.SwapInput(target); err != nil {
		if restoreErr := m.driver.SwapInput(prev); restoreErr != nil {
			m.logger.Error("restore previous camera failed", zap.Error(restoreErr), zap.String("position", string(prev)))
		}
		m.logger.Warn("camera flip failed", zap.Error(err), zap.String("target", string(target)))
		return prev, fmt.Errorf("swap to %s camera: %w", target, err)
	}

	m.mu.Lock()
	m.state.Position = target
	m.publishLocked()
	m.mu.Unlock()
	return target, nil
}

func (m *Manager) resume(onFinished func(Result), pos Position, swapErr error, onFlipped func(Position, error)) {
	m.mu.Lock()
	var resumeErr error
	if m.state.Running {
		t := m.beginLocked(onFinished)
		m.logger.Info("recording resumed after flip", zap.String("path", t.path), zap.String("position", string(pos)))
	} else {
		resumeErr = ErrNotRunning
	}
	m.state.Flipping = false
	m.publishLocked()
	m.mu.Unlock()

	if resumeErr != nil && onFinished != nil {
		onFinished(Result{StartedAt: m.now(), Err: fmt.Errorf("resume recording after flip: %w", resumeErr)})
	}
	if onFlipped != nil {
		onFlipped(pos, swapErr)
	}
}

func (m *Manager) setConfigErr(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configErr = reason
	m.publishLocked()
}

func (m *Manager) snapshotLocked() State {
	s := m.state
	s.Reason = m.reasonLocked()
	return s
}

func (m *Manager) reasonLocked() string {
	switch {
	case m.state.Authorization == AuthorizationDenied:
		return "camera access denied; enable it in settings"
	case m.configErr != "":
		return m.configErr
	case m.state.Authorization == AuthorizationUndetermined:
		return "camera access has not been requested"
	case !m.state.Configured:
		return "camera session is not configured"
	case !m.state.Running:
		return "camera session is not running"
	case m.state.Flipping:
		return "switching cameras"
	}
	return ""
}

func (m *Manager) publishLocked() {
	s := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
