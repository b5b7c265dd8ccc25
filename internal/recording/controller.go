package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/capture"
	"github.com/trainermatch/backend/internal/metrics"
)

// Phase is the controller's position in the countdown/record lifecycle.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseCountingDown   Phase = "counting_down"
	PhaseRecording      Phase = "recording"
	PhaseFlippingPaused Phase = "flipping_paused"
)

var (
	ErrBusy             = errors.New("a recording is already in progress")
	ErrNotCountingDown  = errors.New("no countdown in progress")
	ErrIdle             = errors.New("not recording")
	ErrInvalidCountdown = errors.New("countdown must not be negative")
)

// Session is the part of the capture manager the controller drives.
type Session interface {
	StartRecording(onFinished func(capture.Result)) (string, error)
	StopRecording() error
	FlipDevice(onFlipped func(capture.Position, error)) error
}

// Take is a finalized recording waiting to be committed or discarded.
type Take struct {
	TempPath  string
	StartedAt time.Time
	Elapsed   time.Duration
	Err       error
}

// Status is an observable snapshot of the controller.
type Status struct {
	Phase     Phase      `json:"phase"`
	Remaining int        `json:"remaining,omitempty"`
	TempPath  string     `json:"temp_path,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Elapsed   float64    `json:"elapsed_seconds,omitempty"`
	Flipping  bool       `json:"flipping,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Controller sequences countdown, recording, flip-restart and finalize.
// All transitions happen under mu, so at most one is in flight.
type Controller struct {
	session Session
	tick    time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu              sync.Mutex
	phase           Phase
	remaining       int
	gen             uint64
	cancelCountdown context.CancelFunc
	onFinished      func(Take)
	startedAt       time.Time
	path            string
	stopAfterFlip   bool
	// a flip outside recording is swapping inputs; a countdown that ends
	// meanwhile waits for it before starting
	idleFlip        bool
	startAfterFlip  bool
	lastErr         string
	subs            map[int]chan Status
	nextSub         int
}

// NewController creates an idle controller. tick is the countdown step (1s when zero).
func NewController(session Session, tick time.Duration, logger *zap.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Controller{
		session: session,
		tick:    tick,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		phase:   PhaseIdle,
		subs:    make(map[int]chan Status),
	}
}

// Begin starts a countdown of seconds ticks, then starts recording.
// onFinished receives the final take exactly once. Cancelling ctx during the
// countdown aborts it without recording.
func (c *Controller) Begin(ctx context.Context, seconds int, onFinished func(Take)) error {
	if seconds < 0 {
		return ErrInvalidCountdown
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return ErrBusy
	}
	c.onFinished = onFinished
	c.lastErr = ""
	if seconds == 0 && !c.idleFlip {
		return c.startLocked()
	}

	cdCtx, cancel := context.WithCancel(ctx)
	c.gen++
	c.phase = PhaseCountingDown
	c.remaining = seconds
	c.startAfterFlip = seconds == 0
	c.cancelCountdown = cancel
	c.publishLocked()
	go c.countdown(cdCtx, c.gen)
	return nil
}

func (c *Controller) countdown(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.gen == gen && c.phase == PhaseCountingDown {
				c.abortCountdownLocked()
				c.logger.Info("countdown aborted", zap.Error(ctx.Err()))
			}
			c.mu.Unlock()
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.gen != gen || c.phase != PhaseCountingDown {
				c.mu.Unlock()
				return
			}
			if c.startAfterFlip {
				c.mu.Unlock()
				continue
			}
			c.remaining--
			if c.remaining > 0 {
				c.publishLocked()
				c.mu.Unlock()
				continue
			}
			if c.idleFlip {
				c.startAfterFlip = true
				c.publishLocked()
				c.mu.Unlock()
				c.logger.Info("countdown finished during camera flip, waiting")
				continue
			}
			cancel := c.cancelCountdown
			c.cancelCountdown = nil
			if err := c.startLocked(); err != nil {
				c.logger.Warn("recording did not start after countdown", zap.Error(err))
			}
			c.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return
		}
	}
}

// Cancel aborts a running countdown.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseCountingDown {
		return ErrNotCountingDown
	}
	c.abortCountdownLocked()
	c.logger.Info("countdown canceled")
	return nil
}

// Stop ends the recording; the take is delivered once the file is finalized.
// During a countdown it behaves like Cancel. During a flip the stop is applied
// as soon as recording resumes.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseCountingDown:
		c.abortCountdownLocked()
		return nil
	case PhaseRecording:
		if err := c.session.StopRecording(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
			return fmt.Errorf("stop recording: %w", err)
		}
		return nil
	case PhaseFlippingPaused:
		c.stopAfterFlip = true
		return nil
	}
	return ErrIdle
}

// Flip switches cameras. While recording, the controller pauses until the
// session has resumed into a new file.
func (c *Controller) Flip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseFlippingPaused:
		return capture.ErrFlipInProgress
	case PhaseRecording:
		if err := c.session.FlipDevice(c.onFlipped); err != nil {
			return fmt.Errorf("flip camera: %w", err)
		}
		c.phase = PhaseFlippingPaused
		c.publishLocked()
		return nil
	}
	if c.idleFlip {
		return capture.ErrFlipInProgress
	}
	if err := c.session.FlipDevice(c.onIdleFlipped); err != nil {
		return fmt.Errorf("flip camera: %w", err)
	}
	c.idleFlip = true
	c.publishLocked()
	return nil
}

// onIdleFlipped completes a flip made while not recording and starts the
// recording if a countdown ended in the meantime.
func (c *Controller) onIdleFlipped(_ capture.Position, err error) {
	c.countFlip(err)
	c.mu.Lock()
	c.idleFlip = false
	if err != nil {
		c.lastErr = err.Error()
	}
	if !c.startAfterFlip || c.phase != PhaseCountingDown {
		c.publishLocked()
		c.mu.Unlock()
		return
	}
	c.startAfterFlip = false
	cancel := c.cancelCountdown
	c.cancelCountdown = nil
	if serr := c.startLocked(); serr != nil {
		c.logger.Warn("recording did not start after flip", zap.Error(serr))
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Subscribe returns a channel carrying the latest status.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Status, 1)
	ch <- c.statusLocked()
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s)
		}
	}
}

func (c *Controller) startLocked() error {
	path, err := c.session.StartRecording(c.onSessionFinished)
	if err != nil {
		c.toIdleLocked()
		c.lastErr = err.Error()
		c.publishLocked()
		return fmt.Errorf("start recording: %w", err)
	}
	c.phase = PhaseRecording
	c.path = path
	c.startedAt = c.now()
	c.publishLocked()
	if c.metrics != nil {
		c.metrics.RecordingsStarted.Inc()
	}
	c.logger.Info("recording", zap.String("path", path))
	return nil
}

func (c *Controller) onSessionFinished(res capture.Result) {
	c.mu.Lock()
	onFinished := c.onFinished
	// After a flip the delivered file is the post-flip segment, so both
	// StartedAt and Elapsed describe that segment.
	take := Take{TempPath: res.Path, StartedAt: res.StartedAt, Err: res.Err}
	if res.StartedAt.IsZero() {
		take.StartedAt = c.startedAt
	} else {
		take.Elapsed = c.now().Sub(res.StartedAt)
	}
	if res.Err != nil {
		c.lastErr = res.Err.Error()
	}
	c.toIdleLocked()
	c.publishLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordingsFinished.WithLabelValues(metrics.Status(res.Err)).Inc()
	}
	c.logger.Info("recording finished", zap.String("path", take.TempPath), zap.Duration("elapsed", take.Elapsed), zap.Error(res.Err))
	if onFinished != nil {
		onFinished(take)
	}
}

func (c *Controller) onFlipped(pos capture.Position, err error) {
	c.countFlip(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
	}
	if c.phase != PhaseFlippingPaused {
		// The resume failed and the take was already delivered.
		return
	}
	c.phase = PhaseRecording
	stop := c.stopAfterFlip
	c.stopAfterFlip = false
	c.publishLocked()
	c.logger.Info("recording resumed after flip", zap.String("position", string(pos)))
	if stop {
		if serr := c.session.StopRecording(); serr != nil {
			c.logger.Warn("deferred stop after flip failed", zap.Error(serr))
		}
	}
}

func (c *Controller) countFlip(err error) {
	if c.metrics != nil {
		c.metrics.Flips.WithLabelValues(metrics.Status(err)).Inc()
	}
}

func (c *Controller) abortCountdownLocked() {
	if c.cancelCountdown != nil {
		c.cancelCountdown()
	}
	c.gen++
	c.toIdleLocked()
	c.publishLocked()
	if c.metrics != nil {
		c.metrics.CountdownsCanceled.Inc()
	}
}

func (c *Controller) toIdleLocked() {
	c.phase = PhaseIdle
	c.remaining = 0
	c.path = ""
	c.startedAt = time.Time{}
	c.cancelCountdown = nil
	c.onFinished = nil
	c.stopAfterFlip = false
	c.startAfterFlip = false
}

func (c *Controller) statusLocked() Status {
	s := Status{Phase: c.phase, Remaining: c.remaining, TempPath: c.path, Flipping: c.idleFlip, LastError: c.lastErr}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		s.StartedAt = &started
		s.Elapsed = c.now().Sub(started).Seconds()
	}
	return s
}

func (c *Controller) publishLocked() {
	s := c.statusLocked()
	for _, ch := range c.subs {
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
