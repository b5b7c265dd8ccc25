package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trainermatch/backend/config"
)

// stopTimeout is how long ffmpeg gets to flush the container after SIGINT.
const stopTimeout = 10 * time.Second

var errNoCamera = errors.New("camera device not found")

// FFmpegDriver captures from local camera devices by spawning ffmpeg per take.
type FFmpegDriver struct {
	cfg    config.CaptureConfig
	logger *zap.Logger

	mu          sync.Mutex
	position    Position
	audio       bool
	running     bool
	cmd         *exec.Cmd
	done        chan struct{}
	interrupted bool
}

// NewFFmpegDriver creates a driver for the configured front and back devices.
func NewFFmpegDriver(cfg config.CaptureConfig, logger *zap.Logger) *FFmpegDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &FFmpegDriver{cfg: cfg, logger: logger, position: PositionBack}
}

func (d *FFmpegDriver) device(pos Position) string {
	if pos == PositionFront {
		return d.cfg.FrontDevice
	}
	return d.cfg.BackDevice
}

// checkDevice reports errNoCamera or a permission error for device node paths.
// Non-path device names (avfoundation indexes) are assumed present.
func checkDevice(dev string) error {
	if dev == "" {
		return errNoCamera
	}
	if !strings.HasPrefix(dev, "/") {
		return nil
	}
	f, err := os.Open(dev)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", errNoCamera, dev)
		}
		return err
	}
	return f.Close()
}

// RequestAccess maps device node permissions onto an authorization state.
func (d *FFmpegDriver) RequestAccess(_ context.Context) (Authorization, error) {
	err := checkDevice(d.cfg.BackDevice)
	switch {
	case err == nil, errors.Is(err, errNoCamera):
		return AuthorizationAuthorized, nil
	case os.IsPermission(err):
		return AuthorizationDenied, nil
	default:
		return AuthorizationUndetermined, err
	}
}

// Configure verifies the video device at pos and attaches audio when a device is set.
func (d *FFmpegDriver) Configure(_ context.Context, pos Position) (bool, error) {
	if err := checkDevice(d.device(pos)); err != nil {
		return false, fmt.Errorf("open %s camera: %w", pos, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = pos
	d.audio = d.cfg.AudioDevice != ""
	return d.audio, nil
}

// Run marks the pipeline live. ffmpeg is only spawned while recording.
func (d *FFmpegDriver) Run() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkDevice(d.device(d.position)); err != nil {
		return err
	}
	d.running = true
	return nil
}

// Halt ends any active take and marks the pipeline stopped.
func (d *FFmpegDriver) Halt() error {
	if err := d.EndRecording(); err != nil {
		d.logger.Warn("end recording during halt", zap.Error(err))
	}
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

// SwapInput selects the device used by the next take.
func (d *FFmpegDriver) SwapInput(pos Position) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return errors.New("cannot swap input while recording")
	}
	if err := checkDevice(d.device(pos)); err != nil {
		return err
	}
	d.position = pos
	return nil
}

func (d *FFmpegDriver) args(path string) []string {
	args := []string{"-hide_banner", "-loglevel", "error",
		"-f", d.cfg.InputFormat, "-i", d.device(d.position),
	}
	if d.audio {
		args = append(args, "-f", d.cfg.AudioFormat, "-i", d.cfg.AudioDevice)
	}
	args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p")
	if d.audio {
		args = append(args, "-c:a", "aac")
	}
	return append(args, "-movflags", "+faststart", "-y", path)
}

// BeginRecording spawns ffmpeg writing to path. finalized fires when the process exits.
func (d *FFmpegDriver) BeginRecording(path string, finalized func(err error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return errors.New("pipeline not running")
	}
	if d.cmd != nil {
		return errors.New("recording already active")
	}

	// Not bound to a request context so that stop is explicit.
	cmd := exec.Command(d.cfg.FFmpegPath, d.args(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	done := make(chan struct{})
	d.cmd = cmd
	d.done = done
	d.interrupted = false

	go func() {
		waitErr := cmd.Wait()
		d.mu.Lock()
		interrupted := d.interrupted
		d.cmd = nil
		d.done = nil
		d.mu.Unlock()
		close(done)
		finalized(finalizeError(path, waitErr, interrupted, stderr.String()))
	}()
	d.logger.Debug("ffmpeg capture started", zap.String("path", path), zap.String("position", string(d.position)))
	return nil
}

// finalizeError treats an interrupted ffmpeg as a clean stop when it left a non-empty file.
func finalizeError(path string, waitErr error, interrupted bool, stderr string) error {
	if waitErr == nil {
		return nil
	}
	if interrupted {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return nil
		}
	}
	msg := strings.TrimSpace(stderr)
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	if msg == "" {
		return fmt.Errorf("ffmpeg: %w", waitErr)
	}
	return fmt.Errorf("ffmpeg: %w: %s", waitErr, msg)
}

// EndRecording interrupts ffmpeg and waits for it, killing it after stopTimeout.
func (d *FFmpegDriver) EndRecording() error {
	d.mu.Lock()
	cmd, done := d.cmd, d.done
	if cmd == nil || cmd.Process == nil {
		d.mu.Unlock()
		return nil
	}
	d.interrupted = true
	d.mu.Unlock()

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("interrupt ffmpeg: %w", err)
	}
	select {
	case <-done:
	case <-time.After(stopTimeout):
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}
