package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainermatch/backend/config"
)

func TestFFmpegDriverArgs(t *testing.T) {
	d := NewFFmpegDriver(config.CaptureConfig{
		InputFormat: "v4l2",
		FrontDevice: "front0",
		BackDevice:  "back0",
		AudioFormat: "alsa",
		AudioDevice: "default",
	}, nil)

	audio, err := d.Configure(context.Background(), PositionBack)
	require.NoError(t, err)
	assert.True(t, audio)

	args := d.args("/tmp/out.mp4")
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-i", "back0",
		"-f", "alsa", "-i", "default",
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart", "-y", "/tmp/out.mp4",
	}, args)

	require.NoError(t, d.SwapInput(PositionFront))
	assert.Contains(t, d.args("x.mp4"), "front0")
}

func TestFFmpegDriverWithoutAudio(t *testing.T) {
	d := NewFFmpegDriver(config.CaptureConfig{InputFormat: "v4l2", BackDevice: "0"}, nil)
	audio, err := d.Configure(context.Background(), PositionBack)
	require.NoError(t, err)
	assert.False(t, audio)
	assert.NotContains(t, d.args("x.mp4"), "-c:a")
}

func TestFFmpegDriverMissingDevice(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "video9")
	d := NewFFmpegDriver(config.CaptureConfig{BackDevice: missing, FrontDevice: missing}, nil)

	auth, err := d.RequestAccess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AuthorizationAuthorized, auth)

	_, err = d.Configure(context.Background(), PositionBack)
	assert.True(t, errors.Is(err, errNoCamera))
}

func TestFinalizeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	exitErr := errors.New("exit status 255")
	assert.NoError(t, finalizeError(path, nil, false, ""))
	assert.NoError(t, finalizeError(path, exitErr, true, ""))
	assert.ErrorContains(t, finalizeError(path, exitErr, false, "device busy"), "device busy")
	assert.Error(t, finalizeError(filepath.Join(t.TempDir(), "none.mp4"), exitErr, true, ""))
}
