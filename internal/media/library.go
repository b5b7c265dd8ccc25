package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/models"
)

var ErrInvalidRef = errors.New("invalid media reference")

// Library is the permanent on-disk home of committed message media.
// References are bare file names inside the library directory.
type Library struct {
	dir    string
	logger *zap.Logger
}

// NewLibrary creates the library directory if needed.
func NewLibrary(dir string, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Library{dir: dir, logger: logger}, nil
}

// Path resolves a reference to its file path.
func (l *Library) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(l.dir, ref), nil
}

// Import moves a finalized temp file into the library under a new unique name.
func (l *Library) Import(tempPath string) (string, error) {
	ext := filepath.Ext(tempPath)
	if ext == "" {
		ext = ".mp4"
	}
	ref := uuid.NewString() + ext
	dst := filepath.Join(l.dir, ref)
	if err := move(tempPath, dst); err != nil {
		return "", err
	}
	l.logger.Debug("media imported", zap.String("from", tempPath), zap.String("ref", ref))
	return ref, nil
}

// Restore moves an imported file back to its temp location.
func (l *Library) Restore(ref, tempPath string) error {
	src, err := l.Path(ref)
	if err != nil {
		return err
	}
	return move(src, tempPath)
}

// Open opens the media file for reading.
func (l *Library) Open(ref string) (*os.File, error) {
	p, err := l.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Remove deletes the media file. A file that is already gone is not an error.
func (l *Library) Remove(ref string) error {
	p, err := l.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove media: %w", err)
	}
	return nil
}

// move renames src to dst, copying when they live on different filesystems.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move media: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy media: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close destination: %w", err)
	}
	return os.Remove(src)
}

// ObjectDeleter removes archived copies.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, bucket, key string) error
	UploadRecordingsBucket() string
}

// Cleaner removes both the local file and the archived object of a message.
type Cleaner struct {
	lib     *Library
	archive ObjectDeleter
	logger  *zap.Logger
}

// NewCleaner creates a cleaner. archive may be nil when S3 is not configured.
func NewCleaner(lib *Library, archive ObjectDeleter, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{lib: lib, archive: archive, logger: logger}
}

// RemoveMedia deletes the message's media.
func (c *Cleaner) RemoveMedia(ctx context.Context, msg models.VideoMessage) error {
	if err := c.lib.Remove(msg.MediaRef); err != nil {
		return err
	}
	if msg.ArchiveKey != "" && c.archive != nil {
		if err := c.archive.DeleteObject(ctx, c.archive.UploadRecordingsBucket(), msg.ArchiveKey); err != nil {
			c.logger.Warn("delete archived media failed", zap.Error(err), zap.String("key", msg.ArchiveKey))
			return err
		}
	}
	return nil
}
