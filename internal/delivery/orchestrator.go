// Package delivery turns a finalized take into a stored message, or throws it away.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/metrics"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/internal/realtime"
	"github.com/trainermatch/backend/internal/recording"
	"github.com/trainermatch/backend/pkg/queue"
)

var (
	ErrNoPendingRecording = errors.New("no pending recording")
	ErrTempFileMissing    = errors.New("recording file is missing")
	ErrInvalidDraft       = errors.New("invalid message draft")
)

// Inserter is the part of the message store the orchestrator writes to.
type Inserter interface {
	Insert(ctx context.Context, msg *models.VideoMessage) error
	UnviewedCountFor(ctx context.Context, recipientID string) (int, error)
}

// MediaLibrary holds committed media.
type MediaLibrary interface {
	Import(tempPath string) (string, error)
	Restore(ref, tempPath string) error
	Path(ref string) (string, error)
}

// ArchiveQueue accepts archive jobs for committed messages.
type ArchiveQueue interface {
	EnqueueMessageArchive(ctx context.Context, payload queue.MessageArchivePayload) error
}

// Notifier pushes realtime events to a user's sockets.
type Notifier interface {
	NotifyUser(userID, event string, payload interface{})
}

// Draft is what the trainer fills in while reviewing a take.
type Draft struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Category    string `json:"category"`
}

// Pending describes the staged take.
type Pending struct {
	TempPath  string    `json:"temp_path"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   float64   `json:"elapsed_seconds"`
	Error     string    `json:"error,omitempty"`
}

// Orchestrator owns at most one staged take. Each staged take is consumed by
// exactly one Commit or Discard.
type Orchestrator struct {
	store   Inserter
	library MediaLibrary
	prober  Prober
	archive ArchiveQueue // optional
	notify  Notifier     // optional
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending *recording.Take
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

func WithArchiveQueue(q ArchiveQueue) Option { return func(o *Orchestrator) { o.archive = q } }
func WithNotifier(n Notifier) Option         { return func(o *Orchestrator) { o.notify = n } }
func WithMetrics(m *metrics.Metrics) Option  { return func(o *Orchestrator) { o.metrics = m } }

// NewOrchestrator creates an orchestrator. prober may be nil, in which case
// durations come from the recorded elapsed time.
func NewOrchestrator(store Inserter, library MediaLibrary, prober Prober, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{store: store, library: library, prober: prober, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stage records a finalized take as pending. A take that failed without
// leaving a file is dropped. A previously staged take is discarded.
func (o *Orchestrator) Stage(take recording.Take) {
	if take.Err != nil && !usableFile(take.TempPath) {
		o.logger.Warn("recording failed without output", zap.Error(take.Err), zap.String("path", take.TempPath))
		o.removeTemp(take.TempPath)
		o.count("failed")
		return
	}
	o.mu.Lock()
	prev := o.pending
	o.pending = &take
	o.mu.Unlock()

	if prev != nil && prev.TempPath != take.TempPath {
		o.logger.Warn("replacing uncommitted take", zap.String("path", prev.TempPath))
		o.removeTemp(prev.TempPath)
		o.count("discarded")
	}
	if take.Err != nil {
		o.logger.Warn("staged partial recording", zap.Error(take.Err), zap.String("path", take.TempPath))
	} else {
		o.logger.Info("recording staged", zap.String("path", take.TempPath), zap.Duration("elapsed", take.Elapsed))
	}
}

// Pending returns the staged take, if any.
func (o *Orchestrator) Pending() (Pending, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return Pending{}, false
	}
	p := Pending{
		TempPath:  o.pending.TempPath,
		StartedAt: o.pending.StartedAt,
		Elapsed:   o.pending.Elapsed.Seconds(),
	}
	if o.pending.Err != nil {
		p.Error = o.pending.Err.Error()
	}
	return p, true
}

func (d *Draft) normalize() (models.Category, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.SenderID = strings.TrimSpace(d.SenderID)
	d.RecipientID = strings.TrimSpace(d.RecipientID)
	switch {
	case d.SenderID == "":
		return "", fmt.Errorf("%w: sender required", ErrInvalidDraft)
	case d.RecipientID == "":
		return "", fmt.Errorf("%w: recipient required", ErrInvalidDraft)
	case d.Title == "":
		return "", fmt.Errorf("%w: title required", ErrInvalidDraft)
	}
	raw := d.Category
	if strings.TrimSpace(raw) == "" {
		raw = string(models.CategoryGeneral)
	}
	category, err := models.ParseCategory(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return category, nil
}

// Commit moves the staged take into the media library and inserts a message.
// On failure the take stays staged and its file stays at the temp path.
func (o *Orchestrator) Commit(ctx context.Context, draft Draft) (*models.VideoMessage, error) {
	category, err := draft.normalize()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	take := o.pending
	if take == nil {
		return nil, ErrNoPendingRecording
	}
	if take.TempPath == "" || !fileExists(take.TempPath) {
		o.count("failed")
		return nil, fmt.Errorf("%w: %s", ErrTempFileMissing, take.TempPath)
	}

	ref, err := o.library.Import(take.TempPath)
	if err != nil {
		o.count("failed")
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrTempFileMissing, err)
		}
		return nil, fmt.Errorf("move recording: %w", err)
	}

	msg := &models.VideoMessage{
		SenderID:        draft.SenderID,
		RecipientID:     draft.RecipientID,
		Title:           draft.Title,
		Body:            draft.Body,
		MediaRef:        ref,
		DurationSeconds: o.duration(ctx, ref, take),
		CreatedAt:       o.now().UTC(),
		Category:        category,
	}
	if err := o.store.Insert(ctx, msg); err != nil {
		if rerr := o.library.Restore(ref, take.TempPath); rerr != nil {
			o.logger.Error("restore recording after failed insert", zap.Error(rerr),
				zap.String("media_ref", ref), zap.String("path", take.TempPath))
		}
		o.count("failed")
		return nil, fmt.Errorf("insert message: %w", err)
	}
	o.pending = nil

	o.count("committed")
	if o.metrics != nil {
		o.metrics.MessageDurations.Observe(msg.DurationSeconds)
	}
	o.logger.Info("message committed",
		zap.String("message_id", msg.ID.String()),
		zap.String("recipient_id", msg.RecipientID),
		zap.String("category", string(msg.Category)),
		zap.Float64("duration_seconds", msg.DurationSeconds))

	o.afterCommit(ctx, msg)
	return msg, nil
}

// duration prefers the probed container duration and falls back to the
// elapsed recording time.
func (o *Orchestrator) duration(ctx context.Context, ref string, take *recording.Take) float64 {
	fallback := take.Elapsed.Seconds()
	if fallback < 0 {
		fallback = 0
	}
	if o.prober == nil {
		return fallback
	}
	p, err := o.library.Path(ref)
	if err != nil {
		return fallback
	}
	d, err := o.prober.Duration(ctx, p)
	if err != nil {
		o.logger.Debug("probe duration failed, using elapsed time", zap.Error(err))
		return fallback
	}
	return d
}

func (o *Orchestrator) afterCommit(ctx context.Context, msg *models.VideoMessage) {
	if o.archive != nil {
		err := o.archive.EnqueueMessageArchive(ctx, queue.MessageArchivePayload{
			MessageID:   msg.ID,
			RecipientID: msg.RecipientID,
			MediaRef:    msg.MediaRef,
		})
		if err != nil {
			o.logger.Warn("enqueue archive job failed", zap.Error(err), zap.String("message_id", msg.ID.String()))
		}
	}
	if o.notify != nil {
		o.notify.NotifyUser(msg.RecipientID, realtime.EventVideoMessage, msg)
		if n, err := o.store.UnviewedCountFor(ctx, msg.RecipientID); err == nil {
			o.notify.NotifyUser(msg.RecipientID, realtime.EventUnviewedCount, map[string]int{"unviewed_count": n})
		}
	}
}

// Discard deletes the staged temp file and clears the pending take. Calling it
// with nothing staged is a no-op.
func (o *Orchestrator) Discard() {
	o.mu.Lock()
	take := o.pending
	o.pending = nil
	o.mu.Unlock()
	if take == nil {
		return
	}
	o.removeTemp(take.TempPath)
	o.count("discarded")
	o.logger.Info("recording discarded", zap.String("path", take.TempPath))
}

func (o *Orchestrator) removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn("remove temp recording failed", zap.Error(err), zap.String("path", path))
	}
}

func (o *Orchestrator) count(outcome string) {
	if o.metrics != nil {
		o.metrics.Deliveries.WithLabelValues(outcome).Inc()
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func usableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
