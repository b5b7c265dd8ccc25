package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/messages"
	"github.com/trainermatch/backend/internal/metrics"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/pkg/queue"
	"github.com/trainermatch/backend/pkg/storage"
)

// Uploader is the object storage the archive is written to.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	UploadRecordingsBucket() string
}

// MessageStore is the part of the message store the worker updates.
type MessageStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.VideoMessage, error)
	SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error
}

// MediaOpener opens committed media by reference.
type MediaOpener interface {
	Open(ref string) (*os.File, error)
}

// JobSource yields archive jobs and takes back failed ones.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveProcessor copies committed message media to S3 and records the object key.
type ArchiveProcessor struct {
	store      MessageStore
	media      MediaOpener
	s3         Uploader
	queue      JobSource
	metrics    *metrics.Metrics
	logger     *zap.Logger
	maxTries   uint
	retryDelay time.Duration
}

// NewArchiveProcessor creates an archive processor. m may be nil.
func NewArchiveProcessor(store MessageStore, media MediaOpener, s3 Uploader, q JobSource, m *metrics.Metrics, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{
		store:      store,
		media:      media,
		s3:         s3,
		queue:      q,
		metrics:    m,
		logger:     logger,
		maxTries:   3,
		retryDelay: queue.RetryBackoff,
	}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeMessageArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.MessageArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	msg, err := p.store.Get(ctx, payload.MessageID)
	if errors.Is(err, messages.ErrNotFound) {
		p.logger.Info("message deleted before archive", zap.String("message_id", payload.MessageID.String()))
		p.observe("skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.ArchiveKey != "" {
		p.logger.Info("message already archived", zap.String("message_id", msg.ID.String()))
		p.observe("skipped")
		return nil
	}

	key := storage.MessageKey(msg.RecipientID, msg.ID.String())
	bucket := p.s3.UploadRecordingsBucket()
	operation := func() (string, error) {
		f, err := p.media.Open(msg.MediaRef)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("open media: %w", err))
		}
		defer f.Close()
		var size int64
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		return p.s3.Upload(ctx, bucket, key, "video/mp4", f, size)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(p.maxTries)); err != nil {
		p.observe("failed")
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.store.SetArchiveKey(ctx, msg.ID, key); err != nil {
		if errors.Is(err, messages.ErrNotFound) {
			p.logger.Info("message deleted during archive", zap.String("message_id", msg.ID.String()), zap.String("s3_key", key))
			if derr := p.s3.DeleteObject(ctx, bucket, key); derr != nil {
				p.logger.Warn("delete orphaned archive object failed", zap.Error(derr), zap.String("s3_key", key))
			}
			p.observe("skipped")
			return nil
		}
		p.observe("failed")
		return fmt.Errorf("update archive key: %w", err)
	}

	p.observe("completed")
	p.logger.Info("message archived", zap.String("message_id", msg.ID.String()), zap.String("s3_key", key))
	return nil
}

func (p *ArchiveProcessor) observe(status string) {
	if p.metrics != nil {
		p.metrics.ArchiveJobs.WithLabelValues(status).Inc()
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.wait(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.wait(ctx)
		}
	}
}

func (p *ArchiveProcessor) wait(ctx context.Context) {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
