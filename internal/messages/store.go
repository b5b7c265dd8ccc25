package messages

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/trainermatch/backend/internal/models"
)

var (
	ErrNotFound    = errors.New("message not found")
	ErrDuplicateID = errors.New("message id already exists")
	ErrInvalid     = errors.New("invalid message")
)

// Store is the durable collection of video messages. Query results are newest
// first; among equal timestamps the later insert comes first.
type Store interface {
	Insert(ctx context.Context, msg *models.VideoMessage) error
	Get(ctx context.Context, id uuid.UUID) (*models.VideoMessage, error)
	// Delete removes the record and its media. Unknown ids return ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
	// MarkViewed reports whether the message changed. Absent or already viewed
	// messages are left untouched.
	MarkViewed(ctx context.Context, id uuid.UUID) (bool, error)
	MessagesFor(ctx context.Context, recipientID string) ([]models.VideoMessage, error)
	MessagesForCategory(ctx context.Context, recipientID string, category models.Category) ([]models.VideoMessage, error)
	UnviewedCountFor(ctx context.Context, recipientID string) (int, error)
	SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error
}

// MediaRemover deletes the media a message refers to.
type MediaRemover interface {
	RemoveMedia(ctx context.Context, msg models.VideoMessage) error
}

// validate checks the fields every backend requires before insert.
func validate(msg *models.VideoMessage) error {
	switch {
	case msg.SenderID == "":
		return fmt.Errorf("%w: sender required", ErrInvalid)
	case msg.RecipientID == "":
		return fmt.Errorf("%w: recipient required", ErrInvalid)
	case msg.MediaRef == "":
		return fmt.Errorf("%w: media reference required", ErrInvalid)
	case msg.DurationSeconds < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	case !msg.Category.Valid():
		return fmt.Errorf("%w: %v", ErrInvalid, models.ErrUnknownCategory)
	case msg.Viewed != (msg.ViewedAt != nil):
		return fmt.Errorf("%w: viewed_at must be set exactly when viewed", ErrInvalid)
	}
	return nil
}

// newestFirst orders msgs (given in insertion order) by CreatedAt descending,
// later inserts first on ties.
func newestFirst(msgs []models.VideoMessage) []models.VideoMessage {
	out := make([]models.VideoMessage, len(msgs))
	for i := range msgs {
		out[len(msgs)-1-i] = msgs[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
