package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/models"
)

const messageColumns = `id, sender_id, recipient_id, title, body, media_ref, duration_seconds,
	created_at, category, viewed, viewed_at, archive_key`

// PostgresStore persists messages in the video_messages table.
type PostgresStore struct {
	pool    *pgxpool.Pool
	remover MediaRemover
	logger  *zap.Logger
}

// NewPostgresStore creates a store on an already migrated pool.
func NewPostgresStore(pool *pgxpool.Pool, remover MediaRemover, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, remover: remover, logger: logger}
}

func scanMessage(row pgx.Row) (*models.VideoMessage, error) {
	var m models.VideoMessage
	var category string
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Title, &m.Body, &m.MediaRef, &m.DurationSeconds,
		&m.CreatedAt, &category, &m.Viewed, &m.ViewedAt, &m.ArchiveKey)
	if err != nil {
		return nil, err
	}
	m.Category = models.Category(category)
	return &m, nil
}

func (s *PostgresStore) Insert(ctx context.Context, msg *models.VideoMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := validate(msg); err != nil {
		return err
	}
	const q = `INSERT INTO video_messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q, msg.ID, msg.SenderID, msg.RecipientID, msg.Title, msg.Body, msg.MediaRef,
		msg.DurationSeconds, msg.CreatedAt, string(msg.Category), msg.Viewed, msg.ViewedAt, msg.ArchiveKey)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.VideoMessage, error) {
	const q = `SELECT ` + messageColumns + ` FROM video_messages WHERE id = $1`
	m, err := scanMessage(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM video_messages WHERE id = $1 RETURNING ` + messageColumns
	m, err := scanMessage(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}
	if s.remover != nil {
		if err := s.remover.RemoveMedia(ctx, *m); err != nil {
			s.logger.Warn("remove media failed", zap.Error(err), zap.String("message_id", id.String()))
		}
	}
	return nil
}

func (s *PostgresStore) MarkViewed(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE video_messages SET viewed = TRUE, viewed_at = NOW() WHERE id = $1 AND NOT viewed`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("mark viewed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	const q = `UPDATE video_messages SET archive_key = $1 WHERE id = $2`
	tag, err := s.pool.Exec(ctx, q, key, id)
	if err != nil {
		return fmt.Errorf("set archive key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MessagesFor(ctx context.Context, recipientID string) ([]models.VideoMessage, error) {
	const q = `SELECT ` + messageColumns + ` FROM video_messages
		WHERE recipient_id = $1 ORDER BY created_at DESC, seq DESC`
	return s.list(ctx, q, recipientID)
}

func (s *PostgresStore) MessagesForCategory(ctx context.Context, recipientID string, category models.Category) ([]models.VideoMessage, error) {
	const q = `SELECT ` + messageColumns + ` FROM video_messages
		WHERE recipient_id = $1 AND category = $2 ORDER BY created_at DESC, seq DESC`
	return s.list(ctx, q, recipientID, string(category))
}

func (s *PostgresStore) UnviewedCountFor(ctx context.Context, recipientID string) (int, error) {
	const q = `SELECT COUNT(*) FROM video_messages WHERE recipient_id = $1 AND NOT viewed`
	var n int
	if err := s.pool.QueryRow(ctx, q, recipientID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unviewed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) list(ctx context.Context, q string, args ...any) ([]models.VideoMessage, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	list := []models.VideoMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
