package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/models"
)

// FileStore keeps the collection in memory and rewrites a JSON file after
// every mutation. A failed write rolls the mutation back.
type FileStore struct {
	path    string
	remover MediaRemover
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	msgs []models.VideoMessage // insertion order
}

// OpenFileStore loads path. Missing or unreadable data yields an empty store,
// or the demo set when seed is true. remover may be nil.
func OpenFileStore(path string, seed bool, remover MediaRemover, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{path: path, remover: remover, logger: logger, now: time.Now}
	msgs, err := s.load()
	switch {
	case err == nil:
		s.msgs = msgs
		logger.Info("message store loaded", zap.String("path", path), zap.Int("count", len(msgs)))
	case seed:
		s.msgs = DemoMessages(s.now())
		logger.Warn("message store unreadable, using demo set", zap.String("path", path), zap.Error(err))
	default:
		logger.Warn("message store unreadable, starting empty", zap.String("path", path), zap.Error(err))
	}
	return s
}

func (s *FileStore) load() ([]models.VideoMessage, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var msgs []models.VideoMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	seen := make(map[uuid.UUID]struct{}, len(msgs))
	for i := range msgs {
		if _, dup := seen[msgs[i].ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, msgs[i].ID)
		}
		seen[msgs[i].ID] = struct{}{}
		if err := validate(&msgs[i]); err != nil {
			return nil, fmt.Errorf("record %s: %w", msgs[i].ID, err)
		}
	}
	return msgs, nil
}

// save writes the whole collection to a temp file and renames it into place.
func (s *FileStore) save() error {
	raw, err := json.MarshalIndent(s.msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".messages-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func (s *FileStore) indexLocked(id uuid.UUID) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *FileStore) Insert(_ context.Context, msg *models.VideoMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	if err := validate(msg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(msg.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	s.msgs = append(s.msgs, *msg)
	if err := s.save(); err != nil {
		s.msgs = s.msgs[:len(s.msgs)-1]
		return fmt.Errorf("persist insert: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id uuid.UUID) (*models.VideoMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	msg := s.msgs[i]
	return &msg, nil
}

func (s *FileStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	prev := s.msgs
	removed := prev[i]
	next := make([]models.VideoMessage, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	s.msgs = append(next, prev[i+1:]...)
	if err := s.save(); err != nil {
		s.msgs = prev
		s.mu.Unlock()
		return fmt.Errorf("persist delete: %w", err)
	}
	s.mu.Unlock()

	if s.remover != nil {
		if err := s.remover.RemoveMedia(ctx, removed); err != nil {
			s.logger.Warn("remove media failed", zap.Error(err), zap.String("message_id", id.String()))
		}
	}
	return nil
}

func (s *FileStore) MarkViewed(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	prev := s.msgs[i]
	if !s.msgs[i].MarkViewed(s.now().UTC()) {
		return false, nil
	}
	if err := s.save(); err != nil {
		s.msgs[i] = prev
		return false, fmt.Errorf("persist viewed: %w", err)
	}
	return true, nil
}

func (s *FileStore) SetArchiveKey(_ context.Context, id uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	prev := s.msgs[i].ArchiveKey
	s.msgs[i].ArchiveKey = key
	if err := s.save(); err != nil {
		s.msgs[i].ArchiveKey = prev
		return fmt.Errorf("persist archive key: %w", err)
	}
	return nil
}

func (s *FileStore) MessagesFor(_ context.Context, recipientID string) ([]models.VideoMessage, error) {
	return s.filter(func(m *models.VideoMessage) bool { return m.RecipientID == recipientID }), nil
}

func (s *FileStore) MessagesForCategory(_ context.Context, recipientID string, category models.Category) ([]models.VideoMessage, error) {
	return s.filter(func(m *models.VideoMessage) bool {
		return m.RecipientID == recipientID && m.Category == category
	}), nil
}

func (s *FileStore) UnviewedCountFor(_ context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.msgs {
		if s.msgs[i].RecipientID == recipientID && !s.msgs[i].Viewed {
			n++
		}
	}
	return n, nil
}

func (s *FileStore) filter(keep func(*models.VideoMessage) bool) []models.VideoMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.VideoMessage
	for i := range s.msgs {
		if keep(&s.msgs[i]) {
			matched = append(matched, s.msgs[i])
		}
	}
	return newestFirst(matched)
}

var _ Store = (*FileStore)(nil)
