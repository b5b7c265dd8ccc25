package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the fixed classification of a video message's intent.
type Category string

const (
	CategoryProgressFeedback    Category = "progress-feedback"
	CategoryWorkoutInstructions Category = "workout-instructions"
	CategoryMotivational        Category = "motivational"
	CategoryCheckIn             Category = "check-in"
	CategoryFormCorrection      Category = "form-correction"
	CategoryGeneral             Category = "general"
)

// ErrUnknownCategory is returned when a category string is outside the fixed set.
var ErrUnknownCategory = errors.New("unknown message category")

// Categories lists every category in display order.
var Categories = []Category{
	CategoryProgressFeedback,
	CategoryWorkoutInstructions,
	CategoryMotivational,
	CategoryCheckIn,
	CategoryFormCorrection,
	CategoryGeneral,
}

// ParseCategory maps a raw string onto the closed category set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// VideoMessage is a committed trainer-to-client recording.
// ViewedAt is non-nil if and only if Viewed is true.
type VideoMessage struct {
	ID              uuid.UUID  `json:"id"`
	SenderID        string     `json:"sender_id"`
	RecipientID     string     `json:"recipient_id"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	MediaRef        string     `json:"media_ref"`
	DurationSeconds float64    `json:"duration_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
	Category        Category   `json:"category"`
	Viewed          bool       `json:"viewed"`
	ViewedAt        *time.Time `json:"viewed_at,omitempty"`
	ArchiveKey      string     `json:"archive_key,omitempty"`
}

// MarkViewed sets the viewed flag once. It reports whether anything changed.
func (m *VideoMessage) MarkViewed(at time.Time) bool {
	if m.Viewed {
		return false
	}
	m.Viewed = true
	m.ViewedAt = &at
	return true
}
