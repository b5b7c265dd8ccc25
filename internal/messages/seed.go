package messages

import (
	"time"

	"github.com/google/uuid"

	"github.com/trainermatch/backend/internal/models"
)

const (
	DemoTrainerID = "trainer-demo"
	DemoClientID  = "client-demo"
)

// DemoMessages is the fixed bootstrap set used when no stored data can be read.
// Timestamps are relative to now so the inbox looks recent.
func DemoMessages(now time.Time) []models.VideoMessage {
	now = now.UTC().Truncate(time.Second)
	viewedAt := now.Add(-20 * time.Hour)
	return []models.VideoMessage{
		{
			ID:              uuid.MustParse("6f1c2a9e-0d4b-4c61-9a55-1e7d3f0b8a01"),
			SenderID:        DemoTrainerID,
			RecipientID:     DemoClientID,
			Title:           "Welcome to your program",
			Body:            "Here's how the first four weeks are laid out.",
			MediaRef:        "demo-welcome.mp4",
			DurationSeconds: 62,
			CreatedAt:       now.Add(-72 * time.Hour),
			Category:        models.CategoryGeneral,
			Viewed:          true,
			ViewedAt:        &viewedAt,
		},
		{
			ID:              uuid.MustParse("6f1c2a9e-0d4b-4c61-9a55-1e7d3f0b8a02"),
			SenderID:        DemoTrainerID,
			RecipientID:     DemoClientID,
			Title:           "Squat depth",
			Body:            "Watch your knees on the way down; sit back a little more.",
			MediaRef:        "demo-squat.mp4",
			DurationSeconds: 38.5,
			CreatedAt:       now.Add(-26 * time.Hour),
			Category:        models.CategoryFormCorrection,
		},
		{
			ID:              uuid.MustParse("6f1c2a9e-0d4b-4c61-9a55-1e7d3f0b8a03"),
			SenderID:        DemoTrainerID,
			RecipientID:     DemoClientID,
			Title:           "Weekly Check-In",
			Body:            "Great consistency this week. Let's talk sleep.",
			MediaRef:        "demo-checkin.mp4",
			DurationSeconds: 45,
			CreatedAt:       now.Add(-2 * time.Hour),
			Category:        models.CategoryCheckIn,
		},
	}
}
