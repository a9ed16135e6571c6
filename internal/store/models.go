// Package store provides SQLite persistence for transcriptions, categories,
// processed items and calendar credentials. Every query is scoped by user id.
package store

import "time"

// TranscriptionStatus tracks a transcription through the pipeline.
type TranscriptionStatus string

const (
	StatusProcessing TranscriptionStatus = "processing"
	StatusCompleted  TranscriptionStatus = "completed"
	StatusError      TranscriptionStatus = "error"
)

// ItemType classifies a processed item.
type ItemType string

const (
	ItemReminder      ItemType = "reminder"
	ItemTask          ItemType = "task"
	ItemNote          ItemType = "note"
	ItemContactAction ItemType = "contact_action"
	ItemCalendarEvent ItemType = "calendar_event"
)

// ValidItemType reports whether s is a known item type.
func ValidItemType(s string) bool {
	switch ItemType(s) {
	case ItemReminder, ItemTask, ItemNote, ItemContactAction, ItemCalendarEvent:
		return true
	}
	return false
}

// Transcription is one submitted utterance and its processing state.
type Transcription struct {
	ID            string
	UserID        string
	OriginalText  string
	ProcessedText *string
	Status        TranscriptionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Category groups processed items. Name is unique per user.
type Category struct {
	ID          string
	UserID      string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProcessedItem is one validated, categorized action item extracted from a
// transcription. TranscriptionID is a back-reference, not ownership.
type ProcessedItem struct {
	ID              string
	UserID          string
	TranscriptionID string
	CategoryID      string
	Content         string
	ItemType        ItemType
	DueDate         *time.Time
	CalendarEventID *string
	Completed       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CalendarCredential is the per-user calendar OAuth state. One row per user.
type CalendarCredential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiryMillis int64
	Connected    bool
	UpdatedAt    time.Time
}
