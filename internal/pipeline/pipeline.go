// Package pipeline drives a submitted transcript through extraction,
// category resolution, item persistence and best-effort calendar sync. It
// owns the transcription record's lifecycle and tolerates partial failure:
// one bad candidate never aborts the batch, and calendar trouble never rolls
// back an item.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voxjot/voxjot/internal/calendar"
	"github.com/voxjot/voxjot/internal/extract"
	"github.com/voxjot/voxjot/internal/logging"
	"github.com/voxjot/voxjot/internal/store"
)

// Extractor is the extraction collaborator. extract.Service satisfies it.
type Extractor interface {
	Extract(ctx context.Context, transcript string, existingCategories []string, nowUTC time.Time, userTimeZone string) ([]extract.ItemCandidate, error)
}

// EventCreator is the calendar collaborator. calendar.Service satisfies it.
type EventCreator interface {
	EnsureEvent(ctx context.Context, userID string, spec calendar.EventSpec) (string, error)
}

// CreatedItem describes one successfully persisted item.
type CreatedItem struct {
	ID              string         `json:"processed_item_id"`
	Category        string         `json:"category"`
	Content         string         `json:"content"`
	ItemType        store.ItemType `json:"item_type"`
	DueDate         *time.Time     `json:"due_date,omitempty"`
	Confidence      float64        `json:"confidence"`
	CalendarEventID string         `json:"calendar_event_id,omitempty"`
}

// Result is returned from Submit. Items holds only the candidates that were
// actually persisted; skipped candidates are logged and omitted.
type Result struct {
	TranscriptionID string        `json:"transcription_id"`
	Items           []CreatedItem `json:"items"`
}

// Pipeline is the persistence orchestrator.
type Pipeline struct {
	store     *store.Store
	extractor Extractor
	calendar  EventCreator
	timezone  string
	now       func() time.Time
}

// New creates a pipeline. calendarSvc may be nil when no calendar
// integration is configured.
func New(st *store.Store, extractor Extractor, calendarSvc EventCreator, timezone string) *Pipeline {
	return &Pipeline{
		store:     st,
		extractor: extractor,
		calendar:  calendarSvc,
		timezone:  timezone,
		now:       time.Now,
	}
}

// Submit runs the full transcript-to-items pipeline for one utterance.
func (p *Pipeline) Submit(ctx context.Context, userID, transcript string) (*Result, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, fmt.Errorf("empty transcript")
	}

	trans, err := p.store.CreateTranscription(userID, transcript)
	if err != nil {
		return nil, fmt.Errorf("save transcription: %w", err)
	}

	categoryNames, err := p.store.CategoryNames(userID)
	if err != nil {
		// Extraction can proceed without the hint list.
		logging.Warnf("loading categories for user %s: %v", userID, err)
		categoryNames = nil
	}

	candidates, err := p.extractor.Extract(ctx, transcript, categoryNames, p.now().UTC(), p.timezone)
	if err != nil {
		if markErr := p.store.MarkTranscriptionError(trans.ID); markErr != nil {
			logging.Errorf("marking transcription %s failed: %v", trans.ID, markErr)
		}
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	result := &Result{TranscriptionID: trans.ID}
	var contents []string

	for _, cand := range candidates {
		created, err := p.persistCandidate(ctx, userID, trans.ID, cand)
		if err != nil {
			logging.Warnf("skipping candidate %q: %v", cand.Content, err)
			continue
		}
		result.Items = append(result.Items, *created)
		contents = append(contents, created.Content)
	}

	if err := p.store.CompleteTranscription(trans.ID, strings.Join(contents, "; ")); err != nil {
		logging.Errorf("completing transcription %s: %v", trans.ID, err)
	}

	return result, nil
}

// persistCandidate resolves the category, inserts the item, and fires the
// best-effort calendar sync for calendar_event items.
func (p *Pipeline) persistCandidate(ctx context.Context, userID, transcriptionID string, cand extract.ItemCandidate) (*CreatedItem, error) {
	categoryID, err := p.store.ResolveCategory(userID, cand.Category)
	if err != nil {
		return nil, fmt.Errorf("resolve category: %w", err)
	}

	item := &store.ProcessedItem{
		UserID:          userID,
		TranscriptionID: transcriptionID,
		CategoryID:      categoryID,
		Content:         cand.Content,
		ItemType:        cand.ItemType,
		DueDate:         cand.DueDate,
	}
	if err := p.store.CreateItem(item); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	created := &CreatedItem{
		ID:         item.ID,
		Category:   cand.Category,
		Content:    cand.Content,
		ItemType:   cand.ItemType,
		DueDate:    cand.DueDate,
		Confidence: cand.Confidence,
	}

	if cand.ItemType == store.ItemCalendarEvent && cand.Calendar != nil {
		created.CalendarEventID = p.syncCalendarEvent(ctx, userID, item.ID, cand.Calendar)
	}

	return created, nil
}

// syncCalendarEvent creates the remote event. Its outcome never affects the
// persisted item; all failures are logged and swallowed here.
func (p *Pipeline) syncCalendarEvent(ctx context.Context, userID, itemID string, cal *extract.CalendarDetail) string {
	if p.calendar == nil {
		return ""
	}

	eventID, err := p.calendar.EnsureEvent(ctx, userID, calendar.EventSpec{
		Summary:     cal.Summary,
		Description: cal.Description,
		StartTime:   cal.StartTime,
		EndTime:     cal.EndTime,
		TimeZone:    p.timezone,
	})
	if err != nil {
		if errors.Is(err, calendar.ErrNotConnected) {
			logging.Debugf("calendar not connected for user %s, skipping event", userID)
		} else {
			logging.Warnf("calendar event for item %s failed: %v", itemID, err)
		}
		return ""
	}

	if err := p.store.SetItemCalendarEvent(userID, itemID, eventID); err != nil {
		logging.Warnf("recording calendar event id on item %s: %v", itemID, err)
	}
	return eventID
}
