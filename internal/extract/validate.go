package extract

import (
	"time"

	"github.com/voxjot/voxjot/internal/logging"
	"github.com/voxjot/voxjot/internal/store"
)

// Due dates outside this window around now are discarded (the item is kept).
const (
	dueDatePastWindow   = 30 * 24 * time.Hour
	dueDateFutureWindow = 365 * 24 * time.Hour
)

// validateCandidates applies the mandatory validation pass to the model's
// raw items. Candidates missing required fields are dropped; recoverable
// problems (bad due date, broken calendar payload) degrade the item instead
// of discarding it.
func validateCandidates(raw []rawItem, nowUTC time.Time) []ItemCandidate {
	var out []ItemCandidate
	for _, item := range raw {
		if item.Category == "" || item.Content == "" || !store.ValidItemType(item.ItemType) {
			logging.Warnf("skipping invalid candidate: category=%q itemType=%q", item.Category, item.ItemType)
			continue
		}

		cand := ItemCandidate{
			Category:   item.Category,
			Content:    item.Content,
			ItemType:   store.ItemType(item.ItemType),
			Confidence: clampConfidence(item.Confidence),
		}

		if item.DueDate != "" && item.DueDate != "null" {
			if due, ok := sanitizeDueDate(item.DueDate, nowUTC); ok {
				cand.DueDate = &due
			}
		}

		if cand.ItemType == store.ItemCalendarEvent {
			cal, ok := validateCalendar(item.CalendarEvent)
			if !ok {
				// Unusable calendar payload: keep the item as a reminder.
				logging.Warnf("downgrading calendar_event to reminder: unparseable payload")
				cand.ItemType = store.ItemReminder
			} else {
				cand.Calendar = cal
			}
		}

		out = append(out, cand)
	}
	return out
}

// sanitizeDueDate parses s and checks it lies within [now-30d, now+365d].
// Out-of-window or unparseable dates are dropped, not the item.
func sanitizeDueDate(s string, nowUTC time.Time) (time.Time, bool) {
	due, err := parseTimestamp(s)
	if err != nil {
		logging.Warnf("dropping unparseable due date %q", s)
		return time.Time{}, false
	}
	if due.Before(nowUTC.Add(-dueDatePastWindow)) {
		logging.Warnf("dropping due date too far in the past: %s", s)
		return time.Time{}, false
	}
	if due.After(nowUTC.Add(dueDateFutureWindow)) {
		logging.Warnf("dropping due date too far in the future: %s", s)
		return time.Time{}, false
	}
	return due.UTC(), true
}

// validateCalendar checks the calendar payload. Both times must parse; a
// start at or after the end is repaired to a 60-minute window.
func validateCalendar(raw *rawCalendar) (*CalendarDetail, bool) {
	if raw == nil || raw.Summary == "" {
		return nil, false
	}

	start, err := parseTimestamp(raw.StartTime)
	if err != nil {
		return nil, false
	}
	end, err := parseTimestamp(raw.EndTime)
	if err != nil {
		return nil, false
	}

	duration := raw.DurationMinutes
	if !start.Before(end) {
		end = start.Add(60 * time.Minute)
		duration = 60
	}

	return &CalendarDetail{
		Summary:         raw.Summary,
		Description:     raw.Description,
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
		DurationMinutes: duration,
	}, true
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
