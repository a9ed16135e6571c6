package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxjot/voxjot/internal/store"
)

// newModelServer returns an httptest server that answers every chat
// completion with the given items JSON as the assistant message content.
func newModelServer(t *testing.T, itemsJSON string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": itemsJSON}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newService(baseURL string) *Service {
	return New(Config{APIKey: "test-key", Model: "test-model", BaseURL: baseURL})
}

func TestExtractDecomposesMultipleItems(t *testing.T) {
	itemsJSON := `{"items": [
		{"category": "Family", "content": "Call mom", "item_type": "reminder",
		 "due_date": "2026-03-02T15:00:00Z", "confidence": 0.9},
		{"category": "Shopping", "content": "Buy groceries", "item_type": "task",
		 "due_date": null, "confidence": 0.85}
	]}`
	srv := newModelServer(t, itemsJSON)
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cands, err := newService(srv.URL).Extract(context.Background(),
		"remind me to call mom tomorrow at 3pm and buy groceries",
		[]string{"Family"}, now, "America/New_York")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].Category != "Family" || cands[0].ItemType != store.ItemReminder {
		t.Errorf("cands[0] = %+v", cands[0])
	}
	if cands[0].DueDate == nil {
		t.Error("cands[0] should keep its due date")
	}
	if cands[1].Content != "Buy groceries" || cands[1].DueDate != nil {
		t.Errorf("cands[1] = %+v", cands[1])
	}
}

func TestExtractCalendarEvent(t *testing.T) {
	itemsJSON := `{"items": [
		{"category": "Work", "content": "Team sync with Dana", "item_type": "calendar_event",
		 "confidence": 0.95,
		 "calendar_event": {
			"summary": "Team sync",
			"description": "Weekly sync with Dana",
			"start_time": "2026-03-03T14:00:00Z",
			"end_time": "2026-03-03T14:30:00Z",
			"duration_minutes": 30
		 }}
	]}`
	srv := newModelServer(t, itemsJSON)
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cands, err := newService(srv.URL).Extract(context.Background(),
		"team sync with Dana on Tuesday at 2", nil, now, "UTC")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	cal := cands[0].Calendar
	if cal == nil {
		t.Fatal("calendar detail missing")
	}
	if cal.Summary != "Team sync" {
		t.Errorf("summary = %q", cal.Summary)
	}
	if cal.DurationMinutes != 30 {
		t.Errorf("duration = %d, want 30", cal.DurationMinutes)
	}
}

func TestExtractFallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	cands, err := newService(srv.URL).Extract(context.Background(),
		"remember to water the plants", nil, time.Now().UTC(), "UTC")
	if err != nil {
		t.Fatalf("extract should not fail, got %v", err)
	}

	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1 fallback", len(cands))
	}
	fb := cands[0]
	if fb.Category != "General" || fb.ItemType != store.ItemNote {
		t.Errorf("fallback = %+v", fb)
	}
	if fb.Content != "remember to water the plants" {
		t.Errorf("fallback content = %q, want the raw transcript", fb.Content)
	}
	if fb.Confidence != 0.1 {
		t.Errorf("fallback confidence = %v, want 0.1", fb.Confidence)
	}
}

func TestExtractFallbackOnMalformedOutput(t *testing.T) {
	srv := newModelServer(t, "I could not find any items, sorry!")
	defer srv.Close()

	cands, err := newService(srv.URL).Extract(context.Background(),
		"do the laundry", nil, time.Now().UTC(), "UTC")
	if err != nil {
		t.Fatalf("extract should not fail, got %v", err)
	}
	if len(cands) != 1 || cands[0].ItemType != store.ItemNote {
		t.Fatalf("candidates = %+v, want single fallback note", cands)
	}
}

func TestExtractFallbackWhenAllCandidatesInvalid(t *testing.T) {
	itemsJSON := `{"items": [
		{"category": "", "content": "", "item_type": "mystery", "confidence": 0.5}
	]}`
	srv := newModelServer(t, itemsJSON)
	defer srv.Close()

	cands, err := newService(srv.URL).Extract(context.Background(),
		"mumble mumble", nil, time.Now().UTC(), "UTC")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(cands) != 1 || cands[0].Content != "mumble mumble" {
		t.Fatalf("candidates = %+v, want single fallback", cands)
	}
}

func TestExtractRejectsBlankTranscript(t *testing.T) {
	if _, err := newService("http://unused").Extract(context.Background(), "   ", nil, time.Now().UTC(), "UTC"); err == nil {
		t.Error("expected error for blank transcript")
	}
}

func TestExtractHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newService("http://unused").Extract(ctx, "buy milk", nil, time.Now().UTC(), "UTC"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestExtractFallbackWithoutAPIKey(t *testing.T) {
	svc := New(Config{Model: "test-model", BaseURL: "http://unused"})
	cands, err := svc.Extract(context.Background(), "note to self", nil, time.Now().UTC(), "UTC")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(cands) != 1 || cands[0].Confidence != 0.1 {
		t.Fatalf("candidates = %+v, want fallback", cands)
	}
}
