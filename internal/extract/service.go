// Package extract turns a finalized transcript into validated item
// candidates using a structured-completion model. The model's output is
// treated as untrusted input: every candidate passes the validation pass in
// validate.go before it reaches persistence, and any failure of the model
// call collapses to a single fallback note preserving the raw transcript.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxjot/voxjot/internal/logging"
	"github.com/voxjot/voxjot/internal/store"
)

// Config holds the extraction model settings. It is passed in at
// construction; there is no package-level client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Service calls the completion model and validates its output.
type Service struct {
	cfg    Config
	client *http.Client
}

// CalendarDetail is the validated calendar payload of a calendar_event
// candidate.
type CalendarDetail struct {
	Summary         string
	Description     string
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
}

// ItemCandidate is one validated item proposed by the model, ready for
// persistence.
type ItemCandidate struct {
	Category   string
	Content    string
	ItemType   store.ItemType
	DueDate    *time.Time
	Confidence float64
	Calendar   *CalendarDetail
}

// New creates an extraction service from cfg.
func New(cfg Config) *Service {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{cfg: cfg, client: client}
}

// Extract decomposes transcript into validated item candidates. The returned
// slice is never empty: model failure, malformed output, or zero survivors
// of validation all produce the single fallback item. The error return is
// non-nil only when the transcript is blank or the context is already done,
// cases where not even the fallback applies.
func (s *Service) Extract(ctx context.Context, transcript string, existingCategories []string, nowUTC time.Time, userTimeZone string) ([]ItemCandidate, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("empty transcript")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := s.callModel(ctx, transcript, existingCategories, nowUTC, userTimeZone)
	if err != nil {
		logging.Warnf("extraction failed, using fallback: %v", err)
		return []ItemCandidate{fallbackItem(transcript)}, nil
	}

	validated := validateCandidates(items, nowUTC)
	if len(validated) == 0 {
		logging.Warnf("no valid items after validation, using fallback")
		return []ItemCandidate{fallbackItem(transcript)}, nil
	}

	return validated, nil
}

// fallbackItem preserves the raw transcript as a low-confidence note.
func fallbackItem(transcript string) ItemCandidate {
	return ItemCandidate{
		Category:   "General",
		Content:    transcript,
		ItemType:   store.ItemNote,
		Confidence: 0.1,
	}
}

// Wire types for the chat-completions API and the model's items schema.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type rawResponse struct {
	Items []rawItem `json:"items"`
}

type rawItem struct {
	Category      string       `json:"category"`
	Content       string       `json:"content"`
	ItemType      string       `json:"item_type"`
	DueDate       string       `json:"due_date"`
	Confidence    float64      `json:"confidence"`
	CalendarEvent *rawCalendar `json:"calendar_event"`
}

type rawCalendar struct {
	Summary         string `json:"summary"`
	Description     string `json:"description"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (s *Service) callModel(ctx context.Context, transcript string, existingCategories []string, nowUTC time.Time, userTimeZone string) ([]rawItem, error) {
	if s.cfg.APIKey == "" {
		return nil, fmt.Errorf("extraction API key not set")
	}

	reqBody := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(existingCategories, nowUTC, userTimeZone)},
			{Role: "user", Content: fmt.Sprintf("Please process this voice note: %q", transcript)},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling completion API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion API error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing completion response: %w", err)
	}
	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("empty completion response")
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(apiResp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parsing items JSON: %w", err)
	}
	if len(parsed.Items) == 0 {
		return nil, fmt.Errorf("no items in completion output")
	}

	return parsed.Items, nil
}

func systemPrompt(existingCategories []string, nowUTC time.Time, userTimeZone string) string {
	categoryList := "No existing categories - you can create new ones"
	if len(existingCategories) > 0 {
		categoryList = "Existing categories: " + strings.Join(existingCategories, ", ")
	}

	loc, err := time.LoadLocation(userTimeZone)
	if err != nil {
		loc = time.UTC
	}
	localTime := nowUTC.In(loc).Format("Monday, January 2, 2006 at 3:04:05 PM MST")

	var b strings.Builder
	fmt.Fprintf(&b, `You are an AI assistant that categorizes voice notes into actionable items.

Current date and time in user's timezone (%s): %s
Current UTC time: %s

IMPORTANT INSTRUCTIONS:
1. IDENTIFY ALL SEPARATE TASKS/ITEMS in the voice note - users often mention multiple things
2. CREATE SEPARATE ENTRIES for each distinct task/reminder/item
3. CATEGORIZE APPROPRIATELY - be specific and logical with categories

TIMEZONE RULES:
- When the user mentions times like "3pm" or "tomorrow at 3pm", they mean LOCAL TIME in %s
- Convert all times to UTC before returning them

CATEGORIZATION RULES:
- Doctor/medical appointments -> "Health" or "Medical"
- Shopping items -> "Shopping" or "Groceries"
- Work-related -> "Work" or a specific work category
- Family calls -> "Family"
- General appointments -> "Appointments"
- Bills/payments -> "Finance"
- Personal care -> "Personal"
- PREFER existing categories when appropriate, but CREATE NEW SPECIFIC ones when needed

%s

For EACH separate task/item, determine:
1. An appropriate category name (prefer existing categories when suitable)
2. Clean, actionable content (just the specific task, not combined items)
3. Item type: reminder, task, note, contact_action, or calendar_event
4. Due date if mentioned (ISO-8601 UTC, converted from the user's local time)
5. For calendar_event items only: a calendar_event object with summary,
   optional description, start_time, end_time (ISO-8601 UTC), and optional
   duration_minutes

Examples of MULTIPLE ITEMS:
- "Remind me to call mom tomorrow and buy groceries" = 2 items
- "Doctor appointment at 3pm and also pay bills" = 2 items
- "Buy milk, eggs, and bread" = 1 item (single shopping task)

Rules:
- ALWAYS look for multiple separate tasks
- Extract clear, actionable content for each item
- If no time is specified but a date is, assume 9:00 AM local time
- ALWAYS convert local times to UTC

Respond with valid JSON only:
{
  "items": [
    {
      "category": "string",
      "content": "string",
      "item_type": "reminder" | "task" | "note" | "contact_action" | "calendar_event",
      "due_date": "ISO string in UTC or null",
      "confidence": 0.0-1.0,
      "calendar_event": {
        "summary": "string",
        "description": "string or null",
        "start_time": "ISO string in UTC",
        "end_time": "ISO string in UTC",
        "duration_minutes": 60
      }
    }
  ]
}`,
		userTimeZone, localTime, nowUTC.UTC().Format(time.RFC3339),
		userTimeZone, categoryList)

	return b.String()
}
