// Package api is the HTTP client for the VoxJot server, used by the capture
// TUI and the calendar subcommands.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a running voxjot server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// SubmitResult summarizes a processed submission.
type SubmitResult struct {
	TranscriptionID string `json:"transcription_id"`
	ItemsCreated    int    `json:"items_created"`
}

// Item is one processed item as returned by the server.
type Item struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	ItemType  string  `json:"item_type"`
	DueDate   *string `json:"due_date"`
	Completed bool    `json:"completed"`
}

// SubmitNote sends a finalized transcript for processing.
func (c *Client) SubmitNote(transcript string) (*SubmitResult, error) {
	body, err := json.Marshal(map[string]string{"transcript": transcript})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.baseURL+"/api/notes", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("submit note: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed struct {
		Success bool          `json:"success"`
		Data    *SubmitResult `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !parsed.Success || parsed.Data == nil {
		return nil, fmt.Errorf("submission rejected")
	}
	return parsed.Data, nil
}

// RecentItems fetches the user's most recent items.
func (c *Client) RecentItems(limit int) ([]Item, error) {
	resp, err := c.http.Get(fmt.Sprintf("%s/api/items?limit=%d", c.baseURL, limit))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	}

	var parsed struct {
		Items []Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return parsed.Items, nil
}

// CalendarStatus reports whether the server has a connected calendar.
func (c *Client) CalendarStatus() (bool, error) {
	resp, err := c.http.Get(c.baseURL + "/api/calendar/status")
	if err != nil {
		return false, fmt.Errorf("calendar status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	}

	var parsed struct {
		Connected bool `json:"connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("parse response: %w", err)
	}
	return parsed.Connected, nil
}

// CalendarDisconnect clears the server's stored calendar credential.
func (c *Client) CalendarDisconnect() error {
	resp, err := c.http.Post(c.baseURL+"/api/calendar/disconnect", "application/json", nil)
	if err != nil {
		return fmt.Errorf("calendar disconnect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	}
	return nil
}
