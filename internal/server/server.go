// Package server exposes the pipeline and calendar integration over a local
// HTTP API. This is the inbound contract the capture client (and any other
// UI collaborator) talks to.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/voxjot/voxjot/internal/calendar"
	"github.com/voxjot/voxjot/internal/logging"
	"github.com/voxjot/voxjot/internal/pipeline"
	"github.com/voxjot/voxjot/internal/store"
)

// Server handles the VoxJot HTTP API. The user id is fixed by configuration;
// every storage query remains scoped by it.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	calendar *calendar.Service // nil when no calendar integration configured
	userID   string
}

// New creates a server. calendarSvc may be nil.
func New(p *pipeline.Pipeline, st *store.Store, calendarSvc *calendar.Service, userID string) *Server {
	return &Server{pipeline: p, store: st, calendar: calendarSvc, userID: userID}
}

// Handler returns the API routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/notes", s.handleSubmitNote)
	mux.HandleFunc("GET /api/items", s.handleListItems)
	mux.HandleFunc("POST /api/items/{id}/toggle", s.handleToggleItem)
	mux.HandleFunc("DELETE /api/items/{id}", s.handleDeleteItem)
	mux.HandleFunc("GET /api/calendar/status", s.handleCalendarStatus)
	mux.HandleFunc("GET /api/calendar/connect", s.handleCalendarConnect)
	mux.HandleFunc("GET /api/auth/google/callback", s.handleGoogleCallback)
	mux.HandleFunc("POST /api/calendar/disconnect", s.handleCalendarDisconnect)
	return mux
}

type submitRequest struct {
	Transcript string `json:"transcript"`
}

type submitResponse struct {
	Success bool        `json:"success"`
	Data    *submitData `json:"data,omitempty"`
}

type submitData struct {
	TranscriptionID string                 `json:"transcription_id"`
	ItemsCreated    int                    `json:"items_created"`
	Items           []pipeline.CreatedItem `json:"items"`
}

func (s *Server) handleSubmitNote(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "transcript must not be empty")
		return
	}

	result, err := s.pipeline.Submit(r.Context(), s.userID, req.Transcript)
	if err != nil {
		logging.Errorf("submit failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to process voice note")
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success: true,
		Data: &submitData{
			TranscriptionID: result.TranscriptionID,
			ItemsCreated:    len(result.Items),
			Items:           result.Items,
		},
	})
}

type itemView struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	ItemType  string  `json:"item_type"`
	DueDate   *string `json:"due_date,omitempty"`
	Completed bool    `json:"completed"`
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := s.store.ItemsForUser(s.userID, limit)
	if err != nil {
		logging.Errorf("list items: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load items")
		return
	}

	views := make([]itemView, 0, len(items))
	for _, item := range items {
		v := itemView{
			ID:        item.ID,
			Content:   item.Content,
			ItemType:  string(item.ItemType),
			Completed: item.Completed,
		}
		if item.DueDate != nil {
			due := item.DueDate.UTC().Format("2006-01-02T15:04:05Z07:00")
			v.DueDate = &due
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": views})
}

func (s *Server) handleToggleItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.ToggleItemCompleted(s.userID, id); err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteItem(s.userID, id); err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCalendarStatus(w http.ResponseWriter, r *http.Request) {
	connected := false
	if s.calendar != nil {
		var err error
		connected, err = s.calendar.Connected(s.userID)
		if err != nil {
			logging.Errorf("calendar status: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load calendar status")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": connected})
}

func (s *Server) handleCalendarConnect(w http.ResponseWriter, r *http.Request) {
	if s.calendar == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar integration not configured")
		return
	}
	http.Redirect(w, r, s.calendar.AuthURL(s.userID), http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.calendar == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar integration not configured")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}
	if state != s.userID {
		writeError(w, http.StatusBadRequest, "unknown state")
		return
	}

	if err := s.calendar.ExchangeCode(r.Context(), state, code); err != nil {
		logging.Errorf("google callback: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to connect calendar")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Google Calendar connected. You can close this window.")
}

func (s *Server) handleCalendarDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.calendar == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar integration not configured")
		return
	}
	if err := s.calendar.Disconnect(s.userID); err != nil {
		logging.Errorf("calendar disconnect: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect calendar")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
