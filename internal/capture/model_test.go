package capture

import (
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/voxjot/voxjot/internal/api"
	"github.com/voxjot/voxjot/internal/recognizer"
)

type fakeEngine struct {
	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (e *fakeEngine) Start(locale string) (recognizer.Response, error) {
	return recognizer.Response{OK: true, SessionID: "sess-1"}, nil
}

func (e *fakeEngine) Stop() (recognizer.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return recognizer.Response{OK: true}, nil
}

func (e *fakeEngine) ReadEvent() (recognizer.Event, error) {
	return recognizer.Event{Event: recognizer.EventEnd}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) torndown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeServer struct {
	mu        sync.Mutex
	submitted []string
	result    *api.SubmitResult
	submitErr error
	items     []api.Item
	connected bool
}

func (s *fakeServer) SubmitNote(transcript string) (*api.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, transcript)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &api.SubmitResult{TranscriptionID: "t-1", ItemsCreated: 1}, nil
}

func (s *fakeServer) RecentItems(limit int) ([]api.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items, nil
}

func (s *fakeServer) CalendarStatus() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, nil
}

func (s *fakeServer) submissions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submitted...)
}

// runCmd executes a command tree synchronously and collects the produced
// messages. Only safe for commands that settle immediately (no ticks).
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, c := range batch {
			msgs = append(msgs, runCmd(c)...)
		}
		return msgs
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func pressSpace(m Model) (Model, tea.Cmd) {
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace})
	return updated.(Model), cmd
}

// recordingModel returns a model mid-recording with its engine attached.
func recordingModel(t *testing.T, srv Submitter) (Model, *fakeEngine) {
	t.Helper()

	eng := &fakeEngine{}
	m := New(func() (recognizer.Engine, error) { return eng, nil }, srv, "en-US")
	m.width = 80
	m.height = 24

	m, _ = pressSpace(m)
	if m.state != StateRecording {
		t.Fatalf("state = %v, want recording", m.state)
	}

	updated, cmd := m.Update(engineStartedMsg{Seq: m.captureSeq, Engine: eng})
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("engine start should schedule an event read")
	}
	return m, eng
}

func event(m Model, ev recognizer.Event) Model {
	updated, _ := m.Update(engineEventMsg{Seq: m.captureSeq, Event: ev})
	return updated.(Model)
}

func TestNewModelIdle(t *testing.T) {
	m := New(nil, &fakeServer{}, "en-US")
	if m.state != StateIdle {
		t.Errorf("state = %v, want idle", m.state)
	}
	if m.captureSeq != 0 {
		t.Errorf("captureSeq = %d, want 0", m.captureSeq)
	}
}

func TestTranscriptAssembly(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})

	m = event(m, recognizer.Event{Event: recognizer.EventPartial, Text: "call"})
	if m.livePreview() != "call" {
		t.Errorf("preview = %q", m.livePreview())
	}

	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "call mom "})
	m = event(m, recognizer.Event{Event: recognizer.EventPartial, Text: "tom"})
	if m.livePreview() != "call mom tom" {
		t.Errorf("preview = %q, want %q", m.livePreview(), "call mom tom")
	}

	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "tomorrow"})
	if m.committedTranscript() != "call mom tomorrow" {
		t.Errorf("committed = %q, want %q", m.committedTranscript(), "call mom tomorrow")
	}

	// A pending interim fragment never joins the committed buffer.
	m = event(m, recognizer.Event{Event: recognizer.EventPartial, Text: " and also"})
	if m.committedTranscript() != "call mom tomorrow" {
		t.Errorf("committed = %q, interim leaked in", m.committedTranscript())
	}
}

func TestStopSubmitsCommittedTranscript(t *testing.T) {
	srv := &fakeServer{}
	m, eng := recordingModel(t, srv)

	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "call mom "})
	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "tomorrow"})
	m = event(m, recognizer.Event{Event: recognizer.EventPartial, Text: " and"})

	m, cmd := pressSpace(m)
	if m.state != StateProcessing {
		t.Fatalf("state = %v, want processing", m.state)
	}
	if m.engine != nil {
		t.Error("engine reference must be dropped on stop")
	}

	runCmd(cmd)

	subs := srv.submissions()
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	if subs[0] != "call mom tomorrow" {
		t.Errorf("submitted %q, want %q", subs[0], "call mom tomorrow")
	}
	if !eng.torndown() {
		t.Error("engine should be closed after stop")
	}
}

func TestStopWithEmptyBufferReturnsIdle(t *testing.T) {
	srv := &fakeServer{}
	m, eng := recordingModel(t, srv)

	// Only an interim fragment; nothing committed.
	m = event(m, recognizer.Event{Event: recognizer.EventPartial, Text: "uh"})

	m, cmd := pressSpace(m)
	if m.state != StateIdle {
		t.Fatalf("state = %v, want idle", m.state)
	}

	runCmd(cmd)

	if len(srv.submissions()) != 0 {
		t.Error("empty capture must not be submitted")
	}
	if !eng.torndown() {
		t.Error("engine should still be closed")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	srv := &fakeServer{}
	m, _ := recordingModel(t, srv)

	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "buy milk"})

	m, cmd := pressSpace(m)
	runCmd(cmd)

	// The engine's terminal event lands after the manual stop.
	updated, cmd := m.Update(engineEventMsg{Seq: m.captureSeq, Event: recognizer.Event{Event: recognizer.EventEnd}})
	m = updated.(Model)
	runCmd(cmd)

	// A second space while processing is ignored too.
	m, cmd = pressSpace(m)
	runCmd(cmd)

	if got := len(srv.submissions()); got != 1 {
		t.Errorf("got %d submissions, want exactly 1", got)
	}
	if m.state != StateProcessing {
		t.Errorf("state = %v, want processing", m.state)
	}
}

func TestNaturalEndSubmits(t *testing.T) {
	srv := &fakeServer{}
	m, _ := recordingModel(t, srv)

	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "water the plants"})

	updated, cmd := m.Update(engineEventMsg{Seq: m.captureSeq, Event: recognizer.Event{Event: recognizer.EventEnd}})
	m = updated.(Model)
	if m.state != StateProcessing {
		t.Fatalf("state = %v, want processing", m.state)
	}

	runCmd(cmd)

	subs := srv.submissions()
	if len(subs) != 1 || subs[0] != "water the plants" {
		t.Errorf("submissions = %v", subs)
	}
}

func TestStaleEventsIgnored(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})

	// An event from a previous capture attempt.
	updated, _ := m.Update(engineEventMsg{Seq: m.captureSeq - 1, Event: recognizer.Event{Event: recognizer.EventFinal, Text: "ghost text"}})
	m = updated.(Model)

	if m.committedTranscript() != "" {
		t.Errorf("committed = %q, stale event applied", m.committedTranscript())
	}

	// A stale end event must not finalize the live attempt either.
	updated, _ = m.Update(engineEventMsg{Seq: m.captureSeq - 1, Event: recognizer.Event{Event: recognizer.EventEnd}})
	m = updated.(Model)
	if m.state != StateRecording {
		t.Errorf("state = %v, want still recording", m.state)
	}
}

func TestStaleEngineStartIsClosed(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})

	stale := &fakeEngine{}
	updated, _ := m.Update(engineStartedMsg{Seq: m.captureSeq - 1, Engine: stale})
	m = updated.(Model)

	if !stale.torndown() {
		t.Error("stale engine must be closed, not adopted")
	}
	if m.engine == stale {
		t.Error("stale engine adopted")
	}
}

func TestEngineStartFailure(t *testing.T) {
	m := New(nil, &fakeServer{}, "en-US")
	m.width = 80
	m.height = 24

	m, _ = pressSpace(m)
	updated, _ := m.Update(engineStartedMsg{Seq: m.captureSeq, Err: errors.New("daemon not running")})
	m = updated.(Model)

	if m.state != StateIdle {
		t.Errorf("state = %v, want idle", m.state)
	}
	if m.errorMessage == "" {
		t.Error("expected a visible error message")
	}
}

func TestSubmitSuccessThenDone(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})
	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "buy milk"})
	m, _ = pressSpace(m)

	updated, _ := m.Update(submitSettledMsg{Seq: m.captureSeq, Result: &api.SubmitResult{TranscriptionID: "t-1", ItemsCreated: 2}})
	m = updated.(Model)

	if m.state != StateDone {
		t.Fatalf("state = %v, want done", m.state)
	}
	if m.lastCreated != 2 {
		t.Errorf("lastCreated = %d, want 2", m.lastCreated)
	}

	updated, _ = m.Update(doneTickMsg{Seq: m.captureSeq})
	m = updated.(Model)
	if m.state != StateIdle {
		t.Errorf("state = %v, want idle after done tick", m.state)
	}
	if m.committedTranscript() != "" {
		t.Error("buffer should be cleared after the cycle completes")
	}
}

func TestSubmitFailureShowsTransientError(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})
	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "buy milk"})
	m, _ = pressSpace(m)

	updated, _ := m.Update(submitSettledMsg{Seq: m.captureSeq, Err: errors.New("server down")})
	m = updated.(Model)

	if m.state != StateDone {
		t.Errorf("state = %v, want done", m.state)
	}
	if m.errorMessage == "" {
		t.Error("expected a visible error message")
	}

	updated, _ = m.Update(clearErrorMsg{})
	m = updated.(Model)
	if m.errorMessage != "" {
		t.Error("error should clear")
	}
}

func TestEngineErrorResetsToIdle(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})

	updated, _ := m.Update(engineEventMsg{Seq: m.captureSeq, Event: recognizer.Event{Event: recognizer.EventError, Message: "mic lost"}})
	m = updated.(Model)

	if m.state != StateIdle {
		t.Errorf("state = %v, want idle", m.state)
	}
	if m.errorMessage == "" {
		t.Error("expected a visible error message")
	}
	if m.engine != nil {
		t.Error("engine reference must be dropped after a fatal engine error")
	}
}

func TestAbortedErrorIgnored(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})

	updated, _ := m.Update(engineEventMsg{Seq: m.captureSeq, Event: recognizer.Event{Event: recognizer.EventError, Aborted: true}})
	m = updated.(Model)

	if m.state != StateRecording {
		t.Errorf("state = %v, want still recording", m.state)
	}
	if m.errorMessage != "" {
		t.Errorf("errorMessage = %q, aborted errors are intentional", m.errorMessage)
	}
}

func TestRestartUsesFreshEngine(t *testing.T) {
	srv := &fakeServer{}
	m, first := recordingModel(t, srv)

	m, cmd := pressSpace(m) // empty stop, back to idle
	runCmd(cmd)
	if !first.torndown() {
		t.Fatal("first engine should be closed")
	}

	second := &fakeEngine{}
	m.dial = func() (recognizer.Engine, error) { return second, nil }

	m, _ = pressSpace(m)
	if m.state != StateRecording {
		t.Fatalf("state = %v, want recording", m.state)
	}
	if m.captureSeq != 2 {
		t.Errorf("captureSeq = %d, want 2", m.captureSeq)
	}

	updated, _ := m.Update(engineStartedMsg{Seq: m.captureSeq, Engine: second})
	m = updated.(Model)
	if m.engine != second {
		t.Error("second attempt should adopt the fresh engine")
	}
}

func TestItemsLoaded(t *testing.T) {
	m := New(nil, &fakeServer{}, "en-US")
	due := "2026-03-05T09:00:00Z"
	items := []api.Item{
		{ID: "i1", Content: "Call mom", ItemType: "reminder", DueDate: &due},
		{ID: "i2", Content: "Buy milk", ItemType: "task", Completed: true},
	}

	updated, _ := m.Update(itemsLoadedMsg{Items: items})
	m = updated.(Model)

	if len(m.items) != 2 {
		t.Fatalf("items = %d, want 2", len(m.items))
	}
	if m.items[0].Content != "Call mom" {
		t.Errorf("items[0] = %+v", m.items[0])
	}
}

func TestViewWithoutSize(t *testing.T) {
	m := New(nil, &fakeServer{}, "en-US")
	if got := m.View(); got != "Initializing..." {
		t.Errorf("view = %q, want 'Initializing...'", got)
	}
}

func TestViewRendersWithSize(t *testing.T) {
	m, _ := recordingModel(t, &fakeServer{})
	m = event(m, recognizer.Event{Event: recognizer.EventFinal, Text: "call mom"})

	view := m.View()
	if view == "" || view == "Initializing..." {
		t.Errorf("view = %q", view)
	}
}
