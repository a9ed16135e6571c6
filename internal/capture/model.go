// Package capture implements the voice-capture TUI: a state machine that
// turns the recognizer's noisy, interruptible event stream into a single
// finalized transcript and submits it to the server.
package capture

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/voxjot/voxjot/internal/api"
	"github.com/voxjot/voxjot/internal/recognizer"
	"github.com/voxjot/voxjot/internal/ui"
)

// State is the capture session state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StateDone
)

const (
	errorDisplayTime = 5 * time.Second
	doneDisplayTime  = 1200 * time.Millisecond
	recentItemsLimit = 8
)

// Submitter is the server surface the capture model depends on. api.Client
// satisfies it; tests substitute fakes.
type Submitter interface {
	SubmitNote(transcript string) (*api.SubmitResult, error)
	RecentItems(limit int) ([]api.Item, error)
	CalendarStatus() (bool, error)
}

// Model is the root bubbletea model for the capture TUI.
//
// Exactly one capture attempt is live at a time. captureSeq increases on
// every start; engine callbacks carry the seq they belong to and are
// discarded on mismatch, so a stale engine can never clobber a newer
// session's state. The engine instance is replaced, never reused, after any
// terminal event.
type Model struct {
	dial   func() (recognizer.Engine, error)
	server Submitter
	locale string

	// Capture session
	state         State
	captureSeq    int
	engine        recognizer.Engine
	finalSegments []string
	interim       string
	stopRequested bool
	lastCreated   int

	// Recent items panel
	items             []api.Item
	calendarConnected bool

	// UI state
	errorMessage string
	width        int
	height       int
}

// New creates a capture model. dial produces a fresh engine instance per
// capture attempt.
func New(dial func() (recognizer.Engine, error), server Submitter, locale string) Model {
	return Model{dial: dial, server: server, locale: locale}
}

// Init loads the recent items panel and calendar status.
func (m Model) Init() tea.Cmd {
	return tea.Batch(loadItemsCmd(m.server), calendarStatusCmd(m.server))
}

// Commands

func startEngineCmd(dial func() (recognizer.Engine, error), seq int, locale string) tea.Cmd {
	return func() tea.Msg {
		eng, err := dial()
		if err != nil {
			return engineStartedMsg{Seq: seq, Err: err}
		}
		resp, err := eng.Start(locale)
		if err != nil {
			eng.Close()
			return engineStartedMsg{Seq: seq, Err: err}
		}
		if !resp.OK {
			eng.Close()
			return engineStartedMsg{Seq: seq, Err: fmt.Errorf("recognizer refused: %s", resp.Error)}
		}
		return engineStartedMsg{Seq: seq, Engine: eng}
	}
}

func readEventCmd(seq int, eng recognizer.Engine) tea.Cmd {
	return func() tea.Msg {
		ev, err := eng.ReadEvent()
		if err != nil {
			return engineEventErrMsg{Seq: seq, Err: err}
		}
		return engineEventMsg{Seq: seq, Event: ev}
	}
}

// teardownEngineCmd stops and closes a spent engine instance. The instance
// is already detached from the model when this runs.
func teardownEngineCmd(eng recognizer.Engine) tea.Cmd {
	return func() tea.Msg {
		eng.Stop()
		eng.Close()
		return nil
	}
}

func submitCmd(server Submitter, seq int, transcript string) tea.Cmd {
	return func() tea.Msg {
		result, err := server.SubmitNote(transcript)
		return submitSettledMsg{Seq: seq, Result: result, Err: err}
	}
}

func doneDelayCmd(seq int) tea.Cmd {
	return tea.Tick(doneDisplayTime, func(time.Time) tea.Msg {
		return doneTickMsg{Seq: seq}
	})
}

func clearErrorCmd() tea.Cmd {
	return tea.Tick(errorDisplayTime, func(time.Time) tea.Msg {
		return clearErrorMsg{}
	})
}

func loadItemsCmd(server Submitter) tea.Cmd {
	return func() tea.Msg {
		items, err := server.RecentItems(recentItemsLimit)
		return itemsLoadedMsg{Items: items, Err: err}
	}
}

func calendarStatusCmd(server Submitter) tea.Cmd {
	return func() tea.Msg {
		connected, err := server.CalendarStatus()
		return calendarStatusMsg{Connected: connected, Err: err}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case engineStartedMsg:
		// A start ack for an older attempt, or one that landed after the
		// user already stopped, only needs its engine cleaned up.
		if msg.Seq != m.captureSeq || m.state != StateRecording || m.stopRequested {
			if msg.Engine != nil {
				msg.Engine.Close()
			}
			return m, nil
		}
		if msg.Err != nil {
			m.state = StateIdle
			m.errorMessage = "Could not start recording: " + msg.Err.Error()
			return m, clearErrorCmd()
		}
		m.engine = msg.Engine
		return m, readEventCmd(msg.Seq, msg.Engine)

	case engineEventMsg:
		if msg.Seq != m.captureSeq {
			return m, nil
		}
		return m.handleEngineEvent(msg.Seq, msg.Event)

	case engineEventErrMsg:
		if msg.Seq != m.captureSeq || m.stopRequested || m.state != StateRecording {
			return m, nil
		}
		return m.captureFailed("Recognition stream lost: " + msg.Err.Error())

	case submitSettledMsg:
		if msg.Seq != m.captureSeq {
			return m, nil
		}
		m.state = StateDone
		if msg.Err != nil {
			m.errorMessage = "Failed to process your voice note"
			return m, tea.Batch(doneDelayCmd(msg.Seq), clearErrorCmd())
		}
		m.lastCreated = msg.Result.ItemsCreated
		// Successful submission: signal the items panel to refresh.
		return m, tea.Batch(doneDelayCmd(msg.Seq), loadItemsCmd(m.server))

	case doneTickMsg:
		if msg.Seq != m.captureSeq || m.state != StateDone {
			return m, nil
		}
		m.state = StateIdle
		m.finalSegments = nil
		m.interim = ""
		return m, nil

	case clearErrorMsg:
		m.errorMessage = ""
		return m, nil

	case itemsLoadedMsg:
		if msg.Err == nil {
			m.items = msg.Items
		}
		return m, nil

	case calendarStatusMsg:
		if msg.Err == nil {
			m.calendarConnected = msg.Connected
		}
		return m, nil
	}

	return m, nil
}

// handleEngineEvent processes one recognition event for the live attempt.
func (m Model) handleEngineEvent(seq int, ev recognizer.Event) (tea.Model, tea.Cmd) {
	// A detached engine means the attempt already finalized; an in-flight
	// event may still land but must not schedule another read.
	if m.engine == nil {
		return m, nil
	}

	switch ev.Event {
	case recognizer.EventPartial:
		if m.state == StateRecording && !m.stopRequested {
			m.interim = ev.Text
		}
		return m, readEventCmd(seq, m.engine)

	case recognizer.EventFinal:
		if m.state == StateRecording && !m.stopRequested {
			m.finalSegments = append(m.finalSegments, ev.Text)
			m.interim = ""
		}
		return m, readEventCmd(seq, m.engine)

	case recognizer.EventEnd:
		// Natural termination (silence timeout). If a manual stop is
		// already in flight it owns the submission; this path yields.
		if m.stopRequested {
			return m, nil
		}
		return m.finalizeCapture()

	case recognizer.EventError:
		if ev.Aborted || m.stopRequested {
			return m, nil
		}
		return m.captureFailed("Recognition error: " + ev.Message)

	default:
		return m, readEventCmd(seq, m.engine)
	}
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		var cmd tea.Cmd
		if m.engine != nil {
			eng := m.engine
			m.engine = nil
			cmd = teardownEngineCmd(eng)
		}
		return m, tea.Sequence(cmd, tea.Quit)

	case " ":
		switch m.state {
		case StateIdle:
			return m.startCapture()
		case StateRecording:
			return m.finalizeCapture()
		}
		// Ignored while processing or showing the done state.
		return m, nil

	case "r", "R":
		return m, loadItemsCmd(m.server)
	}

	return m, nil
}

// startCapture begins a new capture attempt with a fresh engine instance.
// Ignored unless idle.
func (m Model) startCapture() (tea.Model, tea.Cmd) {
	if m.state != StateIdle {
		return m, nil
	}
	m.captureSeq++
	m.state = StateRecording
	m.finalSegments = nil
	m.interim = ""
	m.stopRequested = false
	m.errorMessage = ""
	m.lastCreated = 0
	return m, startEngineCmd(m.dial, m.captureSeq, m.locale)
}

// finalizeCapture ends the live attempt: snapshots the committed buffer
// before tearing the engine down, then either submits or returns to idle.
// Safe to reach twice (second manual stop, or stop racing a natural end):
// stopRequested guarantees exactly one path proceeds.
func (m Model) finalizeCapture() (tea.Model, tea.Cmd) {
	if m.state != StateRecording || m.stopRequested {
		return m, nil
	}
	m.stopRequested = true

	// Snapshot before teardown: teardown can fire a terminal event
	// asynchronously and must not race a second read of the buffer.
	committed := strings.TrimSpace(m.committedTranscript())
	m.interim = ""

	var teardown tea.Cmd
	if m.engine != nil {
		eng := m.engine
		m.engine = nil
		teardown = teardownEngineCmd(eng)
	}

	if committed == "" {
		m.state = StateIdle
		return m, teardown
	}

	m.state = StateProcessing
	return m, tea.Batch(teardown, submitCmd(m.server, m.captureSeq, committed))
}

// captureFailed surfaces an engine failure and resets to idle.
func (m Model) captureFailed(message string) (tea.Model, tea.Cmd) {
	m.stopRequested = true
	m.state = StateIdle
	m.errorMessage = message
	m.interim = ""

	var teardown tea.Cmd
	if m.engine != nil {
		eng := m.engine
		m.engine = nil
		teardown = teardownEngineCmd(eng)
	}
	return m, tea.Batch(teardown, clearErrorCmd())
}

// committedTranscript returns the final-fragment buffer in arrival order.
// The interim preview never leaks in here.
func (m Model) committedTranscript() string {
	return strings.Join(m.finalSegments, "")
}

// livePreview is what the user sees while speaking: committed buffer first,
// then the still-changing interim fragment.
func (m Model) livePreview() string {
	return m.committedTranscript() + m.interim
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderTranscript())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderItems())
	if m.errorMessage != "" {
		sections = append(sections, ui.ErrorStyle.Render("Error: ")+ui.ErrorTextStyle.Render(m.errorMessage))
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("VOXJOT")
	var cal string
	if m.calendarConnected {
		cal = ui.DimStyle.Render("  calendar connected")
	} else {
		cal = ui.DimStyle.Render("  calendar not connected")
	}
	return title + cal
}

func (m Model) renderStatusBar() string {
	switch m.state {
	case StateRecording:
		return ui.RecordingDotStyle.Render("● REC") + ui.StatusStyle.Render("  Recording... Space to stop")
	case StateProcessing:
		return ui.ProcessingStyle.Render("⟳ AI") + ui.StatusStyle.Render("  Processing your voice note...")
	case StateDone:
		if m.errorMessage != "" {
			return ui.ErrorStyle.Render("✗") + ui.StatusStyle.Render("  Submission failed")
		}
		return ui.DoneBadgeStyle.Render("✓ SAVED") + ui.StatusStyle.Render(fmt.Sprintf("  %d item(s) created", m.lastCreated))
	default:
		return ui.IdleDotStyle.Render("○ IDLE") + ui.StatusStyle.Render("  Space to record")
	}
}

func (m Model) renderTranscript() string {
	var lines []string
	lines = append(lines, ui.PanelTitleStyle.Render("TRANSCRIPT"))

	preview := m.livePreview()
	if preview == "" {
		lines = append(lines, ui.DimStyle.Render("  Say things like \"remind me to call mom tomorrow at 3pm\""))
	} else {
		committed := m.committedTranscript()
		width := max(20, m.width-4)
		for _, l := range wrapText(committed, width) {
			lines = append(lines, "  "+l)
		}
		if m.interim != "" {
			for _, l := range wrapText(m.interim+"▌", width) {
				lines = append(lines, "  "+ui.PartialTextStyle.Render(l))
			}
		}
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderItems() string {
	var lines []string
	lines = append(lines, ui.PanelTitleStyle.Render(fmt.Sprintf("RECENT ITEMS (%d)", len(m.items))))

	if len(m.items) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No items yet"))
	}
	for _, item := range m.items {
		label := fmt.Sprintf("[%s] %s", item.ItemType, item.Content)
		if item.DueDate != nil {
			label += " " + ui.DueDateStyle.Render("("+*item.DueDate+")")
		}
		if item.Completed {
			lines = append(lines, "  "+ui.CompletedStyle.Render(label))
		} else {
			lines = append(lines, "  "+label)
		}
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	parts := []string{
		ui.FooterKeyStyle.Render("Space") + ui.FooterDescStyle.Render(" Record/Stop"),
		ui.FooterKeyStyle.Render("r") + ui.FooterDescStyle.Render(" Refresh"),
		ui.FooterKeyStyle.Render("q") + ui.FooterDescStyle.Render(" Quit"),
	}
	return strings.Join(parts, "  ")
}

// Helpers

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if lipgloss.Width(current)+1+lipgloss.Width(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
