// Package recognizer provides the client and protocol types for talking to a
// local speech-recognition daemon over Unix sockets using NDJSON.
//
// A client holds two connections: commands ("start", "stop") travel on one
// as request/response pairs, while the other is registered once with
// "subscribe" and then only streams events.
//
// One Client corresponds to one engine instance. The engine does not support
// being restarted after a terminal event: once an "end" or "error" event has
// been delivered, the stream is dead by contract and the caller must Close
// the client and dial a fresh one before the next capture attempt.
package recognizer

// Command is sent from a client to the recognizer daemon.
type Command struct {
	Cmd    string `json:"cmd"`
	Locale string `json:"locale,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event is streamed from the daemon while a recognition stream is live.
//
// "partial" carries a still-changing interim hypothesis that replaces any
// previous partial. "final" carries a committed fragment that will not change
// again. "end" signals natural termination (silence timeout or daemon-side
// stop). "error" carries an engine failure; Aborted distinguishes a
// client-requested abort from a real failure.
type Event struct {
	Event   string `json:"event"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Aborted bool   `json:"aborted,omitempty"`
}

// Event kinds streamed by the daemon.
const (
	EventPartial = "partial"
	EventFinal   = "final"
	EventEnd     = "end"
	EventError   = "error"
)
