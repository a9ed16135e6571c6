package capture

import (
	"github.com/voxjot/voxjot/internal/api"
	"github.com/voxjot/voxjot/internal/recognizer"
)

// engineStartedMsg is sent when a fresh engine instance has been dialed and
// its start command acknowledged. Seq ties the message to the capture
// attempt that requested it.
type engineStartedMsg struct {
	Seq    int
	Engine recognizer.Engine
	Err    error
}

// engineEventMsg wraps a streamed recognition event.
type engineEventMsg struct {
	Seq   int
	Event recognizer.Event
}

// engineEventErrMsg is sent when the event stream breaks.
type engineEventErrMsg struct {
	Seq int
	Err error
}

// submitSettledMsg is sent when the server submission finishes, success or
// failure.
type submitSettledMsg struct {
	Seq    int
	Result *api.SubmitResult
	Err    error
}

// doneTickMsg ends the brief post-submission done display.
type doneTickMsg struct {
	Seq int
}

// clearErrorMsg clears a transient error after a timeout.
type clearErrorMsg struct{}

// itemsLoadedMsg carries the refreshed recent-items list.
type itemsLoadedMsg struct {
	Items []api.Item
	Err   error
}

// calendarStatusMsg carries the server's calendar connection state.
type calendarStatusMsg struct {
	Connected bool
	Err       error
}
