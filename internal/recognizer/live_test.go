package recognizer

import (
	"os"
	"testing"
)

// TestLiveDaemonRoundTrip exercises a real recognizer daemon when one is
// running. Skipped otherwise.
func TestLiveDaemonRoundTrip(t *testing.T) {
	sockPath := os.Getenv("VOXJOT_RECOGNIZER_SOCKET")
	if sockPath == "" {
		t.Skip("VOXJOT_RECOGNIZER_SOCKET not set")
	}
	if _, err := os.Stat(sockPath); os.IsNotExist(err) {
		t.Skip("recognizer daemon not running")
	}

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	resp, err := client.Start("en-US")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !resp.OK {
		t.Fatalf("start refused: %s", resp.Error)
	}
	t.Logf("started session %s", resp.SessionID)

	if _, err := client.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The daemon still owes a terminal event after the stop ack.
	for {
		ev, err := client.ReadEvent()
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Event == EventEnd || ev.Event == EventError {
			t.Logf("terminal event: %s", ev.Event)
			return
		}
	}
}
