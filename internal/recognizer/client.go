package recognizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// Engine is the recognition surface the capture layer depends on. A Client
// satisfies it against the real daemon; tests substitute fakes.
type Engine interface {
	Start(locale string) (Response, error)
	Stop() (Response, error)
	ReadEvent() (Event, error)
	Close() error
}

// Client communicates with the recognizer daemon over Unix sockets.
//
// Commands and events travel on separate connections: the command connection
// carries request/response pairs, the event connection is subscribed once and
// then only streams events. Keeping them apart lets Stop be issued while a
// reader is blocked in ReadEvent without the two sharing a scanner.
type Client struct {
	cmdConn    net.Conn
	cmdScanner *bufio.Scanner
	evConn     net.Conn
	evScanner  *bufio.Scanner
	mu         sync.Mutex
}

// Connect dials the recognizer daemon: one command connection and one event
// connection, the latter subscribed to the event stream.
func Connect(socketPath string) (*Client, error) {
	cmdConn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to recognizer: %w", err)
	}
	evConn, err := net.Dial("unix", socketPath)
	if err != nil {
		cmdConn.Close()
		return nil, fmt.Errorf("connect event stream: %w", err)
	}

	c := NewClient(cmdConn, evConn)
	if err := c.subscribe(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps existing command and event connections. Used by tests with
// net.Pipe; no subscribe handshake is performed.
func NewClient(cmdConn, evConn net.Conn) *Client {
	cmdScanner := bufio.NewScanner(cmdConn)
	cmdScanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer
	evScanner := bufio.NewScanner(evConn)
	evScanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	return &Client{
		cmdConn:    cmdConn,
		cmdScanner: cmdScanner,
		evConn:     evConn,
		evScanner:  evScanner,
	}
}

// Close shuts down both connections. Safe to call while a ReadEvent is
// blocked; the reader unblocks with an error.
func (c *Client) Close() error {
	var err error
	if c.cmdConn != nil {
		err = c.cmdConn.Close()
	}
	if c.evConn != nil {
		if evErr := c.evConn.Close(); err == nil {
			err = evErr
		}
	}
	return err
}

// Start begins a recognition stream for the given locale and reads the
// daemon's acknowledgement. After a successful Start the caller consumes
// events with ReadEvent until a terminal event arrives.
func (c *Client) Start(locale string) (Response, error) {
	return c.sendCommand(Command{Cmd: "start", Locale: locale})
}

// Stop asks the daemon to tear down the live stream. The daemon still emits
// a terminal event on the event stream after acknowledging the stop.
func (c *Client) Stop() (Response, error) {
	return c.sendCommand(Command{Cmd: "stop"})
}

// subscribe registers the event connection for the event stream.
func (c *Client) subscribe() error {
	data, err := json.Marshal(Command{Cmd: "subscribe"})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	data = append(data, '\n')
	if _, err := c.evConn.Write(data); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	if !c.evScanner.Scan() {
		if err := c.evScanner.Err(); err != nil {
			return fmt.Errorf("read subscribe ack: %w", err)
		}
		return fmt.Errorf("connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.evScanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("unmarshal subscribe ack: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("subscribe refused: %s", resp.Error)
	}
	return nil
}

func (c *Client) sendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	data = append(data, '\n')
	if _, err := c.cmdConn.Write(data); err != nil {
		return Response{}, fmt.Errorf("write command: %w", err)
	}

	if !c.cmdScanner.Scan() {
		if err := c.cmdScanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.cmdScanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp, nil
}

// ReadEvent reads the next NDJSON event line from the event connection.
// Blocks until data arrives. At most one reader may be active at a time.
func (c *Client) ReadEvent() (Event, error) {
	if !c.evScanner.Scan() {
		if err := c.evScanner.Err(); err != nil {
			return Event{}, fmt.Errorf("read event: %w", err)
		}
		return Event{}, fmt.Errorf("connection closed")
	}

	var ev Event
	if err := json.Unmarshal(c.evScanner.Bytes(), &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	return ev, nil
}
