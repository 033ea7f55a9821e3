// Package mpv speaks mpv's JSON IPC protocol: newline-delimited JSON
// commands out, responses and events back.
package mpv

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Event is an asynchronous message from the player. Only property-change
// events are acted on; unknown fields are ignored.
type Event struct {
	Event string  `json:"event"`
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Data  *string `json:"data"`
}

// Response answers exactly one command.
type Response struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID int             `json:"request_id"`
}

func (r Response) OK() bool {
	return r.Error == "success"
}

type command struct {
	Command []any `json:"command"`
}

// EncodeCommand renders one command line, including the trailing newline.
func EncodeCommand(args ...any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	line, err := json.Marshal(command{Command: args})
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// Conn is a line-oriented connection to the player's IPC socket. Request
// holds a lock for the whole send-and-await, so at most one command is ever
// in flight.
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	mu      sync.Mutex
	timeout time.Duration
}

// Dial connects to the unix socket at path.
func Dial(path string, timeout time.Duration) (*Conn, error) {
	c, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to player at %s: %w", path, err)
	}
	return NewConn(c, timeout), nil
}

// NewConn wraps an established connection. timeout bounds each Request;
// zero disables it.
func NewConn(c net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		conn:    c,
		r:       bufio.NewReader(c),
		timeout: timeout,
	}
}

// Send writes a command without waiting for its response.
func (c *Conn) Send(args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(args)
}

func (c *Conn) write(args []any) error {
	line, err := EncodeCommand(args...)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	if _, err := c.conn.Write(line); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	return nil
}

// ReadLine returns the next line without its terminator.
func (c *Conn) ReadLine() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, err
	}
	return bytes.TrimSpace(line), nil
}

// Request sends a command and waits for its response line. Event lines that
// arrive first are skipped.
func (c *Conn) Request(args ...any) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := c.write(args); err != nil {
		return Response{}, err
	}

	for {
		line, err := c.ReadLine()
		if err != nil {
			return Response{}, fmt.Errorf("reading response: %w", err)
		}
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(line, &probe) == nil && probe.Event != "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return Response{}, fmt.Errorf("decoding response %q: %w", line, err)
		}
		return resp, nil
	}
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
