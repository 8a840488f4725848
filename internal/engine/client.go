// ABOUTME: CAD engine session client speaking newline-delimited JSON over TCP
// ABOUTME: Provides sequential command execution with context-aware deadlines

package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ErrSessionClosed is returned when a command is issued on a closed session.
var ErrSessionClosed = errors.New("engine session closed")

// CommandError is a structured failure reported by the engine itself,
// as opposed to a transport failure.
type CommandError struct {
	Method  string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("engine command %s failed: %s", e.Method, e.Message)
}

// request is the wire format for engine commands.
type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// response is the wire format for engine replies.
type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Conn is a live session with the CAD engine process. Commands run strictly
// sequentially: the engine is stateful and replies in request order.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
	closed bool
	logger *slog.Logger
}

// dialTimeout bounds session establishment when ctx carries no deadline.
const dialTimeout = 5 * time.Second

// Dial establishes a session with the engine at addr.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing engine at %s: %w", addr, err)
	}

	c := &Conn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger.With("component", "engine", "addr", addr),
	}
	c.logger.Info("engine session established")
	return c, nil
}

// Command sends a request to the engine and waits for its reply. The ctx
// deadline, if any, is applied to both write and read. An error reported by
// the engine surfaces as *CommandError; transport errors surface as-is.
func (c *Conn) Command(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrSessionClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	c.nextID++
	req := request{ID: c.nextID, Method: method, Params: params}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}
	payload = append(payload, '\n')

	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("engine replied to request %d, expected %d", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, &CommandError{Method: method, Message: resp.Error}
	}

	return resp.Result, nil
}

// Ping checks session liveness with a lightweight round trip.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.Command(ctx, "ping", nil)
	return err
}

// Close tears down the session. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("engine session closed")
	return c.conn.Close()
}
