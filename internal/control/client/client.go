// Package client talks to the running swayscope daemon over its control
// socket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/swayscope/swayscope/internal/buffer"
	"github.com/swayscope/swayscope/internal/control"
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/reconcile"
	"github.com/swayscope/swayscope/internal/state"
)

// defaultTimeout is used when the caller does not provide a context deadline.
const defaultTimeout = 3 * time.Second

type (
	// Status is the daemon health summary.
	Status = control.Status
	// WindowRecord mirrors the daemon's cached window state.
	WindowRecord = state.WindowRecord
	// EventEntry is one buffered or streamed event.
	EventEntry = buffer.Entry
	// CoverageResult reports the launch-environment audit.
	CoverageResult = reconcile.CoverageResult
)

// Client connects to the daemon's control socket.
type Client struct {
	socketPath string
	nextID     atomic.Int64
}

// New creates a client for the provided socket path. When path is empty, the
// default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// Status retrieves the daemon health summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, control.MethodGetStatus, nil, &status)
	return status, err
}

// Windows lists the daemon's cached window records.
func (c *Client) Windows(ctx context.Context) ([]WindowRecord, error) {
	var windows []WindowRecord
	err := c.do(ctx, control.MethodListWindows, nil, &windows)
	return windows, err
}

// EventsSince returns buffered events with sequence numbers greater than seq.
func (c *Client) EventsSince(ctx context.Context, seq uint64) ([]EventEntry, error) {
	var entries []EventEntry
	err := c.do(ctx, control.MethodGetEvents, control.EventsParams{Since: seq}, &entries)
	return entries, err
}

// CaptureLayout snapshots the project's current arrangement under name.
func (c *Client) CaptureLayout(ctx context.Context, project, name string) (*layout.Snapshot, error) {
	var snap layout.Snapshot
	if err := c.do(ctx, control.MethodCaptureLayout, control.LayoutParams{Project: project, Name: name}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// RestoreLayout starts replaying a named snapshot.
func (c *Client) RestoreLayout(ctx context.Context, project, name string) error {
	return c.do(ctx, control.MethodRestoreLayout, control.LayoutParams{Project: project, Name: name}, nil)
}

// CancelRestore aborts the active restore session, leaving launched
// processes running.
func (c *Client) CancelRestore(ctx context.Context) error {
	return c.do(ctx, control.MethodCancelRestore, nil, nil)
}

// Coverage audits project-scoped windows for the launch environment.
func (c *Client) Coverage(ctx context.Context) (CoverageResult, error) {
	var result CoverageResult
	err := c.do(ctx, control.MethodCoverage, nil, &result)
	return result, err
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.MethodReload, nil, nil)
}

// Subscribe streams applied events to fn until the context is cancelled, the
// connection drops, or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, fn func(EventEntry) error) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	id := c.nextID.Add(1)
	if err := json.NewEncoder(conn).Encode(control.Request{ID: id, Method: control.MethodSubscribe}); err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	dec := json.NewDecoder(conn)
	for {
		var fr frame
		if err := dec.Decode(&fr); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("decode stream: %w", err)
		}
		switch {
		case fr.Error != nil:
			return fmt.Errorf("%s: %s", fr.Error.Code, fr.Error.Message)
		case fr.Method == control.NotifyEvent:
			var entry EventEntry
			if err := json.Unmarshal(fr.Params, &entry); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if err := fn(entry); err != nil {
				return err
			}
		default:
			// The subscribe acknowledgement; nothing to surface.
		}
	}
}

type frame struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *control.Error  `json:"error"`
	Params json.RawMessage `json:"params"`
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	return conn, nil
}

func (c *Client) do(ctx context.Context, method string, params any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := control.Request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var fr frame
	if err := json.NewDecoder(conn).Decode(&fr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if fr.Error != nil {
		if fr.Error.Message == "" {
			return errors.New(fr.Error.Code)
		}
		return fmt.Errorf("%s: %s", fr.Error.Code, fr.Error.Message)
	}
	if out == nil || len(fr.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(fr.Result, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
