package wm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Errors surfaced by the transport. A command timeout is promoted to a
// connection loss by the supervisor so the read loop reconnects instead of
// hanging.
var (
	ErrConnectionLost = errors.New("window manager connection lost")
	ErrCommandTimeout = errors.New("window manager command timed out")
)

const defaultCommandTimeout = 3 * time.Second

// Conn holds two sockets to the window manager: one subscribed to the event
// stream, one for request/response commands and queries.
type Conn struct {
	mu      sync.Mutex
	cmd     net.Conn
	evt     net.Conn
	timeout time.Duration
}

// SocketPath locates the window manager IPC socket from the environment.
func SocketPath() (string, error) {
	if sock := os.Getenv("SWAYSOCK"); sock != "" {
		return sock, nil
	}
	if sock := os.Getenv("I3SOCK"); sock != "" {
		return sock, nil
	}
	return "", errors.New("neither SWAYSOCK nor I3SOCK is set")
}

// Dial connects both sockets and subscribes the event socket to window,
// workspace, and output events.
func Dial(path string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	cmd, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial command socket: %w", err)
	}
	evt, err := net.Dial("unix", path)
	if err != nil {
		cmd.Close()
		return nil, fmt.Errorf("dial event socket: %w", err)
	}
	c := &Conn{cmd: cmd, evt: evt, timeout: timeout}
	if err := c.subscribe("window", "workspace", "output", "shutdown"); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) subscribe(kinds ...string) error {
	payload, err := json.Marshal(kinds)
	if err != nil {
		return err
	}
	if err := writeMessage(c.evt, msgSubscribe, payload); err != nil {
		return err
	}
	// The subscribe reply arrives on the event socket ahead of any events.
	msgType, reply, err := readMessage(c.evt)
	if err != nil {
		return fmt.Errorf("read subscribe reply: %w", err)
	}
	if msgType != msgSubscribe {
		return fmt.Errorf("unexpected subscribe reply type %#x", msgType)
	}
	var status struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(reply, &status); err != nil || !status.Success {
		return fmt.Errorf("subscribe rejected: %s", reply)
	}
	return nil
}

// NextEvent blocks until the next event frame arrives.
func (c *Conn) NextEvent() (RawEvent, error) {
	for {
		msgType, payload, err := readMessage(c.evt)
		if err != nil {
			return RawEvent{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if msgType&eventFlag == 0 {
			continue
		}
		return RawEvent{Type: msgType, Payload: payload}, nil
	}
}

func (c *Conn) roundTrip(ctx context.Context, msgType uint32, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.cmd.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if err := writeMessage(c.cmd, msgType, payload); err != nil {
		return nil, classify(err)
	}
	replyType, reply, err := readMessage(c.cmd)
	if err != nil {
		return nil, classify(err)
	}
	if replyType != msgType {
		return nil, fmt.Errorf("reply type %#x does not match request %#x", replyType, msgType)
	}
	return reply, nil
}

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrCommandTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

// RunCommand issues a WM command string and fails if any chunk failed.
func (c *Conn) RunCommand(ctx context.Context, command string) error {
	reply, err := c.roundTrip(ctx, msgRunCommand, []byte(command))
	if err != nil {
		return err
	}
	var results []CommandResult
	if err := json.Unmarshal(reply, &results); err != nil {
		return fmt.Errorf("decode command reply: %w", err)
	}
	for _, r := range results {
		if !r.Success {
			return fmt.Errorf("command %q failed: %s", command, r.Error)
		}
	}
	return nil
}

// GetTree fetches the full layout tree.
func (c *Conn) GetTree(ctx context.Context) (*Node, error) {
	reply, err := c.roundTrip(ctx, msgGetTree, nil)
	if err != nil {
		return nil, err
	}
	var root Node
	if err := json.Unmarshal(reply, &root); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return &root, nil
}

// GetOutputs fetches the current monitor set.
func (c *Conn) GetOutputs(ctx context.Context) ([]Output, error) {
	reply, err := c.roundTrip(ctx, msgGetOutputs, nil)
	if err != nil {
		return nil, err
	}
	var outputs []Output
	if err := json.Unmarshal(reply, &outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return outputs, nil
}

// GetWorkspaces fetches the workspace list.
func (c *Conn) GetWorkspaces(ctx context.Context) ([]WorkspaceInfo, error) {
	reply, err := c.roundTrip(ctx, msgGetWorkspaces, nil)
	if err != nil {
		return nil, err
	}
	var workspaces []WorkspaceInfo
	if err := json.Unmarshal(reply, &workspaces); err != nil {
		return nil, fmt.Errorf("decode workspaces: %w", err)
	}
	return workspaces, nil
}

// Close closes both sockets.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	errCmd := c.cmd.Close()
	errEvt := c.evt.Close()
	if errCmd != nil {
		return errCmd
	}
	return errEvt
}
