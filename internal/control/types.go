package control

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Methods supported by the control protocol.
	MethodSubscribe     = "subscribe"
	MethodGetStatus     = "get_status"
	MethodListWindows   = "list_windows"
	MethodGetEvents     = "get_events"
	MethodCaptureLayout = "capture_layout"
	MethodRestoreLayout = "restore_layout"
	MethodCancelRestore = "cancel_restore"
	MethodCoverage      = "coverage"
	MethodReload        = "reload"

	// NotifyEvent is the method of server-pushed event notifications.
	NotifyEvent = "event"

	// Error codes.
	CodeBadRequest    = "bad-request"
	CodeUnknownMethod = "unknown-method"
	CodeNotFound      = "not-found"
	CodeInternal      = "internal"
)

// ErrUnauthorized is returned when a peer's UID is not on the allow-list.
var ErrUnauthorized = errors.New("peer not authorized")

// Request is one line-delimited JSON request on the control socket.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Error carries a machine-readable failure code alongside the message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response answers one request by id. Result and Error are mutually
// exclusive.
type Response struct {
	ID     int64  `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Notification is a server-initiated push to subscribed connections.
type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Status is the daemon health summary served to clients.
type Status struct {
	Connected      bool      `json:"connected"`
	Seq            uint64    `json:"seq"`
	Windows        int       `json:"windows"`
	Monitors       int       `json:"monitors"`
	Buffered       int       `json:"buffered"`
	StartedAt      time.Time `json:"startedAt"`
	LastValidation string    `json:"lastValidation,omitempty"`
	RestoreActive  bool      `json:"restoreActive,omitempty"`
}

// LayoutParams addresses a named snapshot within a project.
type LayoutParams struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

// EventsParams selects buffered events after a sequence number.
type EventsParams struct {
	Since uint64 `json:"since"`
}

// DefaultSocketPath returns the expected location of the control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("SWAYSCOPE_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "swayscope", SocketFileName), nil
}
