package event

import (
	"encoding/json"
	"fmt"

	"github.com/swayscope/swayscope/internal/wm"
)

// Normalize converts a raw framed event into an internal event. Unknown or
// malformed payloads are rejected with an error; the caller logs and drops
// them.
func Normalize(raw wm.RawEvent) (Event, error) {
	switch raw.Type {
	case wm.EventWindow:
		return normalizeWindow(raw.Payload)
	case wm.EventWorkspace:
		return normalizeWorkspace(raw.Payload)
	case wm.EventOutput:
		return Event{Kind: OutputChanged}, nil
	case wm.EventShutdown:
		return Event{Kind: WMShutdown}, nil
	default:
		return Event{}, fmt.Errorf("unknown event type %#x", raw.Type)
	}
}

func normalizeWindow(payload []byte) (Event, error) {
	var body struct {
		Change    string   `json:"change"`
		Container *wm.Node `json:"container"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("decode window event: %w", err)
	}
	if body.Container == nil || body.Container.ID == 0 {
		return Event{}, fmt.Errorf("window event %q missing container", body.Change)
	}
	var kind Kind
	switch body.Change {
	case "new":
		kind = WindowNew
	case "close":
		kind = WindowClosed
	case "title":
		kind = WindowTitle
	case "move":
		kind = WindowMoved
	case "floating":
		kind = WindowFloat
	case "focus":
		kind = WindowFocus
	case "mark":
		kind = WindowMark
	default:
		return Event{}, fmt.Errorf("unknown window change %q", body.Change)
	}
	return Event{Kind: kind, Window: FromNode(body.Container, 0, "")}, nil
}

func normalizeWorkspace(payload []byte) (Event, error) {
	var body struct {
		Change  string   `json:"change"`
		Current *wm.Node `json:"current"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("decode workspace event: %w", err)
	}
	var kind Kind
	switch body.Change {
	case "focus":
		kind = WorkspaceFocus
	case "init":
		kind = WorkspaceInit
	case "empty":
		kind = WorkspaceEmpty
	default:
		return Event{}, fmt.Errorf("unknown workspace change %q", body.Change)
	}
	if body.Current == nil {
		return Event{}, fmt.Errorf("workspace event %q missing current", body.Change)
	}
	return Event{Kind: kind, Workspace: body.Current.Num}, nil
}
