// Package event defines the closed set of internal events the daemon's
// state model consumes. Raw window manager payloads are normalized at this
// single boundary; malformed input never reaches the state manager.
package event

import (
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/wm"
)

// Kind identifies an internal event.
type Kind string

const (
	WindowNew      Kind = "window.new"
	WindowClosed   Kind = "window.closed"
	WindowTitle    Kind = "window.title"
	WindowMoved    Kind = "window.moved"
	WindowFloat    Kind = "window.float"
	WindowFocus    Kind = "window.focus"
	WindowMark     Kind = "window.mark"
	WorkspaceFocus Kind = "workspace.focus"
	WorkspaceInit  Kind = "workspace.init"
	WorkspaceEmpty Kind = "workspace.empty"
	OutputChanged  Kind = "output.changed"
	WMShutdown     Kind = "wm.shutdown"
)

// Window carries the window identity and geometry attached to window events.
type Window struct {
	ID        int64       `json:"id"`
	Class     string      `json:"class"`
	Instance  string      `json:"instance,omitempty"`
	Title     string      `json:"title,omitempty"`
	Workspace int         `json:"workspace,omitempty"`
	Output    string      `json:"output,omitempty"`
	Floating  bool        `json:"floating,omitempty"`
	Geometry  layout.Rect `json:"geometry"`
	PID       int32       `json:"pid,omitempty"`
	Visible   bool        `json:"visible,omitempty"`
	Marks     []string    `json:"marks,omitempty"`
}

// Output carries refreshed monitor data on OutputChanged events.
type Output struct {
	Name      string      `json:"name"`
	Rect      layout.Rect `json:"rect"`
	Primary   bool        `json:"primary,omitempty"`
	Workspace int         `json:"workspace,omitempty"`
}

// Event is one normalized internal event.
type Event struct {
	Kind      Kind     `json:"kind"`
	Window    *Window  `json:"window,omitempty"`
	Workspace int      `json:"workspace,omitempty"`
	Outputs   []Output `json:"outputs,omitempty"`
}

// FromNode converts a window manager tree node into an event window.
func FromNode(n *wm.Node, workspace int, output string) *Window {
	return &Window{
		ID:        n.ID,
		Class:     n.Class(),
		Instance:  n.Instance(),
		Title:     n.Name,
		Workspace: workspace,
		Output:    output,
		Floating:  n.IsFloating(),
		Geometry:  n.Rect,
		PID:       n.PID,
		Visible:   n.Visible,
		Marks:     append([]string(nil), n.Marks...),
	}
}
