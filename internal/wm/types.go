package wm

import "github.com/swayscope/swayscope/internal/layout"

// WindowProps carries the X11 window identity fields from a tree node.
type WindowProps struct {
	Class    string `json:"class"`
	Instance string `json:"instance"`
	Title    string `json:"title"`
}

// Node is one node of the window manager's layout tree.
type Node struct {
	ID            int64        `json:"id"`
	Type          string       `json:"type"`
	Name          string       `json:"name"`
	Num           int          `json:"num"`
	Output        string       `json:"output"`
	PID           int32        `json:"pid"`
	Visible       bool         `json:"visible"`
	Floating      string       `json:"floating"`
	Marks         []string     `json:"marks"`
	Rect          layout.Rect  `json:"rect"`
	AppID         string       `json:"app_id"`
	Window        int64        `json:"window"`
	WindowProps   *WindowProps `json:"window_properties"`
	Nodes         []*Node      `json:"nodes"`
	FloatingNodes []*Node      `json:"floating_nodes"`
}

// IsWindow reports whether the node represents an actual application window
// rather than a split container.
func (n *Node) IsWindow() bool {
	if n.Type != "con" && n.Type != "floating_con" {
		return false
	}
	if len(n.Nodes) > 0 {
		return false
	}
	return n.PID != 0 || n.Window != 0 || n.WindowProps != nil || n.AppID != ""
}

// IsFloating reports whether the node is floating.
func (n *Node) IsFloating() bool {
	return n.Type == "floating_con" || n.Floating == "user_on" || n.Floating == "auto_on"
}

// Class returns the best available window class for the node.
func (n *Node) Class() string {
	if n.WindowProps != nil && n.WindowProps.Class != "" {
		return n.WindowProps.Class
	}
	return n.AppID
}

// Instance returns the window instance, when known.
func (n *Node) Instance() string {
	if n.WindowProps != nil {
		return n.WindowProps.Instance
	}
	return ""
}

// WalkWindows visits every window node in the tree along with its owning
// workspace number and output name.
func (n *Node) WalkWindows(visit func(win *Node, workspace int, output string)) {
	n.walk(0, "", visit)
}

func (n *Node) walk(workspace int, output string, visit func(win *Node, workspace int, output string)) {
	switch n.Type {
	case "output":
		output = n.Name
	case "workspace":
		workspace = n.Num
	}
	if n.IsWindow() {
		visit(n, workspace, output)
		return
	}
	for _, child := range n.Nodes {
		child.walk(workspace, output, visit)
	}
	for _, child := range n.FloatingNodes {
		child.walk(workspace, output, visit)
	}
}

// Output describes one monitor as reported by the window manager.
type Output struct {
	Name             string      `json:"name"`
	Active           bool        `json:"active"`
	Primary          bool        `json:"primary"`
	Rect             layout.Rect `json:"rect"`
	CurrentWorkspace string      `json:"current_workspace"`
}

// WorkspaceInfo describes one workspace from GET_WORKSPACES.
type WorkspaceInfo struct {
	Num     int    `json:"num"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
	Focused bool   `json:"focused"`
	Output  string `json:"output"`
}

// CommandResult is one entry of a RUN_COMMAND reply.
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
