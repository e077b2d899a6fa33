// Package state holds the daemon's authoritative in-memory model of the
// window manager. The Manager is mutated only through Apply; every other
// component sees copies.
package state

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/swayscope/swayscope/internal/event"
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/rules"
)

// MarkPrefix is the window mark prefix that pins a window to a project.
// User-applied marks take precedence over rule output for the window's
// lifetime.
const MarkPrefix = "project:"

// WindowRecord is the daemon's view of one window.
type WindowRecord struct {
	ID        int64       `json:"id"`
	Class     string      `json:"class"`
	Instance  string      `json:"instance,omitempty"`
	Title     string      `json:"title,omitempty"`
	Workspace int         `json:"workspace"`
	Output    string      `json:"output,omitempty"`
	Project   string      `json:"project"`
	Pinned    bool        `json:"pinned,omitempty"`
	Floating  bool        `json:"floating,omitempty"`
	Geometry  layout.Rect `json:"geometry"`
	PID       int32       `json:"pid,omitempty"`
	Visible   bool        `json:"visible,omitempty"`
	Focused   bool        `json:"focused,omitempty"`
}

// Monitor is the daemon's view of one output.
type Monitor struct {
	Name      string      `json:"name"`
	Rect      layout.Rect `json:"rect"`
	Role      layout.Role `json:"role"`
	Primary   bool        `json:"primary,omitempty"`
	Workspace int         `json:"workspace,omitempty"`
}

// Delta describes what one applied event changed. It is the payload recorded
// in the event buffer and streamed to subscribers.
type Delta struct {
	Seq       uint64     `json:"seq"`
	Kind      event.Kind `json:"kind"`
	Changed   bool       `json:"changed"`
	WindowID  int64      `json:"windowId,omitempty"`
	Project   string     `json:"project,omitempty"`
	Workspace int        `json:"workspace,omitempty"`
	Note      string     `json:"note,omitempty"`
}

// Classifier assigns a project to a window identity.
type Classifier interface {
	Classify(rules.Subject) string
}

// Manager owns all window, monitor, and workspace data. Apply is total:
// unrecognized or inapplicable events are no-ops that still advance the
// sequence counter.
type Manager struct {
	mu               sync.RWMutex
	seq              uint64
	windows          map[int64]*WindowRecord
	monitors         []Monitor
	workspaces       map[int]struct{}
	focusedWorkspace int
	focusedWindow    int64
	classifier       Classifier
	log              *zap.SugaredLogger
}

// NewManager creates an empty state manager.
func NewManager(classifier Classifier, log *zap.SugaredLogger) *Manager {
	return &Manager{
		windows:    make(map[int64]*WindowRecord),
		workspaces: make(map[int]struct{}),
		classifier: classifier,
		log:        log,
	}
}

// SetClassifier swaps the classification engine, used on config reload.
// Existing assignments are untouched; windows reclassify on their next
// title change unless pinned.
func (m *Manager) SetClassifier(classifier Classifier) {
	m.mu.Lock()
	m.classifier = classifier
	m.mu.Unlock()
}

// Apply mutates the model according to the event and returns the resulting
// delta. It is the only mutation entry point.
func (m *Manager) Apply(ev event.Event) Delta {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	delta := Delta{Seq: m.seq, Kind: ev.Kind}

	switch ev.Kind {
	case event.WindowNew:
		m.applyWindowNew(ev.Window, &delta)
	case event.WindowClosed:
		m.applyWindowClosed(ev.Window, &delta)
	case event.WindowTitle:
		m.applyWindowTitle(ev.Window, &delta)
	case event.WindowMoved:
		m.applyWindowMoved(ev.Window, &delta)
	case event.WindowFloat:
		m.applyWindowFloat(ev.Window, &delta)
	case event.WindowFocus:
		m.applyWindowFocus(ev.Window, &delta)
	case event.WindowMark:
		m.applyWindowMark(ev.Window, &delta)
	case event.WorkspaceFocus:
		if m.focusedWorkspace != ev.Workspace {
			m.focusedWorkspace = ev.Workspace
			delta.Changed = true
		}
		m.workspaces[ev.Workspace] = struct{}{}
		delta.Workspace = ev.Workspace
	case event.WorkspaceInit:
		if _, seen := m.workspaces[ev.Workspace]; !seen {
			m.workspaces[ev.Workspace] = struct{}{}
			delta.Changed = true
		}
		delta.Workspace = ev.Workspace
	case event.WorkspaceEmpty:
		if _, seen := m.workspaces[ev.Workspace]; seen {
			delete(m.workspaces, ev.Workspace)
			delta.Changed = true
		}
		delta.Workspace = ev.Workspace
	case event.OutputChanged:
		m.applyOutputs(ev.Outputs, &delta)
	default:
		// Total by design: unknown events advance the sequence only.
	}
	return delta
}

func (m *Manager) applyWindowNew(win *event.Window, delta *Delta) {
	if win == nil {
		return
	}
	rec := &WindowRecord{
		ID:        win.ID,
		Class:     win.Class,
		Instance:  win.Instance,
		Title:     win.Title,
		Workspace: win.Workspace,
		Output:    win.Output,
		Floating:  win.Floating,
		Geometry:  win.Geometry,
		PID:       win.PID,
		Visible:   win.Visible,
	}
	if project, ok := markProject(win.Marks); ok {
		rec.Project = project
		rec.Pinned = true
	} else {
		rec.Project = m.classify(win.Class, win.Instance, win.Title)
	}
	if rec.Workspace == 0 {
		rec.Workspace = m.focusedWorkspace
	}
	m.windows[win.ID] = rec
	delta.Changed = true
	delta.WindowID = win.ID
	delta.Project = rec.Project
	delta.Workspace = rec.Workspace
}

func (m *Manager) applyWindowClosed(win *event.Window, delta *Delta) {
	if win == nil {
		return
	}
	rec, ok := m.windows[win.ID]
	if !ok {
		return
	}
	delete(m.windows, win.ID)
	if m.focusedWindow == win.ID {
		m.focusedWindow = 0
	}
	delta.Changed = true
	delta.WindowID = win.ID
	delta.Project = rec.Project
}

func (m *Manager) applyWindowTitle(win *event.Window, delta *Delta) {
	rec := m.record(win)
	if rec == nil {
		return
	}
	if rec.Title == win.Title {
		delta.WindowID = rec.ID
		return
	}
	rec.Title = win.Title
	delta.Changed = true
	delta.WindowID = rec.ID
	// Some applications only reveal their identity after launch.
	if !rec.Pinned {
		if project := m.classify(rec.Class, rec.Instance, rec.Title); project != rec.Project {
			delta.Note = "reclassified from " + rec.Project
			rec.Project = project
		}
	}
	delta.Project = rec.Project
}

func (m *Manager) applyWindowMoved(win *event.Window, delta *Delta) {
	rec := m.record(win)
	if rec == nil {
		return
	}
	delta.WindowID = rec.ID
	if win.Workspace != 0 && win.Workspace != rec.Workspace {
		rec.Workspace = win.Workspace
		delta.Changed = true
	}
	if win.Output != "" && win.Output != rec.Output {
		rec.Output = win.Output
		delta.Changed = true
	}
	if !zeroRect(win.Geometry) && win.Geometry != rec.Geometry {
		rec.Geometry = win.Geometry
		delta.Changed = true
	}
	delta.Workspace = rec.Workspace
}

func (m *Manager) applyWindowFloat(win *event.Window, delta *Delta) {
	rec := m.record(win)
	if rec == nil {
		return
	}
	delta.WindowID = rec.ID
	if rec.Floating != win.Floating {
		rec.Floating = win.Floating
		delta.Changed = true
	}
	if !zeroRect(win.Geometry) && win.Geometry != rec.Geometry {
		rec.Geometry = win.Geometry
		delta.Changed = true
	}
}

func (m *Manager) applyWindowFocus(win *event.Window, delta *Delta) {
	rec := m.record(win)
	if rec == nil {
		return
	}
	delta.WindowID = rec.ID
	if m.focusedWindow != rec.ID {
		if prev, ok := m.windows[m.focusedWindow]; ok {
			prev.Focused = false
		}
		m.focusedWindow = rec.ID
		rec.Focused = true
		rec.Visible = true
		delta.Changed = true
	}
}

func (m *Manager) applyWindowMark(win *event.Window, delta *Delta) {
	rec := m.record(win)
	if rec == nil {
		return
	}
	delta.WindowID = rec.ID
	if project, ok := markProject(win.Marks); ok {
		if !rec.Pinned || rec.Project != project {
			delta.Note = "pinned"
			rec.Project = project
			rec.Pinned = true
			delta.Changed = true
		}
	} else if rec.Pinned {
		// Mark removed; keep the assignment but allow future reclassification.
		rec.Pinned = false
		delta.Changed = true
		delta.Note = "unpinned"
	}
	delta.Project = rec.Project
}

func (m *Manager) applyOutputs(outputs []event.Output, delta *Delta) {
	if outputs == nil {
		return
	}
	configs := make([]layout.MonitorConfig, 0, len(outputs))
	for _, o := range outputs {
		configs = append(configs, layout.MonitorConfig{
			Name:      o.Name,
			Rect:      o.Rect,
			Primary:   o.Primary,
			Workspace: o.Workspace,
		})
	}
	configs = layout.AssignRoles(configs)
	monitors := make([]Monitor, 0, len(configs))
	for _, c := range configs {
		monitors = append(monitors, Monitor{
			Name:      c.Name,
			Rect:      c.Rect,
			Role:      c.Role,
			Primary:   c.Primary,
			Workspace: c.Workspace,
		})
	}
	if !monitorsEqual(m.monitors, monitors) {
		m.monitors = monitors
		delta.Changed = true
	}
}

func (m *Manager) record(win *event.Window) *WindowRecord {
	if win == nil {
		return nil
	}
	return m.windows[win.ID]
}

func (m *Manager) classify(class, instance, title string) string {
	if m.classifier == nil {
		return rules.Global
	}
	return m.classifier.Classify(rules.Subject{Class: class, Instance: instance, Title: title})
}

// Fastforward raises the sequence counter to at least seq. Used after a
// partial restart so numbers already in the persisted event log are never
// reused.
func (m *Manager) Fastforward(seq uint64) {
	m.mu.Lock()
	if seq > m.seq {
		m.seq = seq
	}
	m.mu.Unlock()
}

// Seq returns the current sequence counter.
func (m *Manager) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// Windows returns a copy of all window records, ordered by ID.
func (m *Manager) Windows() []WindowRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WindowRecord, 0, len(m.windows))
	for _, rec := range m.windows {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Window returns a copy of one record.
func (m *Manager) Window(id int64) (WindowRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.windows[id]
	if !ok {
		return WindowRecord{}, false
	}
	return *rec, true
}

// Monitors returns a copy of the monitor set.
func (m *Manager) Monitors() []Monitor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Monitor(nil), m.monitors...)
}

// FocusedWorkspace returns the workspace the WM reports as focused.
func (m *Manager) FocusedWorkspace() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.focusedWorkspace
}

func markProject(marks []string) (string, bool) {
	for _, mark := range marks {
		if strings.HasPrefix(mark, MarkPrefix) {
			return strings.TrimPrefix(mark, MarkPrefix), true
		}
	}
	return "", false
}

func zeroRect(r layout.Rect) bool {
	return r == layout.Rect{}
}

func monitorsEqual(a, b []Monitor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
