package layout

import (
	"fmt"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Environment variables injected into windows the daemon launches. The
// recovery coverage check verifies their presence on project-scoped windows.
const (
	EnvProject    = "SWAYSCOPE_PROJECT"
	EnvProjectDir = "SWAYSCOPE_PROJECT_DIR"
	EnvLayout     = "SWAYSCOPE_LAYOUT"
)

// Placeholder describes one window of a captured layout. Geometry is
// expressed as fractions of the owning monitor so restore rescales across
// topologies. Manual placeholders have no recoverable launch command and are
// skipped on restore.
type Placeholder struct {
	Command  []string `json:"command,omitempty"`
	Class    string   `json:"class"`
	Geometry FracRect `json:"geometry"`
	Floating bool     `json:"floating,omitempty"`
	Manual   bool     `json:"manual,omitempty"`
}

// WorkspaceLayout is the ordered window list of one captured workspace.
type WorkspaceLayout struct {
	Workspace int           `json:"workspace"`
	Role      Role          `json:"role"`
	Windows   []Placeholder `json:"windows"`
}

// Snapshot is an immutable captured arrangement. Restore only reads it.
type Snapshot struct {
	Name       string            `json:"name"`
	Project    string            `json:"project"`
	CapturedAt time.Time         `json:"capturedAt"`
	Monitors   []MonitorConfig   `json:"monitors"`
	Workspaces []WorkspaceLayout `json:"workspaces"`
}

// CaptureWindow is the window data capture needs, decoupled from the state
// model.
type CaptureWindow struct {
	Class     string
	Workspace int
	Output    string
	Floating  bool
	Geometry  Rect
	PID       int32
}

// CmdlineReader recovers a process launch command; injectable for tests.
type CmdlineReader func(pid int32) ([]string, error)

// ProcCmdline reads /proc/<pid>/cmdline via gopsutil.
func ProcCmdline(pid int32) ([]string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	argv, err := proc.CmdlineSlice()
	if err != nil {
		return nil, fmt.Errorf("read cmdline of %d: %w", pid, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("process %d has empty cmdline", pid)
	}
	return argv, nil
}

// Capture walks the provided windows and produces a snapshot with fractional
// geometry per monitor. Windows whose launch command cannot be recovered
// become manual placeholders.
func Capture(name, project string, windows []CaptureWindow, monitors []MonitorConfig, cmdline CmdlineReader, log *zap.SugaredLogger) *Snapshot {
	if cmdline == nil {
		cmdline = ProcCmdline
	}
	byName := make(map[string]MonitorConfig, len(monitors))
	for _, m := range monitors {
		byName[m.Name] = m
	}
	byWorkspace := make(map[int]*WorkspaceLayout)
	var order []int
	for _, win := range windows {
		mon, ok := byName[win.Output]
		if !ok && len(monitors) > 0 {
			mon = monitors[0]
		}
		ph := Placeholder{
			Class:    win.Class,
			Geometry: win.Geometry.RelativeTo(mon.Rect),
			Floating: win.Floating,
		}
		if win.PID != 0 {
			if argv, err := cmdline(win.PID); err == nil {
				ph.Command = argv
			}
		}
		if len(ph.Command) == 0 {
			ph.Manual = true
			log.Warnw("no recoverable launch command, recording manual placeholder",
				"class", win.Class, "pid", win.PID)
		}
		wl, ok := byWorkspace[win.Workspace]
		if !ok {
			wl = &WorkspaceLayout{Workspace: win.Workspace, Role: mon.Role}
			byWorkspace[win.Workspace] = wl
			order = append(order, win.Workspace)
		}
		wl.Windows = append(wl.Windows, ph)
	}
	sort.Ints(order)
	snap := &Snapshot{
		Name:       name,
		Project:    project,
		CapturedAt: time.Now(),
		Monitors:   append([]MonitorConfig(nil), monitors...),
	}
	for _, ws := range order {
		snap.Workspaces = append(snap.Workspaces, *byWorkspace[ws])
	}
	return snap
}
