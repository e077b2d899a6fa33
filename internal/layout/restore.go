package layout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ErrCorrelationTimeout marks a placeholder whose expected window never
// appeared within the deadline.
var ErrCorrelationTimeout = errors.New("correlation timed out")

// PlaceholderStatus tracks a placeholder through restore. The success path
// runs pending, launched, correlated, placed; a launched placeholder whose
// window never appears ends timed-out.
type PlaceholderStatus string

const (
	StatusPending    PlaceholderStatus = "pending"
	StatusLaunched   PlaceholderStatus = "launched"
	StatusCorrelated PlaceholderStatus = "correlated"
	StatusPlaced     PlaceholderStatus = "placed"
	StatusTimedOut   PlaceholderStatus = "timed-out"
	StatusSkipped    PlaceholderStatus = "skipped"
	StatusCancelled  PlaceholderStatus = "cancelled"
)

// Commander issues commands to the window manager during placement.
type Commander interface {
	RunCommand(ctx context.Context, command string) error
}

// Launcher starts a placeholder's process with the given extra environment;
// injectable for tests.
type Launcher func(command []string, extraEnv []string) error

// DetachedLauncher starts the command detached from the daemon.
func DetachedLauncher(command []string, extraEnv []string) error {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %q: %w", command[0], err)
	}
	return cmd.Process.Release()
}

type pendingWindow struct {
	Placeholder
	workspace int
	target    Rect
	roleFound bool
	status    PlaceholderStatus
	deadline  time.Time
	detail    string
}

// PlaceholderReport is the per-placeholder outcome of a restore.
type PlaceholderReport struct {
	Class   string            `json:"class"`
	Status  PlaceholderStatus `json:"status"`
	Detail  string            `json:"detail,omitempty"`
	Command []string          `json:"command,omitempty"`
}

// Report summarizes a restore session.
type Report struct {
	Name         string              `json:"name"`
	Project      string              `json:"project"`
	Placeholders []PlaceholderReport `json:"placeholders"`
	Done         bool                `json:"done"`
}

// Session replays one snapshot onto the current monitor topology. It is
// driven from the daemon loop: Launch starts processes, Offer correlates
// window-appeared events, ExpireDue times out stragglers.
type Session struct {
	snapshot   *Snapshot
	projectDir string
	commander  Commander
	launch     Launcher
	timeout    time.Duration
	log        *zap.SugaredLogger
	now        func() time.Time
	entries    []*pendingWindow
	cancelled  bool
}

// NewSession plans a restore of snap onto the current monitors. Roles
// missing from the current topology collapse toward primary.
func NewSession(snap *Snapshot, current []MonitorConfig, projectDir string, commander Commander, launch Launcher, timeout time.Duration, log *zap.SugaredLogger) *Session {
	if launch == nil {
		launch = DetachedLauncher
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Session{
		snapshot:   snap,
		projectDir: projectDir,
		commander:  commander,
		launch:     launch,
		timeout:    timeout,
		log:        log,
		now:        time.Now,
	}
	for _, wl := range snap.Workspaces {
		mon, exact := ResolveRole(wl.Role, current)
		for _, ph := range wl.Windows {
			entry := &pendingWindow{
				Placeholder: ph,
				workspace:   wl.Workspace,
				target:      ph.Geometry.ScaleTo(mon.Rect),
				roleFound:   exact,
				status:      StatusPending,
			}
			if !exact {
				entry.detail = "monitor role collapsed toward primary"
			}
			if ph.Manual {
				entry.status = StatusSkipped
				entry.detail = "no launch command recorded"
				log.Warnw("skipping manual placeholder", "class", ph.Class, "workspace", wl.Workspace)
			}
			s.entries = append(s.entries, entry)
		}
	}
	return s
}

// Launch starts every pending placeholder's process and arms its
// correlation deadline.
func (s *Session) Launch(ctx context.Context) {
	env := []string{
		EnvProject + "=" + s.snapshot.Project,
		EnvProjectDir + "=" + s.projectDir,
		EnvLayout + "=" + s.snapshot.Name,
	}
	for _, e := range s.entries {
		if e.status != StatusPending {
			continue
		}
		if s.cancelled {
			e.status = StatusCancelled
			continue
		}
		if err := s.launch(e.Command, env); err != nil {
			e.status = StatusTimedOut
			e.detail = err.Error()
			s.log.Warnw("placeholder launch failed", "class", e.Class, "error", err)
			continue
		}
		e.status = StatusLaunched
		e.deadline = s.now().Add(s.timeout)
	}
}

// Offer correlates a freshly appeared window to the oldest launched
// placeholder expecting its class, then places it. Reports whether the
// window was swallowed.
func (s *Session) Offer(ctx context.Context, windowID int64, class string) bool {
	if s.cancelled {
		return false
	}
	for _, e := range s.entries {
		if e.status != StatusLaunched || e.Class != class {
			continue
		}
		e.status = StatusCorrelated
		s.place(ctx, windowID, e)
		return true
	}
	return false
}

func (s *Session) place(ctx context.Context, windowID int64, e *pendingWindow) {
	commands := []string{
		fmt.Sprintf("[con_id=%d] move container to workspace number %d", windowID, e.workspace),
	}
	if e.Floating {
		commands = append(commands,
			fmt.Sprintf("[con_id=%d] floating enable", windowID),
			fmt.Sprintf("[con_id=%d] resize set width %d px height %d px",
				windowID, int(e.target.Width), int(e.target.Height)),
			fmt.Sprintf("[con_id=%d] move position %d %d",
				windowID, int(e.target.X), int(e.target.Y)),
		)
	} else {
		// Tiled containers take resize set as a split-ratio adjustment;
		// their position stays owned by the tiling layout.
		commands = append(commands,
			fmt.Sprintf("[con_id=%d] resize set width %d px height %d px",
				windowID, int(e.target.Width), int(e.target.Height)),
		)
	}
	for _, command := range commands {
		if err := s.commander.RunCommand(ctx, command); err != nil {
			e.detail = err.Error()
			s.log.Warnw("placement command failed", "class", e.Class, "command", command, "error", err)
			return
		}
	}
	e.status = StatusPlaced
}

// ExpireDue marks launched placeholders past their deadline as timed out.
// Timed-out launches are reported, never retried, to avoid duplicates.
func (s *Session) ExpireDue() int {
	now := s.now()
	expired := 0
	for _, e := range s.entries {
		if e.status == StatusLaunched && now.After(e.deadline) {
			e.status = StatusTimedOut
			e.detail = ErrCorrelationTimeout.Error()
			expired++
			s.log.Warnw("placeholder never correlated", "class", e.Class, "workspace", e.workspace)
		}
	}
	return expired
}

// NextDeadline returns the earliest pending correlation deadline.
func (s *Session) NextDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, e := range s.entries {
		if e.status != StatusLaunched {
			continue
		}
		if !found || e.deadline.Before(earliest) {
			earliest = e.deadline
			found = true
		}
	}
	return earliest, found
}

// Cancel stops further processing. Already-launched processes are left
// running; unprocessed placeholders are marked cancelled.
func (s *Session) Cancel() {
	s.cancelled = true
	for _, e := range s.entries {
		if e.status == StatusPending || e.status == StatusLaunched {
			e.status = StatusCancelled
		}
	}
}

// Done reports whether no placeholder is still pending or awaiting
// correlation.
func (s *Session) Done() bool {
	for _, e := range s.entries {
		if e.status == StatusPending || e.status == StatusLaunched {
			return false
		}
	}
	return true
}

// Report snapshots the session outcome.
func (s *Session) Report() Report {
	report := Report{
		Name:    s.snapshot.Name,
		Project: s.snapshot.Project,
		Done:    s.Done(),
	}
	for _, e := range s.entries {
		report.Placeholders = append(report.Placeholders, PlaceholderReport{
			Class:   e.Class,
			Status:  e.status,
			Detail:  e.detail,
			Command: e.Command,
		})
	}
	return report
}
