package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/swayscope/swayscope/internal/buffer"
	"github.com/swayscope/swayscope/internal/control"
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/reconcile"
	"github.com/swayscope/swayscope/internal/rules"
	"github.com/swayscope/swayscope/internal/state"
)

var _ control.Backend = (*Daemon)(nil)

// Status reports daemon health. Loop-owned fields are read on the loop.
func (d *Daemon) Status() control.Status {
	status := control.Status{
		Connected: d.sup.Connected(),
		Seq:       d.manager.Seq(),
		Windows:   len(d.manager.Windows()),
		Monitors:  len(d.manager.Monitors()),
		Buffered:  d.events.Len(),
		StartedAt: d.startedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	_ = d.post(ctx, func(context.Context) error {
		status.LastValidation = d.lastValidation
		status.RestoreActive = d.restore != nil
		return nil
	})
	return status
}

// Windows returns a copy of the cached window records.
func (d *Daemon) Windows() []state.WindowRecord {
	return d.manager.Windows()
}

// EventsSince returns buffered entries newer than seq.
func (d *Daemon) EventsSince(seq uint64) []buffer.Entry {
	return d.events.Since(seq)
}

// CaptureLayout snapshots the project's current windows under name and
// persists it.
func (d *Daemon) CaptureLayout(ctx context.Context, project, name string) (*layout.Snapshot, error) {
	if name == "" {
		return nil, errors.New("layout name required")
	}
	var snap *layout.Snapshot
	err := d.post(ctx, func(context.Context) error {
		windows := d.captureWindows(project)
		if len(windows) == 0 {
			return fmt.Errorf("no windows to capture for project %q", project)
		}
		snap = layout.Capture(name, project, windows, d.monitorConfigs(), nil, d.log)
		return d.store.Save(snap)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// RestoreLayout loads a named snapshot and starts a restore session on the
// loop. Only one session runs at a time.
func (d *Daemon) RestoreLayout(ctx context.Context, project, name string) error {
	snap, err := d.store.Load(project, name)
	if err != nil {
		return err
	}
	return d.post(ctx, func(c context.Context) error {
		if d.restore != nil && !d.restore.Done() {
			return ErrRestoreActive
		}
		projectDir := ""
		if p := d.cfg.ProjectByName(project); p != nil {
			projectDir = p.Dir
		}
		session := layout.NewSession(snap, d.monitorConfigs(), projectDir,
			d.commander, d.launch, d.cfg.Restore.CorrelationTimeout, d.log)
		session.Launch(c)
		d.restore = session
		d.finishRestoreIfDone()
		return nil
	})
}

// CancelRestore aborts the active session; launched processes keep running.
func (d *Daemon) CancelRestore(ctx context.Context) error {
	return d.post(ctx, func(context.Context) error {
		if d.restore == nil {
			return ErrNoRestore
		}
		d.restore.Cancel()
		report := d.restore.Report()
		d.log.Infow("restore cancelled", "layout", report.Name, "project", report.Project)
		d.restore = nil
		return nil
	})
}

// Coverage audits project-scoped windows for the launch environment.
func (d *Daemon) Coverage(context.Context) reconcile.CoverageResult {
	return d.validator.Coverage(nil)
}

// Reload invokes the installed configuration reload callback.
func (d *Daemon) Reload(reason string) error {
	if d.reload == nil {
		return errors.New("reload not supported")
	}
	return d.reload(reason)
}

// captureWindows collects the capture inputs for one project, or for every
// window when project is empty or global.
func (d *Daemon) captureWindows(project string) []layout.CaptureWindow {
	var windows []layout.CaptureWindow
	for _, rec := range d.manager.Windows() {
		if project != "" && project != rules.Global && rec.Project != project {
			continue
		}
		windows = append(windows, layout.CaptureWindow{
			Class:     rec.Class,
			Workspace: rec.Workspace,
			Output:    rec.Output,
			Floating:  rec.Floating,
			Geometry:  rec.Geometry,
			PID:       rec.PID,
		})
	}
	return windows
}

func (d *Daemon) monitorConfigs() []layout.MonitorConfig {
	var out []layout.MonitorConfig
	for _, m := range d.manager.Monitors() {
		out = append(out, layout.MonitorConfig{
			Name:      m.Name,
			Role:      m.Role,
			Rect:      m.Rect,
			Primary:   m.Primary,
			Workspace: m.Workspace,
		})
	}
	return out
}
