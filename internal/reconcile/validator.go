// Package reconcile diffs the daemon's cached model against the live window
// manager tree and repairs mechanically safe drift.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/swayscope/swayscope/internal/event"
	"github.com/swayscope/swayscope/internal/state"
	"github.com/swayscope/swayscope/internal/wm"
)

// Status summarizes a validation cycle.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusDrift Status = "DRIFT"
	StatusError Status = "ERROR"
)

// Discrepancy kinds.
const (
	MissingFromModel = "missing-from-model"
	MissingLive      = "missing-live"
	Misplaced        = "misplaced"
	ProjectConflict  = "project-conflict"
)

// Discrepancy is one divergence between the model and the live tree.
type Discrepancy struct {
	Kind      string `json:"kind"`
	WindowID  int64  `json:"windowId"`
	Detail    string `json:"detail,omitempty"`
	Corrected bool   `json:"corrected"`
}

// Result reports a validation or recovery cycle. Ephemeral; not persisted
// beyond the cycle's log line.
type Result struct {
	Status        Status        `json:"status"`
	Checked       int           `json:"checked"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	Corrected     int           `json:"corrected"`
}

// LiveSource fetches the window manager's actual state.
type LiveSource interface {
	GetTree(ctx context.Context) (*wm.Node, error)
	GetOutputs(ctx context.Context) ([]wm.Output, error)
	GetWorkspaces(ctx context.Context) ([]wm.WorkspaceInfo, error)
}

// Applier routes a synthesized correction through the state manager's normal
// apply path; there is no back-door mutation.
type Applier func(source string, ev event.Event) state.Delta

// Validator compares model and live state.
type Validator struct {
	state *state.Manager
	live  LiveSource
	log   *zap.SugaredLogger
}

// NewValidator creates a validator reading live state from the source.
func NewValidator(st *state.Manager, live LiveSource, log *zap.SugaredLogger) *Validator {
	return &Validator{state: st, live: live, log: log}
}

// Validate performs a read-only diff between the model and a freshly fetched
// live tree.
func (v *Validator) Validate(ctx context.Context) (Result, error) {
	live, err := v.fetchLive(ctx)
	if err != nil {
		return Result{Status: StatusError}, err
	}
	result := v.diff(live)
	v.log.Infow("validation finished",
		"status", result.Status,
		"checked", result.Checked,
		"discrepancies", len(result.Discrepancies))
	return result, nil
}

// Recover validates and then applies corrections for auto-fixable
// discrepancies through the apply path. Ambiguous cases are reported only,
// never guessed.
func (v *Validator) Recover(ctx context.Context, apply Applier) (Result, error) {
	live, err := v.fetchLive(ctx)
	if err != nil {
		return Result{Status: StatusError}, err
	}
	apply("recovery", event.Event{Kind: event.OutputChanged, Outputs: live.outputs})
	result := v.diff(live)
	for i := range result.Discrepancies {
		d := &result.Discrepancies[i]
		switch d.Kind {
		case MissingFromModel:
			apply("recovery", event.Event{Kind: event.WindowNew, Window: live.windows[d.WindowID]})
		case MissingLive:
			apply("recovery", event.Event{Kind: event.WindowClosed, Window: &event.Window{ID: d.WindowID}})
		case Misplaced:
			apply("recovery", event.Event{Kind: event.WindowMoved, Window: live.windows[d.WindowID]})
		default:
			continue
		}
		d.Corrected = true
		result.Corrected++
	}
	v.log.Infow("recovery finished",
		"status", result.Status,
		"corrected", result.Corrected,
		"reported", len(result.Discrepancies)-result.Corrected)
	return result, nil
}

type liveState struct {
	windows map[int64]*event.Window
	outputs []event.Output
}

func (v *Validator) fetchLive(ctx context.Context) (*liveState, error) {
	tree, err := v.live.GetTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch live tree: %w", err)
	}
	outputs, err := v.live.GetOutputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch outputs: %w", err)
	}
	workspaces, err := v.live.GetWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch workspaces: %w", err)
	}
	visible := make(map[string]int, len(workspaces))
	for _, ws := range workspaces {
		if ws.Visible {
			visible[ws.Output] = ws.Num
		}
	}
	live := &liveState{windows: make(map[int64]*event.Window)}
	tree.WalkWindows(func(win *wm.Node, workspace int, output string) {
		live.windows[win.ID] = event.FromNode(win, workspace, output)
	})
	for _, o := range outputs {
		if !o.Active {
			continue
		}
		live.outputs = append(live.outputs, event.Output{
			Name:      o.Name,
			Rect:      o.Rect,
			Primary:   o.Primary,
			Workspace: visible[o.Name],
		})
	}
	return live, nil
}

func (v *Validator) diff(live *liveState) Result {
	result := Result{Status: StatusPass}
	model := v.state.Windows()
	seen := make(map[int64]state.WindowRecord, len(model))
	for _, rec := range model {
		seen[rec.ID] = rec
	}
	result.Checked = len(live.windows)

	for id, win := range live.windows {
		rec, ok := seen[id]
		if !ok {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Kind:     MissingFromModel,
				WindowID: id,
				Detail:   fmt.Sprintf("class %q on workspace %d", win.Class, win.Workspace),
			})
			continue
		}
		if win.Workspace != 0 && rec.Workspace != win.Workspace ||
			win.Output != "" && rec.Output != win.Output {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Kind:     Misplaced,
				WindowID: id,
				Detail: fmt.Sprintf("model ws %d/%s, live ws %d/%s",
					rec.Workspace, rec.Output, win.Workspace, win.Output),
			})
		}
		if project, pinned := markedProject(win.Marks); pinned && project != rec.Project {
			// The live mark disagrees with the cached assignment. Which one
			// the user intended is ambiguous, so report only.
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Kind:     ProjectConflict,
				WindowID: id,
				Detail:   fmt.Sprintf("model project %q, live mark %q", rec.Project, project),
			})
		}
	}
	for id, rec := range seen {
		if _, ok := live.windows[id]; !ok {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Kind:     MissingLive,
				WindowID: id,
				Detail:   fmt.Sprintf("class %q assigned to %q", rec.Class, rec.Project),
			})
		}
	}
	if len(result.Discrepancies) > 0 {
		result.Status = StatusDrift
	}
	return result
}

func markedProject(marks []string) (string, bool) {
	for _, mark := range marks {
		if len(mark) > len(state.MarkPrefix) && mark[:len(state.MarkPrefix)] == state.MarkPrefix {
			return mark[len(state.MarkPrefix):], true
		}
	}
	return "", false
}
