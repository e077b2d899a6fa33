package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swayscope/swayscope/internal/event"
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/rules"
	"github.com/swayscope/swayscope/internal/state"
	"github.com/swayscope/swayscope/internal/wm"
)

type fakeLive struct {
	tree       *wm.Node
	outputs    []wm.Output
	workspaces []wm.WorkspaceInfo
	err        error
}

func (f *fakeLive) GetTree(ctx context.Context) (*wm.Node, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tree, nil
}

func (f *fakeLive) GetOutputs(ctx context.Context) ([]wm.Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.outputs, nil
}

func (f *fakeLive) GetWorkspaces(ctx context.Context) ([]wm.WorkspaceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.workspaces, nil
}

func windowNode(id int64, class string, pid int32) *wm.Node {
	return &wm.Node{ID: id, Type: "con", AppID: class, PID: pid}
}

func treeWith(workspace int, output string, windows ...*wm.Node) *wm.Node {
	return &wm.Node{
		Type: "root",
		Nodes: []*wm.Node{{
			Type: "output", Name: output,
			Nodes: []*wm.Node{{
				Type: "workspace", Num: workspace,
				Nodes: windows,
			}},
		}},
	}
}

type fixedClassifier string

func (c fixedClassifier) Classify(rules.Subject) string { return string(c) }

func seedManager(t *testing.T, wins ...*event.Window) *state.Manager {
	t.Helper()
	m := state.NewManager(fixedClassifier("dev"), zap.NewNop().Sugar())
	for _, w := range wins {
		m.Apply(event.Event{Kind: event.WindowNew, Window: w})
	}
	return m
}

func recorder(m *state.Manager) (Applier, *[]event.Event) {
	var applied []event.Event
	return func(source string, ev event.Event) state.Delta {
		applied = append(applied, ev)
		return m.Apply(ev)
	}, &applied
}

func TestValidatePassOnMatchingState(t *testing.T) {
	m := seedManager(t, &event.Window{ID: 1, Class: "Ghostty", Workspace: 1, Output: "DP-1"})
	live := &fakeLive{tree: treeWith(1, "DP-1", windowNode(1, "Ghostty", 10))}
	v := NewValidator(m, live, zap.NewNop().Sugar())
	result, err := v.Validate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusPass, result.Status)
	require.Empty(t, result.Discrepancies)
}

func TestRecoverRemovesExactlyTheStaleWindow(t *testing.T) {
	m := seedManager(t,
		&event.Window{ID: 1, Class: "Ghostty", Workspace: 1, Output: "DP-1"},
		&event.Window{ID: 2, Class: "Zombie", Workspace: 1, Output: "DP-1"},
	)
	live := &fakeLive{tree: treeWith(1, "DP-1", windowNode(1, "Ghostty", 10))}
	v := NewValidator(m, live, zap.NewNop().Sugar())
	apply, applied := recorder(m)

	result, err := v.Recover(context.Background(), apply)
	require.NoError(t, err)
	require.Equal(t, StatusDrift, result.Status)
	require.Equal(t, 1, result.Corrected)

	var closed []int64
	for _, ev := range *applied {
		if ev.Kind == event.WindowClosed {
			closed = append(closed, ev.Window.ID)
		}
	}
	require.Equal(t, []int64{2}, closed, "exactly the stale window is removed")

	_, ok := m.Window(2)
	require.False(t, ok)
	rec, ok := m.Window(1)
	require.True(t, ok, "healthy window untouched")
	require.Equal(t, "Ghostty", rec.Class)
}

func TestRecoverInsertsLiveOnlyWindow(t *testing.T) {
	m := seedManager(t)
	live := &fakeLive{tree: treeWith(3, "DP-1", windowNode(7, "Firefox", 20))}
	v := NewValidator(m, live, zap.NewNop().Sugar())
	apply, _ := recorder(m)

	result, err := v.Recover(context.Background(), apply)
	require.NoError(t, err)
	require.Equal(t, 1, result.Corrected)
	rec, ok := m.Window(7)
	require.True(t, ok)
	require.Equal(t, 3, rec.Workspace)
	require.Equal(t, "dev", rec.Project, "re-inserted window is classified")
}

func TestRecoverFixesMisplacedWindow(t *testing.T) {
	m := seedManager(t, &event.Window{ID: 1, Class: "Code", Workspace: 1, Output: "DP-1"})
	live := &fakeLive{tree: treeWith(5, "DP-2", windowNode(1, "Code", 30))}
	v := NewValidator(m, live, zap.NewNop().Sugar())
	apply, _ := recorder(m)

	result, err := v.Recover(context.Background(), apply)
	require.NoError(t, err)
	require.Equal(t, 1, result.Corrected)
	rec, _ := m.Window(1)
	require.Equal(t, 5, rec.Workspace)
	require.Equal(t, "DP-2", rec.Output)
}

func TestProjectConflictIsReportOnly(t *testing.T) {
	m := seedManager(t, &event.Window{ID: 1, Class: "Code", Workspace: 1, Output: "DP-1"})
	node := windowNode(1, "Code", 30)
	node.Marks = []string{"project:other"}
	live := &fakeLive{tree: treeWith(1, "DP-1", node)}
	v := NewValidator(m, live, zap.NewNop().Sugar())
	apply, _ := recorder(m)

	result, err := v.Recover(context.Background(), apply)
	require.NoError(t, err)
	require.Equal(t, StatusDrift, result.Status)
	require.Equal(t, 0, result.Corrected)
	require.Equal(t, ProjectConflict, result.Discrepancies[0].Kind)
	rec, _ := m.Window(1)
	require.Equal(t, "dev", rec.Project, "conflicting assignment never guessed")
}

func TestValidateErrorsWhenTreeUnavailable(t *testing.T) {
	m := seedManager(t)
	v := NewValidator(m, &fakeLive{err: errors.New("gone")}, zap.NewNop().Sugar())
	result, err := v.Validate(context.Background())
	require.Error(t, err)
	require.Equal(t, StatusError, result.Status)
}

func TestCoverage(t *testing.T) {
	m := seedManager(t,
		&event.Window{ID: 1, Class: "Ghostty", PID: 100},
		&event.Window{ID: 2, Class: "Code", PID: 200},
	)
	v := NewValidator(m, &fakeLive{tree: &wm.Node{Type: "root"}}, zap.NewNop().Sugar())

	env := map[int32]map[string]string{
		100: {layout.EnvProject: "dev"},
		200: {},
	}
	result := v.Coverage(func(pid int32) (map[string]string, error) {
		return env[pid], nil
	})
	require.Equal(t, StatusDrift, result.Status)
	require.Equal(t, 2, result.Total)
	require.Equal(t, 1, result.Covered)
	require.Len(t, result.Missing, 1)
}

func TestRecoverRefreshesMonitors(t *testing.T) {
	m := seedManager(t)
	live := &fakeLive{
		tree: &wm.Node{Type: "root"},
		outputs: []wm.Output{
			{Name: "DP-1", Active: true, Primary: true, Rect: layout.Rect{Width: 1920, Height: 1080}},
			{Name: "DP-9", Active: false},
		},
		workspaces: []wm.WorkspaceInfo{
			{Num: 3, Visible: true, Output: "DP-1"},
			{Num: 5, Visible: false, Output: "DP-1"},
		},
	}
	v := NewValidator(m, live, zap.NewNop().Sugar())
	apply, _ := recorder(m)
	_, err := v.Recover(context.Background(), apply)
	require.NoError(t, err)
	mons := m.Monitors()
	require.Len(t, mons, 1, "inactive outputs are ignored")
	require.Equal(t, layout.RolePrimary, mons[0].Role)
	require.Equal(t, 3, mons[0].Workspace, "visible workspace recorded per output")
}
