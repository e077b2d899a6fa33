package layout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCommander struct {
	commands []string
	err      error
}

func (f *fakeCommander) RunCommand(_ context.Context, command string) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, command)
	return nil
}

type fakeLaunch struct {
	commands [][]string
	env      []string
	err      error
}

func (f *fakeLaunch) launch(command []string, extraEnv []string) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, command)
	f.env = extraEnv
	return nil
}

func captureFixture(t *testing.T, monitors []MonitorConfig) *Snapshot {
	t.Helper()
	windows := []CaptureWindow{
		{Class: "Ghostty", Workspace: 1, Output: monitors[0].Name, PID: 10,
			Geometry: Rect{X: 0, Y: 0, Width: 1280, Height: 1440}},
		{Class: "Firefox", Workspace: 2, Output: monitors[len(monitors)-1].Name, PID: 20, Floating: true,
			Geometry: Rect{X: 3040, Y: 270, Width: 960, Height: 540}},
	}
	cmdline := func(pid int32) ([]string, error) {
		if pid == 10 {
			return []string{"ghostty"}, nil
		}
		return []string{"firefox"}, nil
	}
	return Capture("editing", "dev", windows, monitors, cmdline, zap.NewNop().Sugar())
}

func TestRestoreReproducesGeometryOnUnchangedTopology(t *testing.T) {
	monitors := twoMonitors()
	snap := captureFixture(t, monitors)
	cmd := &fakeCommander{}
	launch := &fakeLaunch{}
	s := NewSession(snap, monitors, "/home/u/dev", cmd, launch.launch, time.Second, zap.NewNop().Sugar())

	s.Launch(context.Background())
	require.Len(t, launch.commands, 2)
	require.Contains(t, launch.env, EnvProject+"=dev")
	require.Contains(t, launch.env, EnvProjectDir+"=/home/u/dev")
	require.Contains(t, launch.env, EnvLayout+"=editing")

	require.True(t, s.Offer(context.Background(), 101, "Ghostty"))
	require.True(t, s.Offer(context.Background(), 102, "Firefox"))
	require.False(t, s.Offer(context.Background(), 103, "Firefox"), "each placeholder swallows once")
	require.True(t, s.Done())

	require.Contains(t, cmd.commands, "[con_id=101] move container to workspace number 1")
	// The tiled window gets its captured size back as a split adjustment.
	require.Contains(t, cmd.commands, "[con_id=101] resize set width 1280 px height 1440 px")
	// The floating window returns to its captured pixel geometry.
	require.Contains(t, cmd.commands, "[con_id=102] floating enable")
	require.Contains(t, cmd.commands, "[con_id=102] resize set width 960 px height 540 px")
	require.Contains(t, cmd.commands, "[con_id=102] move position 3040 270")

	report := s.Report()
	require.True(t, report.Done)
	for _, ph := range report.Placeholders {
		require.Equal(t, StatusPlaced, ph.Status)
	}
}

func TestRestoreCollapsesToPrimaryOnSingleMonitor(t *testing.T) {
	snap := captureFixture(t, twoMonitors())
	single := []MonitorConfig{{Name: "eDP-1", Role: RolePrimary, Rect: Rect{Width: 1920, Height: 1080}}}
	cmd := &fakeCommander{}
	launch := &fakeLaunch{}
	s := NewSession(snap, single, "/home/u/dev", cmd, launch.launch, time.Second, zap.NewNop().Sugar())

	s.Launch(context.Background())
	require.True(t, s.Offer(context.Background(), 102, "Firefox"))

	// Firefox was on the secondary monitor's right quarter; on the single
	// 1920x1080 primary the same fractions land at x=480 y=270, 960x540.
	require.Contains(t, cmd.commands, "[con_id=102] resize set width 960 px height 540 px")
	require.Contains(t, cmd.commands, "[con_id=102] move position 480 270")
}

func TestRestoreTimesOutUncorrelatedPlaceholders(t *testing.T) {
	snap := captureFixture(t, twoMonitors())
	cmd := &fakeCommander{}
	launch := &fakeLaunch{}
	s := NewSession(snap, twoMonitors(), "", cmd, launch.launch, time.Second, zap.NewNop().Sugar())

	base := time.Now()
	s.now = func() time.Time { return base }
	s.Launch(context.Background())
	require.True(t, s.Offer(context.Background(), 101, "Ghostty"))

	deadline, ok := s.NextDeadline()
	require.True(t, ok)
	require.Equal(t, base.Add(time.Second), deadline)

	s.now = func() time.Time { return base.Add(2 * time.Second) }
	require.Equal(t, 1, s.ExpireDue())
	require.True(t, s.Done())

	_, ok = s.NextDeadline()
	require.False(t, ok)

	var statuses []PlaceholderStatus
	for _, ph := range s.Report().Placeholders {
		statuses = append(statuses, ph.Status)
	}
	require.Contains(t, statuses, StatusPlaced)
	require.Contains(t, statuses, StatusTimedOut)

	require.False(t, s.Offer(context.Background(), 200, "Firefox"), "timed-out placeholders never retried")
}

func TestRestoreSkipsManualPlaceholders(t *testing.T) {
	monitors := twoMonitors()
	snap := Capture("x", "dev", []CaptureWindow{
		{Class: "Legacy", Workspace: 1, Output: "DP-1", Geometry: Rect{Width: 10, Height: 10}},
	}, monitors, func(int32) ([]string, error) { return nil, fmt.Errorf("gone") }, zap.NewNop().Sugar())

	launch := &fakeLaunch{}
	s := NewSession(snap, monitors, "", &fakeCommander{}, launch.launch, time.Second, zap.NewNop().Sugar())
	s.Launch(context.Background())
	require.Empty(t, launch.commands)
	require.True(t, s.Done())
	require.Equal(t, StatusSkipped, s.Report().Placeholders[0].Status)
}

func TestCancelStopsCorrelationButNotProcesses(t *testing.T) {
	snap := captureFixture(t, twoMonitors())
	launch := &fakeLaunch{}
	s := NewSession(snap, twoMonitors(), "", &fakeCommander{}, launch.launch, time.Second, zap.NewNop().Sugar())
	s.Launch(context.Background())
	s.Cancel()

	require.False(t, s.Offer(context.Background(), 101, "Ghostty"))
	require.True(t, s.Done())
	for _, ph := range s.Report().Placeholders {
		require.Equal(t, StatusCancelled, ph.Status)
	}
}

func TestLaunchFailureIsReportedNotFatal(t *testing.T) {
	snap := captureFixture(t, twoMonitors())
	launch := &fakeLaunch{err: fmt.Errorf("exec: not found")}
	s := NewSession(snap, twoMonitors(), "", &fakeCommander{}, launch.launch, time.Second, zap.NewNop().Sugar())
	s.Launch(context.Background())
	require.True(t, s.Done())
	for _, ph := range s.Report().Placeholders {
		require.Equal(t, StatusTimedOut, ph.Status)
		require.Contains(t, ph.Detail, "not found")
	}
}
