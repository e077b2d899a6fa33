// Command scopectl inspects and drives the running swayscoped daemon over
// its control socket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/swayscope/swayscope/internal/config"
	"github.com/swayscope/swayscope/internal/control/client"
)

var (
	socketPath string
	timeout    time.Duration
	asJSON     bool
)

func main() {
	root := &cobra.Command{
		Use:           "scopectl",
		Short:         "control the swayscope daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "path to the control socket")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Second, "control request timeout")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "emit raw JSON")

	root.AddCommand(
		statusCmd(),
		windowsCmd(),
		eventsCmd(),
		captureCmd(),
		restoreCmd(),
		cancelCmd(),
		coverageCmd(),
		reloadCmd(),
		watchCmd(),
		checkCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dial() (*client.Client, context.Context, context.CancelFunc, error) {
	cli, err := client.New(socketPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return cli, ctx, cancel, nil
}

func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := dial()
			if err != nil {
				return err
			}
			defer cancel()
			status, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return emit(status)
			}
			connected := "disconnected"
			if status.Connected {
				connected = "connected"
			}
			fmt.Printf("wm: %s\nseq: %d\nwindows: %d\nmonitors: %d\nbuffered events: %d\n",
				connected, status.Seq, status.Windows, status.Monitors, status.Buffered)
			fmt.Printf("started: %s\n", status.StartedAt.Format(time.RFC3339))
			if status.LastValidation != "" {
				fmt.Printf("last validation: %s\n", status.LastValidation)
			}
			if status.RestoreActive {
				fmt.Println("restore: in progress")
			}
			return nil
		},
	}
}

func windowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "list tracked windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := dial()
			if err != nil {
				return err
			}
			defer cancel()
			windows, err := cli.Windows(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return emit(windows)
			}
			sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })
			for _, w := range windows {
				pinned := ""
				if w.Pinned {
					pinned = " (pinned)"
				}
				fmt.Printf("%d\tws %d\t%s\t%s\t%s%s\n", w.ID, w.Workspace, w.Output, w.Class, w.Project, pinned)
			}
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	var since uint64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "dump buffered events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := dial()
			if err != nil {
				return err
			}
			defer cancel()
			entries, err := cli.EventsSince(ctx, since)
			if err != nil {
				return err
			}
			if asJSON {
				return emit(entries)
			}
			for _, e := range entries {
				fmt.Printf("%d\t%s\t%s\t%s\n", e.Seq, e.Time.Format(time.RFC3339), e.Source, e.Kind)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "only events after this sequence number")
	return cmd
}

func captureCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "capture <name>",
		Short: "capture the current layout as a named snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := dial()
			if err != nil {
				return err
			}
			defer cancel()
			snap, err := cli.CaptureLayout(ctx, project, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return emit(snap)
			}
			windows := 0
			for _, ws := range snap.Workspaces {
				windows += len(ws.Windows)
			}
			fmt.Printf("captured %q: %d windows across %d workspaces\n", snap.Name, windows, len(snap.Workspaces))
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict capture to one project")
	return cmd
}

func restoreCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "restore a captured layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := dial()
			if err != nil {
				return err
			}
			defer cancel()
			if err := cli.RestoreLayout(ctx, project, args[0]); err != nil {
				return err
			}
			fmt.Printf("restore of %q started\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project the snapshot belongs to")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "cancel the active restore",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := dial()
			if err != nil {
				return err
			}
			defer cancel()
			if err := cli.CancelRestore(ctx); err != nil {
				return err
			}
			fmt.Println("restore cancelled")
			return nil
		},
	}
}

// coverageCmd exits 0 on full coverage, 1 on partial, 2 when the audit could
// not run.
func coverageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "audit project windows for the launch environment",
		Run: func(cmd *cobra.Command, args []string) {
			cli, ctx, cancel, err := dial()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(2)
			}
			defer cancel()
			result, err := cli.Coverage(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(2)
			}
			if asJSON {
				_ = emit(result)
			} else {
				fmt.Printf("coverage: %d/%d project windows\n", result.Covered, result.Total)
				for _, miss := range result.Missing {
					fmt.Printf("  missing: %s\n", miss)
				}
			}
			if len(result.Missing) > 0 {
				os.Exit(1)
			}
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "reload the daemon configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, ctx, cancel, err := dial()
			if err != nil {
				return err
			}
			defer cancel()
			if err := cli.Reload(ctx); err != nil {
				return err
			}
			fmt.Println("reload requested")
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "stream applied events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := client.New(socketPath)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			ctx := cmd.Context()
			enc := json.NewEncoder(os.Stdout)
			return cli.Subscribe(ctx, func(entry client.EventEntry) error {
				if asJSON {
					return enc.Encode(entry)
				}
				fmt.Printf("%d\t%s\t%s\t%s\n", entry.Seq, entry.Time.Format(time.RFC3339), entry.Source, entry.Kind)
				return nil
			})
		},
	}
}

func checkCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath == "" {
				cfgPath = config.DefaultConfigPath()
			}
			if _, err := config.Load(cfgPath); err != nil {
				return err
			}
			fmt.Println("Configuration OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML config")
	return cmd
}
