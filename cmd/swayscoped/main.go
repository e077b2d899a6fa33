// Command swayscoped is the window-state daemon. It tracks the window
// manager's live tree, classifies windows into projects, and serves the
// control socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swayscope/swayscope/internal/config"
	"github.com/swayscope/swayscope/internal/daemon"
	"github.com/swayscope/swayscope/internal/logging"
)

func main() {
	var (
		cfgPath  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:           "swayscoped",
		Short:         "window-state tracking daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, logLevel)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", config.DefaultConfigPath(), "path to YAML config")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, logLevel string) error {
	log, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := loadConfig(cfgPath, log)
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := func(reason string) error {
		log.Infow("reloading config", "reason", reason)
		cfg, err := loadConfig(cfgPath, log)
		if err != nil {
			return err
		}
		return d.ApplyConfig(cfg)
	}
	d.SetReloadFunc(reload)

	reloadRequests := make(chan string, 1)
	watcher, err := watchConfig(cfgPath, log, reloadRequests)
	if err != nil {
		log.Warnw("config watch unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errs := make(chan error, 1)
	go func() {
		errs <- d.Run(ctx)
	}()

	for {
		select {
		case err := <-errs:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("daemon exited: %w", err)
			}
			log.Infow("daemon stopped")
			return nil
		case reason := <-reloadRequests:
			if err := reload(reason); err != nil {
				log.Errorw("reload failed", "error", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reload("received SIGHUP"); err != nil {
					log.Errorw("reload failed", "error", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				log.Infow("shutting down", "signal", sig.String())
				cancel()
			}
		}
	}
}

// loadConfig falls back to defaults when no config file exists yet.
func loadConfig(path string, log *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnw("no config file, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func watchConfig(cfgPath string, log *zap.SugaredLogger, reloadRequests chan<- string) (*fsnotify.Watcher, error) {
	target, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	target = filepath.Clean(target)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	if err := watcher.Add(target); err != nil {
		log.Debugw("unable to watch config file directly", "error", err)
	}
	go func() {
		const debounceWindow = 250 * time.Millisecond
		var (
			timer   *time.Timer
			timerCh <-chan time.Time
		)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounceWindow)
					timerCh = timer.C
				} else {
					if !timer.Stop() {
						<-timerCh
					}
					timer.Reset(debounceWindow)
				}
			case <-timerCh:
				timer = nil
				timerCh = nil
				select {
				case reloadRequests <- "config file updated":
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnw("config watcher error", "error", err)
			}
		}
	}()
	return watcher, nil
}
