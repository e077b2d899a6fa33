// Package daemon runs the event loop that owns all state mutation. The loop
// is the sole caller of the state manager's Apply; control requests that
// mutate are posted into it as closures.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swayscope/swayscope/internal/buffer"
	"github.com/swayscope/swayscope/internal/config"
	"github.com/swayscope/swayscope/internal/control"
	"github.com/swayscope/swayscope/internal/event"
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/reconcile"
	"github.com/swayscope/swayscope/internal/rules"
	"github.com/swayscope/swayscope/internal/state"
	"github.com/swayscope/swayscope/internal/wm"
)

const (
	stateFileName  = "state.json"
	eventsFileName = "events.json"
	dialTimeout    = 5 * time.Second
)

// ErrRestoreActive is returned when a restore is requested while one is
// already running.
var ErrRestoreActive = errors.New("restore already in progress")

// ErrNoRestore is returned by cancel when nothing is being restored.
var ErrNoRestore = errors.New("no active restore")

// Daemon wires the supervisor, state manager, event buffer, validator,
// layout store, and control server together.
type Daemon struct {
	log       *zap.SugaredLogger
	sup       *wm.Supervisor
	live      reconcile.LiveSource
	manager   *state.Manager
	events    *buffer.Log
	validator *reconcile.Validator
	store     *layout.Store
	server    *control.Server
	startedAt time.Time

	statePath  string
	eventsPath string

	// cmds carries closures to run on the loop goroutine.
	cmds    chan func(ctx context.Context)
	cfgCh   chan *config.Config
	cfg     *config.Config
	reload    func(reason string) error
	launch    layout.Launcher
	commander layout.Commander
	restore   *layout.Session

	lastValidation string
}

// New builds a daemon from validated configuration.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Daemon, error) {
	engine, err := rules.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}
	log.Infow("classification rules compiled", "rules", engine.Len(), "projects", len(cfg.Projects))
	wmSocket := cfg.WMSocket
	if wmSocket == "" {
		wmSocket, err = wm.SocketPath()
		if err != nil {
			return nil, err
		}
	}
	dial := func() (wm.Transport, error) {
		conn, err := wm.Dial(wmSocket, dialTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	d := &Daemon{
		log:        log,
		manager:    state.NewManager(engine, log),
		events:     buffer.NewLog(cfg.Buffer.Capacity, cfg.Buffer.MaxAge),
		store:      layout.NewStore(cfg.StateDir),
		statePath:  filepath.Join(cfg.StateDir, stateFileName),
		eventsPath: filepath.Join(cfg.StateDir, eventsFileName),
		cmds:       make(chan func(ctx context.Context), 16),
		cfgCh:      make(chan *config.Config, 1),
		cfg:        cfg,
		startedAt:  time.Now(),
	}
	d.sup = wm.NewSupervisor(dial, cfg.Backoff.Base, cfg.Backoff.Cap, log)
	d.commander = d.sup
	d.live = d.sup
	d.validator = reconcile.NewValidator(d.manager, d.live, log)
	d.server, err = control.NewServer(d, cfg.SocketPath, cfg.AllowUIDs, log)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SetReloadFunc installs the callback invoked for control-initiated reloads.
func (d *Daemon) SetReloadFunc(fn func(reason string) error) {
	d.reload = fn
}

// ApplyConfig swaps projects and classification rules at runtime. Existing
// window assignments are untouched.
func (d *Daemon) ApplyConfig(cfg *config.Config) error {
	engine, err := rules.Build(cfg)
	if err != nil {
		return fmt.Errorf("build rules: %w", err)
	}
	d.log.Infow("classification rules compiled", "rules", engine.Len(), "projects", len(cfg.Projects))
	d.manager.SetClassifier(engine)
	select {
	case d.cfgCh <- cfg:
	default:
		// A previous unconsumed swap is superseded.
		select {
		case <-d.cfgCh:
		default:
		}
		d.cfgCh <- cfg
	}
	return nil
}

// Run starts the supervisor, control server, and event loop, blocking until
// the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.loadState()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sup.Run(ctx) })
	g.Go(func() error { return d.server.Serve(ctx) })
	g.Go(func() error { return d.loop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadState restores the checkpoint and event log, treating either as
// advisory. The sequence counter always clears the persisted log's high
// water mark, so a lost checkpoint cannot make the model reuse sequence
// numbers already recorded.
func (d *Daemon) loadState() {
	if err := d.manager.LoadCheckpoint(d.statePath); err != nil {
		// A corrupt or missing checkpoint is recoverable: start empty and
		// let the first reconnect rebuild from the live tree.
		d.log.Warnw("checkpoint unavailable, starting empty", "error", err)
	}
	if err := d.events.Load(d.eventsPath); err != nil {
		d.log.Warnw("event buffer unavailable, starting empty", "error", err)
	}
	d.manager.Fastforward(d.events.LastSeq())
}

func (d *Daemon) loop(ctx context.Context) error {
	validate := time.NewTicker(d.cfg.Validation.Interval)
	defer validate.Stop()
	persist := time.NewTicker(d.cfg.Buffer.Persist)
	defer persist.Stop()

	// Fires at the earliest pending restore correlation deadline.
	restoreTimer := time.NewTimer(time.Hour)
	restoreTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.autoSaveLayouts()
			d.persist()
			return ctx.Err()
		case raw, ok := <-d.sup.Events():
			if !ok {
				return nil
			}
			d.handleRaw(ctx, raw)
			d.armRestoreTimer(restoreTimer)
		case <-d.sup.Reconnects():
			d.recover(ctx)
		case <-validate.C:
			d.recover(ctx)
		case <-persist.C:
			d.events.Prune(time.Now())
			d.persist()
		case <-restoreTimer.C:
			if d.restore != nil {
				d.restore.ExpireDue()
				d.finishRestoreIfDone()
				d.armRestoreTimer(restoreTimer)
			}
		case cfg := <-d.cfgCh:
			d.cfg = cfg
		case cmd := <-d.cmds:
			cmd(ctx)
			d.armRestoreTimer(restoreTimer)
		}
	}
}

func (d *Daemon) handleRaw(ctx context.Context, raw wm.RawEvent) {
	ev, err := event.Normalize(raw)
	if err != nil {
		d.log.Warnw("dropping malformed event", "error", err)
		return
	}
	if ev.Kind == event.WindowMoved && ev.Window != nil && ev.Window.Workspace == 0 {
		d.enrichMove(ctx, ev.Window)
	}
	if ev.Kind == event.OutputChanged && len(ev.Outputs) == 0 {
		d.enrichOutputs(ctx, &ev)
	}
	d.apply("wm", ev)
	if ev.Kind == event.WindowNew && ev.Window != nil && d.restore != nil {
		d.restore.Offer(ctx, ev.Window.ID, ev.Window.Class)
		d.finishRestoreIfDone()
	}
	if ev.Kind == event.WMShutdown {
		d.log.Infow("window manager announced shutdown")
		d.autoSaveLayouts()
	}
}

// enrichOutputs fills a bare output event with the live monitor list; the
// hotplug payload carries no geometry. Without it a capture right after a
// topology change would see stale roles.
func (d *Daemon) enrichOutputs(ctx context.Context, ev *event.Event) {
	outputs, err := d.live.GetOutputs(ctx)
	if err != nil {
		d.log.Debugw("output enrichment skipped", "error", err)
		return
	}
	workspaces, err := d.live.GetWorkspaces(ctx)
	if err != nil {
		d.log.Debugw("output enrichment skipped", "error", err)
		return
	}
	visible := make(map[string]int, len(workspaces))
	for _, ws := range workspaces {
		if ws.Visible {
			visible[ws.Output] = ws.Num
		}
	}
	for _, o := range outputs {
		if !o.Active {
			continue
		}
		ev.Outputs = append(ev.Outputs, event.Output{
			Name:      o.Name,
			Rect:      o.Rect,
			Primary:   o.Primary,
			Workspace: visible[o.Name],
		})
	}
}

// enrichMove fills the workspace a moved window landed on; move payloads
// omit it.
func (d *Daemon) enrichMove(ctx context.Context, win *event.Window) {
	tree, err := d.live.GetTree(ctx)
	if err != nil {
		d.log.Debugw("move enrichment skipped", "error", err)
		return
	}
	tree.WalkWindows(func(n *wm.Node, workspace int, output string) {
		if n.ID == win.ID {
			win.Workspace = workspace
			win.Output = output
		}
	})
}

// apply routes every mutation, live or synthesized, through the single
// manager apply path and records the resulting delta.
func (d *Daemon) apply(source string, ev event.Event) state.Delta {
	delta := d.manager.Apply(ev)
	payload, err := json.Marshal(delta)
	if err != nil {
		d.log.Errorw("encode delta", "error", err)
		payload = nil
	}
	entry := buffer.Entry{
		Seq:     delta.Seq,
		Time:    time.Now(),
		Source:  source,
		Kind:    string(delta.Kind),
		Payload: payload,
	}
	if err := d.events.Append(entry); err != nil {
		d.log.Errorw("event buffer rejected entry", "error", err)
		return delta
	}
	d.server.Broadcast(entry)
	return delta
}

func (d *Daemon) recover(ctx context.Context) {
	result, err := d.validator.Recover(ctx, d.apply)
	now := time.Now().Format(time.RFC3339)
	if err != nil {
		d.lastValidation = fmt.Sprintf("%s %s", now, reconcile.StatusError)
		d.log.Warnw("recovery failed", "error", err)
		return
	}
	d.lastValidation = fmt.Sprintf("%s %s", now, result.Status)
}

// autoSaveLayouts captures an "autosave" snapshot for every project marked
// autoSave, so its arrangement survives WM restarts without a manual capture.
func (d *Daemon) autoSaveLayouts() {
	for _, p := range d.cfg.Projects {
		if !p.AutoSave {
			continue
		}
		windows := d.captureWindows(p.Name)
		if len(windows) == 0 {
			continue
		}
		snap := layout.Capture("autosave", p.Name, windows, d.monitorConfigs(), nil, d.log)
		if err := d.store.Save(snap); err != nil {
			d.log.Errorw("auto-save layout failed", "project", p.Name, "error", err)
		}
	}
}

func (d *Daemon) persist() {
	if err := d.manager.SaveCheckpoint(d.statePath); err != nil {
		d.log.Errorw("save checkpoint", "error", err)
	}
	if err := d.events.Save(d.eventsPath); err != nil {
		d.log.Errorw("save event buffer", "error", err)
	}
}

func (d *Daemon) armRestoreTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if d.restore == nil {
		return
	}
	if deadline, ok := d.restore.NextDeadline(); ok {
		timer.Reset(time.Until(deadline))
	}
}

func (d *Daemon) finishRestoreIfDone() {
	if d.restore == nil || !d.restore.Done() {
		return
	}
	report := d.restore.Report()
	d.log.Infow("restore finished", "layout", report.Name, "project", report.Project,
		"placeholders", len(report.Placeholders))
	d.restore = nil
}

// post runs fn on the loop goroutine and waits for its result.
func (d *Daemon) post(ctx context.Context, fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	select {
	case d.cmds <- func(c context.Context) { errCh <- fn(c) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
