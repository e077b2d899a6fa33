package wm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transport abstracts the window manager connection so tests can substitute
// a fake.
type Transport interface {
	NextEvent() (RawEvent, error)
	RunCommand(ctx context.Context, command string) error
	GetTree(ctx context.Context) (*Node, error)
	GetOutputs(ctx context.Context) ([]Output, error)
	GetWorkspaces(ctx context.Context) ([]WorkspaceInfo, error)
	Close() error
}

// Dialer establishes a new transport.
type Dialer func() (Transport, error)

// Supervisor owns the window manager connection, reconnecting with
// exponential backoff on loss. Every successful (re)connection is announced
// on Reconnects so the validator can reconcile missed events.
type Supervisor struct {
	dial    Dialer
	base    time.Duration
	cap     time.Duration
	log     *zap.SugaredLogger
	events  chan RawEvent
	reconns chan struct{}

	mu   sync.Mutex
	conn Transport

	// sleep is injectable for tests; it reports false on context cancel.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewSupervisor creates a supervisor using the provided dialer.
func NewSupervisor(dial Dialer, base, cap time.Duration, log *zap.SugaredLogger) *Supervisor {
	if base <= 0 {
		base = time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	return &Supervisor{
		dial:    dial,
		base:    base,
		cap:     cap,
		log:     log,
		events:  make(chan RawEvent, 64),
		reconns: make(chan struct{}, 1),
		sleep:   sleepCtx,
	}
}

// Events returns the raw event stream. The channel closes when Run returns.
func (s *Supervisor) Events() <-chan RawEvent {
	return s.events
}

// Reconnects signals each successful (re)connection.
func (s *Supervisor) Reconnects() <-chan struct{} {
	return s.reconns
}

// Run connects and pumps events until the context is cancelled. Failure to
// connect is never fatal; the supervisor retries forever.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.events)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := s.dial()
		if err != nil {
			delay := s.backoffDelay(attempt)
			s.log.Warnw("window manager connect failed", "error", err, "retryIn", delay)
			attempt++
			if !s.sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0
		s.setConn(conn)
		select {
		case s.reconns <- struct{}{}:
		default:
		}
		s.log.Infow("window manager connected")
		err = s.pump(ctx, conn)
		s.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warnw("window manager connection lost", "error", err)
	}
}

func (s *Supervisor) pump(ctx context.Context, conn Transport) error {
	for {
		ev, err := conn.NextEvent()
		if err != nil {
			return err
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoffDelay returns min(base * 2^attempt, cap).
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	delay := s.base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.cap {
			return s.cap
		}
	}
	if delay > s.cap {
		return s.cap
	}
	return delay
}

func (s *Supervisor) setConn(conn Transport) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Connected reports whether a live connection is held.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Supervisor) current() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrConnectionLost
	}
	return s.conn, nil
}

// dropOnTimeout closes the connection after a command timeout so the pump
// loop notices and triggers a reconnect cycle.
func (s *Supervisor) dropOnTimeout(conn Transport, err error) {
	if err == nil || !errors.Is(err, ErrCommandTimeout) {
		return
	}
	s.log.Warnw("command timed out, recycling connection")
	conn.Close()
}

// RunCommand proxies to the live connection.
func (s *Supervisor) RunCommand(ctx context.Context, command string) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	err = conn.RunCommand(ctx, command)
	s.dropOnTimeout(conn, err)
	return err
}

// GetTree proxies to the live connection.
func (s *Supervisor) GetTree(ctx context.Context) (*Node, error) {
	conn, err := s.current()
	if err != nil {
		return nil, err
	}
	tree, err := conn.GetTree(ctx)
	s.dropOnTimeout(conn, err)
	return tree, err
}

// GetOutputs proxies to the live connection.
func (s *Supervisor) GetOutputs(ctx context.Context) ([]Output, error) {
	conn, err := s.current()
	if err != nil {
		return nil, err
	}
	outputs, err := conn.GetOutputs(ctx)
	s.dropOnTimeout(conn, err)
	return outputs, err
}

// GetWorkspaces proxies to the live connection.
func (s *Supervisor) GetWorkspaces(ctx context.Context) ([]WorkspaceInfo, error) {
	conn, err := s.current()
	if err != nil {
		return nil, err
	}
	workspaces, err := conn.GetWorkspaces(ctx)
	s.dropOnTimeout(conn, err)
	return workspaces, err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
