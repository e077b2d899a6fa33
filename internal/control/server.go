package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/swayscope/swayscope/internal/buffer"
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/reconcile"
	"github.com/swayscope/swayscope/internal/state"
)

// Backend is the daemon surface the control server exposes. Mutating calls
// are routed through the daemon loop by the implementation.
type Backend interface {
	Status() Status
	Windows() []state.WindowRecord
	EventsSince(seq uint64) []buffer.Entry
	CaptureLayout(ctx context.Context, project, name string) (*layout.Snapshot, error)
	RestoreLayout(ctx context.Context, project, name string) error
	CancelRestore(ctx context.Context) error
	Coverage(ctx context.Context) reconcile.CoverageResult
	Reload(reason string) error
}

// Server hosts the control socket. Connections are persistent: a client may
// issue many requests, and subscribed connections additionally receive event
// notifications until they disconnect.
type Server struct {
	backend    Backend
	log        *zap.SugaredLogger
	socketPath string
	allowUIDs  map[uint32]struct{}
	peerUID    PeerUID

	mu       sync.Mutex
	listener net.Listener
	subs     map[*connWriter]struct{}
}

// NewServer creates a control server allowing only the given UIDs. An empty
// allow-list admits just the daemon's own UID.
func NewServer(backend Backend, socketPath string, allowUIDs []uint32, log *zap.SugaredLogger) (*Server, error) {
	if socketPath == "" {
		var err error
		socketPath, err = DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	allowed := make(map[uint32]struct{}, len(allowUIDs)+1)
	allowed[uint32(os.Getuid())] = struct{}{}
	for _, uid := range allowUIDs {
		allowed[uid] = struct{}{}
	}
	return &Server{
		backend:    backend,
		log:        log,
		socketPath: socketPath,
		allowUIDs:  allowed,
		peerUID:    UnixPeerUID,
		subs:       make(map[*connWriter]struct{}),
	}, nil
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.log.Infow("control server listening", "socket", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.log.Errorw("control accept failed", "error", err)
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	for sub := range s.subs {
		sub.conn.Close()
		delete(s.subs, sub)
	}
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warnw("remove control socket", "error", err)
	}
}

// Broadcast pushes an applied event entry to every subscribed connection.
// Dead subscribers are dropped on write failure.
func (s *Server) Broadcast(entry buffer.Entry) {
	s.mu.Lock()
	subs := make([]*connWriter, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		if err := sub.write(Notification{Method: NotifyEvent, Params: entry}); err != nil {
			s.unsubscribe(sub)
			sub.conn.Close()
		}
	}
}

func (s *Server) subscribe(w *connWriter) {
	s.mu.Lock()
	s.subs[w] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unsubscribe(w *connWriter) {
	s.mu.Lock()
	delete(s.subs, w)
	s.mu.Unlock()
}

// connWriter serializes writes to one connection; request responses and
// broadcast notifications share it.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
}

func (w *connWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	w := &connWriter{conn: conn, enc: json.NewEncoder(conn)}
	defer func() {
		s.unsubscribe(w)
		conn.Close()
	}()

	// Unauthorized peers are closed before any payload is read.
	if err := s.authorize(conn); err != nil {
		s.log.Warnw("rejected control connection", "error", err)
		return
	}

	dec := json.NewDecoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		s.dispatch(ctx, w, req)
	}
}

// authorize checks the peer's kernel-verified UID against the allow-list.
func (s *Server) authorize(conn net.Conn) error {
	uid, err := s.peerUID(conn)
	if err != nil {
		return fmt.Errorf("peer credential check: %w", err)
	}
	if _, ok := s.allowUIDs[uid]; !ok {
		return fmt.Errorf("uid %d: %w", uid, ErrUnauthorized)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, w *connWriter, req Request) {
	switch req.Method {
	case MethodSubscribe:
		s.subscribe(w)
		s.writeResult(w, req.ID, map[string]bool{"subscribed": true})
	case MethodGetStatus:
		s.writeResult(w, req.ID, s.backend.Status())
	case MethodListWindows:
		s.writeResult(w, req.ID, s.backend.Windows())
	case MethodGetEvents:
		var params EventsParams
		if !s.decodeParams(w, req, &params) {
			return
		}
		s.writeResult(w, req.ID, s.backend.EventsSince(params.Since))
	case MethodCaptureLayout:
		var params LayoutParams
		if !s.decodeParams(w, req, &params) {
			return
		}
		snap, err := s.backend.CaptureLayout(ctx, params.Project, params.Name)
		if err != nil {
			s.writeError(w, req.ID, CodeInternal, err)
			return
		}
		s.writeResult(w, req.ID, snap)
	case MethodRestoreLayout:
		var params LayoutParams
		if !s.decodeParams(w, req, &params) {
			return
		}
		if err := s.backend.RestoreLayout(ctx, params.Project, params.Name); err != nil {
			code := CodeInternal
			if errors.Is(err, os.ErrNotExist) {
				code = CodeNotFound
			}
			s.writeError(w, req.ID, code, err)
			return
		}
		s.writeResult(w, req.ID, map[string]bool{"started": true})
	case MethodCancelRestore:
		if err := s.backend.CancelRestore(ctx); err != nil {
			s.writeError(w, req.ID, CodeInternal, err)
			return
		}
		s.writeResult(w, req.ID, nil)
	case MethodCoverage:
		s.writeResult(w, req.ID, s.backend.Coverage(ctx))
	case MethodReload:
		if err := s.backend.Reload("control request"); err != nil {
			s.writeError(w, req.ID, CodeInternal, err)
			return
		}
		s.writeResult(w, req.ID, nil)
	default:
		s.writeError(w, req.ID, CodeUnknownMethod, fmt.Errorf("unknown method %q", req.Method))
	}
}

func (s *Server) decodeParams(w *connWriter, req Request, out any) bool {
	if len(req.Params) == 0 {
		s.writeError(w, req.ID, CodeBadRequest, fmt.Errorf("%s requires params", req.Method))
		return false
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		s.writeError(w, req.ID, CodeBadRequest, fmt.Errorf("decode params: %w", err))
		return false
	}
	return true
}

func (s *Server) writeResult(w *connWriter, id int64, result any) {
	if err := w.write(Response{ID: id, Result: result}); err != nil {
		s.log.Debugw("write response failed", "error", err)
	}
}

func (s *Server) writeError(w *connWriter, id int64, code string, err error) {
	resp := Response{ID: id, Error: &Error{Code: code}}
	if err != nil {
		resp.Error.Message = err.Error()
	}
	if werr := w.write(resp); werr != nil {
		s.log.Debugw("write error response failed", "error", werr)
	}
}
