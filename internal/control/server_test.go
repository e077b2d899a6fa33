package control

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swayscope/swayscope/internal/buffer"
	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/reconcile"
	"github.com/swayscope/swayscope/internal/state"
)

type fakeBackend struct {
	mu       sync.Mutex
	status   Status
	windows  []state.WindowRecord
	entries  []buffer.Entry
	reloads  int
	restored []string
}

func (f *fakeBackend) Status() Status                { return f.status }
func (f *fakeBackend) Windows() []state.WindowRecord { return f.windows }

func (f *fakeBackend) EventsSince(seq uint64) []buffer.Entry {
	var out []buffer.Entry
	for _, e := range f.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeBackend) CaptureLayout(_ context.Context, project, name string) (*layout.Snapshot, error) {
	return &layout.Snapshot{Name: name, Project: project}, nil
}

func (f *fakeBackend) RestoreLayout(_ context.Context, project, name string) error {
	if name == "missing" {
		return os.ErrNotExist
	}
	f.mu.Lock()
	f.restored = append(f.restored, project+"/"+name)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) CancelRestore(context.Context) error { return nil }

func (f *fakeBackend) Coverage(context.Context) reconcile.CoverageResult {
	return reconcile.CoverageResult{Status: reconcile.StatusPass}
}

func (f *fakeBackend) Reload(string) error {
	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, backend Backend, uid uint32) *Server {
	t.Helper()
	srv, err := NewServer(backend, "/tmp/unused.sock", []uint32{1000}, zap.NewNop().Sugar())
	require.NoError(t, err)
	srv.peerUID = func(net.Conn) (uint32, error) { return uid, nil }
	return srv
}

func roundTrip(t *testing.T, clientConn net.Conn, req Request) Response {
	t.Helper()
	require.NoError(t, json.NewEncoder(clientConn).Encode(req))
	var resp Response
	require.NoError(t, json.NewDecoder(clientConn).Decode(&resp))
	return resp
}

func TestAllowedPeerGetsStatus(t *testing.T) {
	backend := &fakeBackend{status: Status{Connected: true, Seq: 42, Windows: 3}}
	srv := newTestServer(t, backend, 1000)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go srv.handle(context.Background(), serverConn)

	resp := roundTrip(t, clientConn, Request{ID: 1, Method: MethodGetStatus})
	require.Nil(t, resp.Error)
	require.Equal(t, int64(1), resp.ID)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal(data, &status))
	require.True(t, status.Connected)
	require.Equal(t, uint64(42), status.Seq)
}

func TestDeniedPeerClosedBeforeRead(t *testing.T) {
	srv := newTestServer(t, &fakeBackend{}, 4242)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	require.ErrorIs(t, srv.authorize(serverConn), ErrUnauthorized)

	done := make(chan struct{})
	go func() {
		srv.handle(context.Background(), serverConn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler kept unauthorized connection open")
	}

	var resp Response
	require.Error(t, json.NewDecoder(clientConn).Decode(&resp),
		"connection must be closed without a response")
}

func TestUnknownMethodError(t *testing.T) {
	srv := newTestServer(t, &fakeBackend{}, 1000)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go srv.handle(context.Background(), serverConn)

	resp := roundTrip(t, clientConn, Request{ID: 7, Method: "bogus"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeUnknownMethod, resp.Error.Code)
	require.Equal(t, int64(7), resp.ID)
}

func TestGetEventsFiltersBySeq(t *testing.T) {
	backend := &fakeBackend{entries: []buffer.Entry{{Seq: 1}, {Seq: 2}, {Seq: 3}}}
	srv := newTestServer(t, backend, 1000)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go srv.handle(context.Background(), serverConn)

	params, _ := json.Marshal(EventsParams{Since: 1})
	resp := roundTrip(t, clientConn, Request{ID: 2, Method: MethodGetEvents, Params: params})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var entries []buffer.Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 2)
	require.Equal(t, uint64(2), entries[0].Seq)
}

func TestRestoreMissingLayoutReturnsNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeBackend{}, 1000)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go srv.handle(context.Background(), serverConn)

	params, _ := json.Marshal(LayoutParams{Project: "dev", Name: "missing"})
	resp := roundTrip(t, clientConn, Request{ID: 3, Method: MethodRestoreLayout, Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestSubscribeStreamsBroadcasts(t *testing.T) {
	srv := newTestServer(t, &fakeBackend{}, 1000)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go srv.handle(context.Background(), serverConn)

	resp := roundTrip(t, clientConn, Request{ID: 1, Method: MethodSubscribe})
	require.Nil(t, resp.Error)

	go srv.Broadcast(buffer.Entry{Seq: 9, Kind: "window.new"})

	var notif struct {
		Method string       `json:"method"`
		Params buffer.Entry `json:"params"`
	}
	require.NoError(t, json.NewDecoder(clientConn).Decode(&notif))
	require.Equal(t, NotifyEvent, notif.Method)
	require.Equal(t, uint64(9), notif.Params.Seq)
	require.Equal(t, "window.new", notif.Params.Kind)
}
