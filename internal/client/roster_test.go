package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/ProximityVoice/internal/domain"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

type registryStub struct {
	mu       sync.Mutex
	queries  []string
	received []map[string]any
	conns    []*websocket.Conn
}

func (s *registryStub) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Query().Get("remote"))
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		_ = conn.WriteJSON(protocol.NewActiveSessions([]domain.RosterEntry{{ID: "b", TrackID: "tb", Path: "/x"}}))
		_ = conn.WriteJSON(protocol.NewTrackClosed("gone"))
		for {
			var m map[string]any
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, m)
			s.mu.Unlock()
		}
	}
}

func (s *registryStub) snapshot() ([]string, []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...), append([]map[string]any(nil), s.received...)
}

type recordingHandler struct {
	mu      sync.Mutex
	rosters int
	closed  []string
}

func (h *recordingHandler) OnRoster([]domain.RosterEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rosters++
}

func (h *recordingHandler) OnTrackClosed(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, id)
}

func (h *recordingHandler) counts() (int, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosters, append([]string(nil), h.closed...)
}

func TestRosterClientConnectsAndReplaysState(t *testing.T) {
	stub := &registryStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	h := &recordingHandler{}
	rc, err := NewRosterClient(srv.URL, "me", "track-me", h)
	require.NoError(t, err)
	resets := 0
	rc.OnReset(func() { resets++ })

	// not connected yet: state is kept for the handshake
	path := "/a/x.txt"
	assert.ErrorIs(t, rc.SetPath(&path, "A/x.txt"), errNoConn)
	assert.ErrorIs(t, rc.SetName("Me"), errNoConn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rc.Run(ctx)
		close(done)
	}()
	rc.SetRemote("github.com/acme/app")

	require.Eventually(t, func() bool {
		_, got := stub.snapshot()
		return len(got) == 2
	}, 3*time.Second, 10*time.Millisecond)
	queries, got := stub.snapshot()
	assert.Equal(t, []string{"github.com/acme/app"}, queries)
	assert.Equal(t, "set_path", got[0]["command"])
	assert.Equal(t, "/a/x.txt", got[0]["path"])
	assert.Equal(t, "A/x.txt", got[0]["prettyPath"])
	assert.Equal(t, map[string]any{"command": "set_name", "name": "Me"}, got[1])

	require.Eventually(t, func() bool {
		n, closed := h.counts()
		return n == 1 && len(closed) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// switching remote reconnects to the new scope
	rc.SetRemote("github.com/acme/other")
	assert.Equal(t, 2, resets)
	require.Eventually(t, func() bool {
		q, _ := stub.snapshot()
		return len(q) == 2
	}, 3*time.Second, 10*time.Millisecond)
	queries, _ = stub.snapshot()
	assert.Equal(t, "github.com/acme/other", queries[1])

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRosterClientEndpoint(t *testing.T) {
	rc, err := NewRosterClient("https://voice.example.com/base/", "s", "t", &recordingHandler{})
	require.NoError(t, err)
	assert.Equal(t, "wss://voice.example.com/base/websocket", rc.endpoint)
}
