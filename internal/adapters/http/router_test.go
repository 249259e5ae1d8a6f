package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/ProximityVoice/internal/adapters/relay"
	"github.com/dkeye/ProximityVoice/internal/adapters/signal"
	"github.com/dkeye/ProximityVoice/internal/adapters/store"
	"github.com/dkeye/ProximityVoice/internal/app"
	"github.com/dkeye/ProximityVoice/internal/app/gateway"
	"github.com/dkeye/ProximityVoice/internal/app/orch"
	"github.com/dkeye/ProximityVoice/internal/domain"
	"github.com/dkeye/ProximityVoice/internal/protocol"
	"github.com/dkeye/ProximityVoice/internal/proximity"
)

const relayOffer = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendonly\r\n" +
	"a=msid:remote-stream remote-track\r\n"

// fakeUpstream mimics the media relay's HTTP API.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/sessions/new"):
			_, _ = io.WriteString(w, `{"sessionId":"relay-session","sessionDescription":{"type":"answer","sdp":"answer"}}`)
		case strings.HasSuffix(r.URL.Path, "/sessions/broken/tracks/new"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errorCode":"session_not_found"}`)
		case strings.HasSuffix(r.URL.Path, "/tracks/new"):
			body, _ := json.Marshal(protocol.RelayTracksResponse{
				SessionDescription:             &protocol.SessionDescription{Type: "offer", SDP: relayOffer},
				Tracks:                         []protocol.TrackResult{{Mid: "0", TrackName: "track-b", SessionID: "peer"}},
				RequiresImmediateRenegotiation: true,
			})
			_, _ = w.Write(body)
		case strings.HasSuffix(r.URL.Path, "/renegotiate"):
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	upstream := fakeUpstream(t)
	rc, err := relay.New(relay.Config{BaseURL: upstream.URL, AppID: "app", AppToken: "tok", Timeout: 2 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := SetupRouter(ctx, Deps{
		Mode:    gin.TestMode,
		Orch:    orch.New(app.NewScopeManager(store.NewMemory(), nil)),
		Gateway: gateway.New(rc),
		Signal:  signal.Config{PingPeriod: time.Second},
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestGatewayRoutes(t *testing.T) {
	srv := newTestServer(t)

	status, body := postJSON(t, srv, "/session", `{"sdp":"offer"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "relay-session", body["sessionId"])

	status, body = postJSON(t, srv, "/tracks/receive",
		`{"sessionId":"relay-session","tracks":[{"location":"remote","sessionId":"peer","trackName":"track-b"}]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"remote-stream": "track-b"}, body["streamIdToTrackId"])
	assert.Equal(t, true, body["requiresImmediateRenegotiation"])

	status, _ = postJSON(t, srv, "/tracks/send",
		`{"sessionId":"relay-session","sdp":"offer","track":{"location":"local","mid":"0","trackName":"mine"}}`)
	require.Equal(t, http.StatusOK, status)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/renegotiate", strings.NewReader(`{"sessionId":"relay-session","sdp":"answer"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewayErrors(t *testing.T) {
	srv := newTestServer(t)

	status, body := postJSON(t, srv, "/tracks/receive", `{"sessionId":"relay-session","tracks":[]}`)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["error"].(map[string]any)["kind"])

	tracks := make([]string, protocol.MaxSubscribeBatch+1)
	for i := range tracks {
		tracks[i] = `{"location":"remote","sessionId":"p","trackName":"t"}`
	}
	status, _ = postJSON(t, srv, "/tracks/receive", `{"sessionId":"s","tracks":[`+strings.Join(tracks, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = postJSON(t, srv, "/tracks/receive",
		`{"sessionId":"broken","tracks":[{"location":"remote","sessionId":"p","trackName":"t"}]}`)
	require.Equal(t, http.StatusBadGateway, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "negotiation", errBody["kind"])
	assert.Equal(t, float64(http.StatusNotFound), errBody["status"])
	assert.Equal(t, `{"errorCode":"session_not_found"}`, errBody["body"])
}

func TestWebsocketHandshakeErrors(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/websocket?sessionId=a&trackId=t&remote=r")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	for _, q := range []string{"trackId=t&remote=r", "sessionId=a&remote=r", "sessionId=a&trackId=t"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, q), nil)
		require.Error(t, err, q)
		require.NotNil(t, resp, q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func wsURL(srv *httptest.Server, rawQuery string) string {
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/websocket"
	u.RawQuery = rawQuery
	return u.String()
}

func dial(t *testing.T, srv *httptest.Server, session, track, remote string) *websocket.Conn {
	t.Helper()
	q := url.Values{"sessionId": {session}, "trackId": {track}, "remote": {remote}}
	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv, q.Encode()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type wire struct {
	Command  string               `json:"command"`
	TrackID  string               `json:"trackId"`
	Message  string               `json:"message"`
	Sessions []domain.RosterEntry `json:"sessions"`
}

func readUntil(t *testing.T, c *websocket.Conn, match func(wire) bool) wire {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		var m wire
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		if match(m) {
			return m
		}
	}
}

func rosterOf(n int) func(wire) bool {
	return func(m wire) bool { return m.Command == protocol.CmdActiveSessions && len(m.Sessions) == n }
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func volumeBetween(roster []domain.RosterEntry, self, other string) float64 {
	var selfPath, otherPath string
	for _, e := range roster {
		switch e.ID {
		case self:
			selfPath = e.Path
		case other:
			otherPath = e.Path
		}
	}
	return proximity.DefaultTable.VolumeFor(&selfPath, otherPath)
}

func TestTwoParticipantsHearByDistance(t *testing.T) {
	srv := newTestServer(t)
	const remote = "github.com/acme/app"

	a := dial(t, srv, "alice", "track-a", remote)
	b := dial(t, srv, "bob", "track-b", remote)

	send(t, a, map[string]any{"command": "set_path", "path": "/a/x.txt"})
	send(t, b, map[string]any{"command": "set_path", "path": "/a/y.txt"})

	roster := readUntil(t, a, rosterOf(2)).Sessions
	assert.Equal(t, 1, proximity.Distance("/a/x.txt", "/a/y.txt"))
	assert.Equal(t, 0.6, volumeBetween(roster, "alice", "bob"))

	send(t, b, map[string]any{"command": "set_path", "path": "/b/z.txt"})
	roster = readUntil(t, a, func(m wire) bool {
		return rosterOf(2)(m) && m.Sessions[1].Path == "/b/z.txt"
	}).Sessions
	// two hops up and two down
	assert.Equal(t, 3, proximity.Distance("/a/x.txt", "/b/z.txt"))
	assert.Equal(t, 0.0, volumeBetween(roster, "alice", "bob"))

	// other scopes never see this roster
	c := dial(t, srv, "carol", "track-c", "github.com/acme/other")
	assert.Empty(t, readUntil(t, c, func(m wire) bool { return m.Command == protocol.CmdActiveSessions }).Sessions)

	require.NoError(t, b.Close())
	closed := readUntil(t, a, func(m wire) bool { return m.Command == protocol.CmdTrackClosed })
	assert.Equal(t, "track-b", closed.TrackID)
	roster = readUntil(t, a, rosterOf(1)).Sessions
	assert.Equal(t, "alice", roster[0].ID)
}

func TestWebsocketPingAndInvalidMessages(t *testing.T) {
	srv := newTestServer(t)
	a := dial(t, srv, "alice", "track-a", "r")

	send(t, a, map[string]any{"command": "ping"})
	readUntil(t, a, func(m wire) bool { return m.Command == protocol.CmdPong })

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, a.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := a.ReadMessage()
		require.NoError(t, err)
		if string(data) == "pong" {
			break
		}
	}

	send(t, a, map[string]any{"command": "set_path", "path": strings.Repeat("x", domain.MaxPathLen+1)})
	m := readUntil(t, a, func(m wire) bool { return m.Command == protocol.CmdError })
	assert.NotEmpty(t, m.Message)

	// connection survives
	send(t, a, map[string]any{"command": "set_path", "path": "/ok"})
	readUntil(t, a, rosterOf(1))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	for _, p := range []string{"/healthz", "/metrics", "/scopes"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
}
