package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

func newGatewayServer(t *testing.T, h http.HandlerFunc) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewGatewayClient(srv.URL+"/", 2*time.Second)
	require.NoError(t, err)
	return g
}

func TestGatewayClientSubscribe(t *testing.T) {
	var got protocol.SubscribeRequest
	var path string
	g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"sessionDescription":{"type":"offer","sdp":"v=0"},"streamIdToTrackId":{"s1":"t1"},"requiresImmediateRenegotiation":true}`)
	})

	res, err := g.SubscribeTracks(context.Background(), "sess", []protocol.RemoteTrack{{Location: "remote", SessionID: "b", TrackName: "t1"}})
	require.NoError(t, err)
	assert.Equal(t, "/tracks/receive", path)
	assert.Equal(t, "sess", got.SessionID)
	assert.Equal(t, "t1", got.Tracks[0].TrackName)
	assert.Equal(t, map[string]string{"s1": "t1"}, res.StreamIDToTrackID)
	assert.True(t, res.RequiresImmediateRenegotiation)
}

func TestGatewayClientPublishAndSession(t *testing.T) {
	g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			_, _ = io.WriteString(w, `{"sessionId":"abc","sessionDescription":{"type":"answer","sdp":"a1"}}`)
		case "/tracks/send":
			var req protocol.PublishRequest
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &req)
			if req.Track.Location != "local" || req.Track.Mid != "0" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"sessionDescription":{"type":"answer","sdp":"a2"}}`)
		}
	})

	s, err := g.CreateSession(context.Background(), "offer")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.SessionID)

	p, err := g.PublishTrack(context.Background(), "abc", "offer2", "0", "track")
	require.NoError(t, err)
	assert.Equal(t, "a2", p.SessionDescription.SDP)
}

func TestGatewayClientErrors(t *testing.T) {
	g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/renegotiate" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"error":{"kind":"negotiation","op":"renegotiate","message":"relay rejected request","status":409,"body":"busy"}}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "oops")
	})

	err := g.Renegotiate(context.Background(), "s", "answer")
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.KindNegotiation, ce.Kind)
	assert.Equal(t, 409, ce.Status)
	assert.Equal(t, "busy", ce.Body)

	_, err = g.CreateSession(context.Background(), "offer")
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 500, ce.Status)
	assert.Equal(t, "oops", ce.Body)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.CreateSession(ctx, "offer")
	assert.True(t, core.IsKind(err, core.KindTransport))
}

func TestNewGatewayClientRejectsBadURL(t *testing.T) {
	_, err := NewGatewayClient("ftp://x", 0)
	assert.Error(t, err)
}
