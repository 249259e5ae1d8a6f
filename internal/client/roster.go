package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/domain"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

const (
	rosterWriteWait = 5 * time.Second
	maxBackoff      = 30 * time.Second
)

var errNoConn = errors.New("registry not connected")

// RosterHandler receives registry broadcasts.
type RosterHandler interface {
	OnRoster(roster []domain.RosterEntry)
	OnTrackClosed(trackID string)
}

// RosterClient keeps one registry connection per remote, redialing on loss
// and replaying the local path and name after every reconnect.
type RosterClient struct {
	endpoint  string
	sessionID string
	trackID   string
	handler   RosterHandler
	dialer    *websocket.Dialer
	backoff   time.Duration
	onReset   func()

	mu     sync.Mutex
	remote string
	path   *string
	pretty string
	name   string
	conn   *websocket.Conn
	// writes on conn, gorilla allows one concurrent writer
	writeMu sync.Mutex

	changed chan struct{}
}

// NewRosterClient derives the socket endpoint from the gateway base URL.
func NewRosterClient(baseURL, sessionID, trackID string, h RosterHandler) (*RosterClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	return &RosterClient{
		endpoint:  u.String(),
		sessionID: sessionID,
		trackID:   trackID,
		handler:   h,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:   time.Second,
		changed:   make(chan struct{}, 1),
	}, nil
}

// OnReset registers a callback run whenever the remote changes.
func (r *RosterClient) OnReset(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReset = fn
}

// SetRemote switches the registry scope. The current connection is dropped
// and Run dials the new remote.
func (r *RosterClient) SetRemote(remote string) {
	r.mu.Lock()
	if remote == r.remote {
		r.mu.Unlock()
		return
	}
	r.remote = remote
	conn := r.conn
	r.conn = nil
	reset := r.onReset
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if reset != nil {
		reset()
	}
	r.kick()
}

func (r *RosterClient) Remote() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remote
}

// SetPath records the local path and forwards it when connected.
func (r *RosterClient) SetPath(path *string, pretty string) error {
	r.mu.Lock()
	if path == nil {
		r.path = nil
	} else {
		p := *path
		r.path = &p
	}
	r.pretty = pretty
	msg := r.pathMsgLocked()
	r.mu.Unlock()
	return r.write(msg)
}

func (r *RosterClient) SetName(name string) error {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
	return r.write(protocol.SetName{Command: protocol.CmdSetName, Name: name})
}

func (r *RosterClient) pathMsgLocked() protocol.SetPath {
	return protocol.SetPath{Command: protocol.CmdSetPath, Path: r.path, PrettyPath: r.pretty}
}

// Run dials and reads until ctx ends.
func (r *RosterClient) Run(ctx context.Context) {
	wait := r.backoff
	for ctx.Err() == nil {
		remote := r.Remote()
		if remote == "" {
			if !r.sleep(ctx, -1) {
				return
			}
			continue
		}

		conn, err := r.dial(ctx, remote)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.roster").Str("remote", remote).Dur("retry", wait).Msg("dial failed")
			if !r.sleep(ctx, wait) {
				return
			}
			wait = min(wait*2, maxBackoff)
			continue
		}
		wait = r.backoff

		log.Info().Str("module", "client.roster").Str("remote", remote).Msg("registry connected")
		r.read(ctx, conn)
		_ = conn.Close()

		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
	}
}

func (r *RosterClient) dial(ctx context.Context, remote string) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("sessionId", r.sessionID)
	q.Set("trackId", r.trackID)
	q.Set("remote", remote)

	conn, resp, err := r.dialer.DialContext(ctx, r.endpoint+"?"+q.Encode(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.remote != remote {
		// remote changed while dialing
		r.mu.Unlock()
		_ = conn.Close()
		return nil, errors.New("remote changed")
	}
	r.conn = conn
	hello := []any{r.pathMsgLocked()}
	if r.name != "" {
		hello = append(hello, protocol.SetName{Command: protocol.CmdSetName, Name: r.name})
	}
	r.mu.Unlock()

	for _, m := range hello {
		if err := r.write(m); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (r *RosterClient) read(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "client.roster").Msg("registry read error")
			}
			return
		}
		r.dispatch(data)
	}
}

func (r *RosterClient) dispatch(data []byte) {
	if strings.TrimSpace(string(data)) == protocol.CmdPong {
		return
	}
	cmd, err := protocol.Command(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client.roster").Msg("bad registry message")
		return
	}
	switch cmd {
	case protocol.CmdActiveSessions:
		var m protocol.ActiveSessions
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn().Err(err).Str("module", "client.roster").Msg("bad roster")
			return
		}
		r.handler.OnRoster(m.Sessions)
	case protocol.CmdTrackClosed:
		var m protocol.TrackClosed
		if err := protocol.Decode(cmd, data, &m); err != nil {
			log.Warn().Err(err).Str("module", "client.roster").Msg("bad track_closed")
			return
		}
		r.handler.OnTrackClosed(m.TrackID)
	case protocol.CmdError:
		var m protocol.ErrorMessage
		_ = json.Unmarshal(data, &m)
		log.Warn().Str("module", "client.roster").Str("message", m.Message).Msg("registry error")
	case protocol.CmdPong:
	default:
		log.Debug().Str("module", "client.roster").Str("command", cmd).Msg("ignored registry message")
	}
}

func (r *RosterClient) write(v any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errNoConn
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(rosterWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (r *RosterClient) kick() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// sleep waits for d (forever when negative), a remote change or ctx.
func (r *RosterClient) sleep(ctx context.Context, d time.Duration) bool {
	var timer <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.changed:
		return true
	case <-timer:
		return true
	}
}
