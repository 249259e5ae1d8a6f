package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
	"github.com/dkeye/ProximityVoice/internal/metrics"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

var ErrUnknownConn = errors.New("unknown connection")

type sessionEntry struct {
	Conn    core.SignalConnection
	Session *domain.Session
}

// Registry is the authoritative table of connected sessions for one scope.
// Every mutation and the broadcast it causes happen under one mutex, so all
// connections observe rosters in the same order.
type Registry struct {
	mu        sync.Mutex
	scope     domain.Scope
	store     core.AttachmentStore
	policy    Policy
	sessions  map[core.ConnID]*sessionEntry
	bySession map[string]core.ConnID
	now       func() time.Time
}

func NewRegistry(scope domain.Scope, store core.AttachmentStore, policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		scope:     scope,
		store:     store,
		policy:    policy,
		sessions:  make(map[core.ConnID]*sessionEntry),
		bySession: make(map[string]core.ConnID),
		now:       time.Now,
	}
}

func (r *Registry) Scope() domain.Scope { return r.scope }

// Connect registers a freshly accepted connection. A live connection already
// holding sessionID is treated as stale and evicted first.
func (r *Registry) Connect(ctx context.Context, conn core.SignalConnection, sessionID, trackID string) error {
	if sessionID == "" {
		return core.Validation("connect", "sessionId is required")
	}
	if len(sessionID) > domain.MaxSessionLen {
		return core.Validation("connect", "sessionId too long")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if old, ok := r.bySession[sessionID]; ok && old != conn.ID() {
		if e := r.sessions[old]; e != nil {
			e.Conn.Close()
		}
		r.removeLocked(ctx, old, "replaced")
		evicted = true
	}

	s := &domain.Session{
		ID:          sessionID,
		TrackID:     trackID,
		Name:        domain.DefaultName,
		ConnectedAt: r.now(),
	}
	r.sessions[conn.ID()] = &sessionEntry{Conn: conn, Session: s}
	r.bySession[sessionID] = conn.ID()
	r.persistLocked(ctx, conn.ID(), s)
	metrics.Connections.WithLabelValues(string(r.scope)).Inc()

	log.Info().Str("module", "app.registry").Str("scope", string(r.scope)).
		Str("sid", sessionID).Str("conn", string(conn.ID())).Msg("session connected")

	if evicted {
		r.broadcastRosterLocked(ctx)
		return nil
	}
	// the newcomer is not in the roster yet but needs the current one
	r.deliverLocked(ctx, []core.ConnID{conn.ID()}, protocol.CmdActiveSessions, protocol.NewActiveSessions(r.rosterLocked()))
	return nil
}

// SetPath records the location reported by the connection and broadcasts the roster.
func (r *Registry) SetPath(ctx context.Context, conn core.ConnID, path *string, pretty string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[conn]
	if !ok {
		return core.Validation("set_path", ErrUnknownConn.Error())
	}
	if err := e.Session.SetPath(path, pretty); err != nil {
		return core.Validation("set_path", err.Error())
	}
	r.persistLocked(ctx, conn, e.Session)
	r.broadcastRosterLocked(ctx)
	return nil
}

// SetName changes the display name and broadcasts the roster.
func (r *Registry) SetName(ctx context.Context, conn core.ConnID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[conn]
	if !ok {
		return core.Validation("set_name", ErrUnknownConn.Error())
	}
	if err := e.Session.SetName(name); err != nil {
		return core.Validation("set_name", err.Error())
	}
	log.Info().Str("module", "app.registry").Str("sid", e.Session.ID).Str("name", e.Session.Name).Msg("updated name")
	r.persistLocked(ctx, conn, e.Session)
	r.broadcastRosterLocked(ctx)
	return nil
}

// Disconnect removes the connection. Remaining connections get one
// track_closed for its track (if any) followed by the new roster.
func (r *Registry) Disconnect(ctx context.Context, conn core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(ctx, conn, "closed")
}

// Roster returns the active sessions ordered by connection time.
func (r *Registry) Roster() []domain.RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Rehydrate rebuilds the table for connections that are still open but were
// accepted by a registry instance that no longer exists. Connections without
// a stored attachment are closed. It returns the number restored.
func (r *Registry) Rehydrate(ctx context.Context, conns []core.SignalConnection) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	fresh := make(map[core.ConnID]bool, len(conns))
	for _, c := range conns {
		if _, ok := r.sessions[c.ID()]; ok {
			continue
		}
		a, ok, err := r.store.Get(ctx, r.scope, c.ID())
		if err != nil {
			return restored, core.Transport("rehydrate", err)
		}
		if !ok {
			log.Warn().Str("module", "app.registry").Str("scope", string(r.scope)).
				Str("conn", string(c.ID())).Msg("no attachment for open connection, closing")
			c.Close()
			continue
		}
		s := a.Session()
		if prev, dup := r.bySession[s.ID]; dup {
			// keep the newest connection for a session id
			if r.sessions[prev].Session.ConnectedAt.After(s.ConnectedAt) {
				c.Close()
				r.forgetLocked(ctx, c.ID())
				continue
			}
			r.sessions[prev].Conn.Close()
			delete(r.sessions, prev)
			r.forgetLocked(ctx, prev)
			metrics.Connections.WithLabelValues(string(r.scope)).Dec()
			if fresh[prev] {
				delete(fresh, prev)
				restored--
			}
		}
		r.sessions[c.ID()] = &sessionEntry{Conn: c, Session: s}
		r.bySession[s.ID] = c.ID()
		metrics.Connections.WithLabelValues(string(r.scope)).Inc()
		fresh[c.ID()] = true
		restored++
	}
	metrics.Rehydrations.Inc()
	log.Info().Str("module", "app.registry").Str("scope", string(r.scope)).Int("restored", restored).Msg("rehydrated")
	return restored, nil
}

func (r *Registry) rosterLocked() []domain.RosterEntry {
	active := make([]*domain.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Session.Active() {
			active = append(active, e.Session)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].ConnectedAt.Equal(active[j].ConnectedAt) {
			return active[i].ConnectedAt.Before(active[j].ConnectedAt)
		}
		return active[i].ID < active[j].ID
	})
	out := make([]domain.RosterEntry, 0, len(active))
	for _, s := range active {
		out = append(out, s.Entry())
	}
	return out
}

func (r *Registry) removeLocked(ctx context.Context, conn core.ConnID, reason string) bool {
	e, ok := r.sessions[conn]
	if !ok {
		return false
	}
	delete(r.sessions, conn)
	if r.bySession[e.Session.ID] == conn {
		delete(r.bySession, e.Session.ID)
	}
	r.forgetLocked(ctx, conn)
	metrics.Connections.WithLabelValues(string(r.scope)).Dec()
	log.Info().Str("module", "app.registry").Str("scope", string(r.scope)).
		Str("sid", e.Session.ID).Str("conn", string(conn)).Str("reason", reason).Msg("session removed")

	if e.Session.TrackID != "" {
		r.deliverLocked(ctx, r.connIDsLocked(), protocol.CmdTrackClosed, protocol.NewTrackClosed(e.Session.TrackID))
	}
	r.broadcastRosterLocked(ctx)
	return true
}

func (r *Registry) broadcastRosterLocked(ctx context.Context) {
	r.deliverLocked(ctx, r.connIDsLocked(), protocol.CmdActiveSessions, protocol.NewActiveSessions(r.rosterLocked()))
}

func (r *Registry) connIDsLocked() []core.ConnID {
	ids := make([]core.ConnID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// deliverLocked sends msg to the given connections and applies the policy to
// the ones that refuse it. Kicking a member broadcasts again, so the new
// frames always reflect the table after the kick.
func (r *Registry) deliverLocked(ctx context.Context, to []core.ConnID, command string, msg any) {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("command", command).Msg("marshal failed")
		return
	}
	metrics.Broadcasts.WithLabelValues(command).Inc()

	var slow []core.ConnID
	for _, id := range to {
		e, ok := r.sessions[id]
		if !ok {
			continue
		}
		if err := e.Conn.TrySend(frame); err != nil {
			metrics.DroppedFrames.Inc()
			slow = append(slow, id)
		}
	}

	for _, id := range slow {
		switch r.policy.OnBackPressure(r.scope, id) {
		case KickMember:
			e, ok := r.sessions[id]
			if !ok {
				continue
			}
			log.Warn().Str("module", "app.registry").Str("sid", e.Session.ID).Str("conn", string(id)).Msg("kicking slow member")
			e.Conn.Close()
			r.removeLocked(ctx, id, "backpressure")
		case DropFrame, NoAction:
		}
	}
}

func (r *Registry) forgetLocked(ctx context.Context, conn core.ConnID) {
	if err := r.store.Delete(ctx, r.scope, conn); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("conn", string(conn)).Msg("failed to delete attachment")
	}
}

func (r *Registry) persistLocked(ctx context.Context, conn core.ConnID, s *domain.Session) {
	if err := r.store.Put(ctx, core.AttachmentOf(conn, r.scope, s)); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("sid", s.ID).Msg("failed to persist attachment")
	}
}
