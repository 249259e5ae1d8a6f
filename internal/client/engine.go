// Package client is the voice client: it keeps one subscription per audible
// remote participant and applies proximity gains as the roster changes.
package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/domain"
	"github.com/dkeye/ProximityVoice/internal/metrics"
	"github.com/dkeye/ProximityVoice/internal/protocol"
	"github.com/dkeye/ProximityVoice/internal/proximity"
)

// Gateway is the part of the negotiation API the engine drives.
type Gateway interface {
	SubscribeTracks(ctx context.Context, sessionID string, tracks []protocol.RemoteTrack) (protocol.SubscribeResponse, error)
	Renegotiate(ctx context.Context, sessionID, answerSDP string) error
}

// Media applies relay offers to the local peer connection.
type Media interface {
	AcceptOffer(ctx context.Context, offerSDP string) (string, error)
}

// Player is a playable remote track.
type Player interface {
	SetVolume(v float64)
	Close()
}

type EngineConfig struct {
	SessionID     string
	Volumes       proximity.VolumeTable
	AudibleOnly   bool
	SweepInterval time.Duration
}

type subState int

const (
	subPending subState = iota
	subActive
)

type subscription struct {
	trackID     string
	state       subState
	player      Player
	volume      float64
	idleSince   time.Time
	requestedAt time.Time
	batch       int
}

// Engine reconciles the registry roster with the set of subscribed remote
// tracks. Roster updates are coalesced: one pass runs at a time and always
// works on the latest roster.
type Engine struct {
	cfg   EngineConfig
	gw    Gateway
	media Media
	now   func() time.Time

	mu       sync.Mutex
	roster   []domain.RosterEntry
	path     *string
	deafened bool
	muted    bool
	subs     map[string]*subscription
	pending  map[string]string
	batchSeq int
	onChange func()

	wake chan struct{}
}

func NewEngine(cfg EngineConfig, gw Gateway, media Media) *Engine {
	if cfg.Volumes == nil {
		cfg.Volumes = proximity.DefaultTable
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		gw:      gw,
		media:   media,
		now:     time.Now,
		subs:    make(map[string]*subscription),
		pending: make(map[string]string),
		wake:    make(chan struct{}, 1),
	}
}

// OnChange registers a callback run after every state change visible in Snapshot.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// Run processes roster passes and idle sweeps until ctx ends, then releases
// every subscription.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer func() {
		ticker.Stop()
		e.closeAll()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			e.pass(ctx)
		case <-ticker.C:
			e.sweep(e.now())
		}
	}
}

// OnRoster records the latest roster and schedules a pass.
func (e *Engine) OnRoster(roster []domain.RosterEntry) {
	cp := make([]domain.RosterEntry, len(roster))
	copy(cp, roster)
	e.mu.Lock()
	e.roster = cp
	e.mu.Unlock()
	e.schedule()
	e.changed()
}

// OnTrackClosed drops the subscription of a track that left the relay.
func (e *Engine) OnTrackClosed(trackID string) {
	e.mu.Lock()
	removed := e.dropLocked(trackID, "closed")
	e.mu.Unlock()
	if removed {
		log.Debug().Str("module", "client.engine").Str("track", trackID).Msg("track closed")
	}
}

// OnTrack binds an arriving remote stream to the subscription that asked for
// it. Streams nobody is waiting for are closed.
func (e *Engine) OnTrack(streamID string, p Player) {
	e.mu.Lock()
	trackID, ok := e.pending[streamID]
	var sub *subscription
	if ok {
		delete(e.pending, streamID)
		sub = e.subs[trackID]
	}
	if sub == nil {
		e.mu.Unlock()
		log.Debug().Str("module", "client.engine").Str("stream", streamID).Msg("unexpected stream, closing")
		p.Close()
		return
	}
	old := sub.player
	sub.player = p
	sub.state = subActive
	p.SetVolume(sub.volume)
	e.gaugeLocked()
	e.mu.Unlock()

	if old != nil && old != p {
		old.Close()
	}
}

func (e *Engine) SetPath(path *string) {
	e.mu.Lock()
	if path == nil {
		e.path = nil
	} else {
		p := *path
		e.path = &p
	}
	e.mu.Unlock()
	e.schedule()
	e.changed()
}

func (e *Engine) SetDeafened(d bool) {
	e.mu.Lock()
	e.deafened = d
	e.mu.Unlock()
	e.schedule()
}

func (e *Engine) SetMuted(m bool) {
	e.mu.Lock()
	e.muted = m
	e.mu.Unlock()
	e.schedule()
}

func (e *Engine) Deafened() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deafened
}

func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// Reset forgets the roster and every subscription, as when the scope changes.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.roster = nil
	for id := range e.subs {
		e.dropLocked(id, "left")
	}
	e.mu.Unlock()
	e.changed()
}

// Snapshot is the participant view handed to the shell.
func (e *Engine) Snapshot() protocol.ShellActiveSessionsMsg {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg := protocol.ShellActiveSessionsMsg{
		Command:   protocol.ShellActiveSessions,
		SessionID: e.cfg.SessionID,
		Sessions:  []protocol.Participant{},
	}
	if e.path != nil {
		msg.Path = *e.path
	}
	for _, r := range e.roster {
		if r.ID == e.cfg.SessionID {
			continue
		}
		d := -1
		if e.path != nil {
			d = proximity.Distance(*e.path, r.Path)
		}
		msg.Sessions = append(msg.Sessions, protocol.Participant{ID: r.ID, Path: r.Path, Name: r.Name, Distance: d})
	}
	return msg
}

// Volume reports the current gain of a subscribed track.
func (e *Engine) Volume(trackID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subs[trackID]
	if !ok {
		return 0, false
	}
	return s.volume, true
}

// Subscribed lists subscribed track ids, pending or active.
func (e *Engine) Subscribed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.subs))
	for id := range e.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) schedule() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) changed() {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type batch struct {
	id     int
	tracks []protocol.RemoteTrack
}

// pass runs one reconciliation against the latest roster.
func (e *Engine) pass(ctx context.Context) {
	batches := e.plan(e.now())
	for _, b := range batches {
		if ctx.Err() != nil {
			e.rollback(b.id)
			continue
		}
		if err := e.subscribe(ctx, b); err != nil {
			log.Warn().Err(err).Str("module", "client.engine").Int("tracks", len(b.tracks)).Msg("subscription batch failed")
			e.rollback(b.id)
		}
	}
}

// plan applies the roster to existing subscriptions and reserves pending
// subscriptions for every missing track.
func (e *Engine) plan(now time.Time) []batch {
	e.mu.Lock()
	defer e.mu.Unlock()

	present := make(map[string]domain.RosterEntry, len(e.roster))
	for _, r := range e.roster {
		if r.ID == e.cfg.SessionID || r.TrackID == "" {
			continue
		}
		present[r.TrackID] = r
	}

	for id, s := range e.subs {
		r, ok := present[id]
		if !ok {
			e.dropLocked(id, "left")
			continue
		}
		e.applyVolumeLocked(s, e.volumeLocked(r), now)
	}

	var missing []protocol.RemoteTrack
	for _, r := range e.roster {
		if _, ok := present[r.TrackID]; !ok {
			continue
		}
		if _, ok := e.subs[r.TrackID]; ok {
			continue
		}
		v := e.volumeLocked(r)
		if e.cfg.AudibleOnly && v == 0 {
			continue
		}
		missing = append(missing, protocol.RemoteTrack{
			Location:  protocol.LocationRemote,
			SessionID: r.ID,
			TrackName: r.TrackID,
		})
		e.subs[r.TrackID] = &subscription{trackID: r.TrackID, state: subPending, volume: v, requestedAt: now}
		if v == 0 {
			e.subs[r.TrackID].idleSince = now
		}
	}

	var out []batch
	for len(missing) > 0 {
		n := min(len(missing), protocol.MaxSubscribeBatch)
		e.batchSeq++
		b := batch{id: e.batchSeq, tracks: missing[:n]}
		for _, t := range b.tracks {
			e.subs[t.TrackName].batch = b.id
		}
		out = append(out, b)
		missing = missing[n:]
	}
	e.gaugeLocked()
	return out
}

func (e *Engine) subscribe(ctx context.Context, b batch) error {
	res, err := e.gw.SubscribeTracks(ctx, e.cfg.SessionID, b.tracks)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, t := range res.Tracks {
		if t.ErrorCode == "" {
			continue
		}
		log.Warn().Str("module", "client.engine").Str("track", t.TrackName).Str("code", t.ErrorCode).
			Str("description", t.ErrorDescription).Msg("relay refused track")
		if s, ok := e.subs[t.TrackName]; ok && s.batch == b.id && s.state == subPending {
			e.dropLocked(t.TrackName, "closed")
		}
	}
	correlated := make(map[string]bool, len(res.StreamIDToTrackID))
	for streamID, trackID := range res.StreamIDToTrackID {
		if s, ok := e.subs[trackID]; ok && s.batch == b.id {
			e.pending[streamID] = trackID
			correlated[trackID] = true
		}
	}
	// a track without a stream id could never be matched to its player
	for _, t := range b.tracks {
		s, ok := e.subs[t.TrackName]
		if ok && s.batch == b.id && s.state == subPending && !correlated[t.TrackName] {
			log.Warn().Str("module", "client.engine").Str("track", t.TrackName).Msg("relay returned no stream for track")
			e.dropLocked(t.TrackName, "failed")
		}
	}
	e.mu.Unlock()

	if res.SessionDescription.SDP == "" {
		return nil
	}
	answer, err := e.media.AcceptOffer(ctx, res.SessionDescription.SDP)
	if err != nil {
		return err
	}
	return e.gw.Renegotiate(ctx, e.cfg.SessionID, answer)
}

// rollback drops the still-pending subscriptions of one failed batch.
func (e *Engine) rollback(batchID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.subs {
		if s.batch == batchID && s.state == subPending {
			e.dropLocked(id, "failed")
		}
	}
	e.gaugeLocked()
}

// sweep evicts subscriptions that stayed silent for three sweep intervals,
// and pending ones whose stream did not arrive in that time so the next pass
// requests them again.
func (e *Engine) sweep(now time.Time) int {
	limit := 3 * e.cfg.SweepInterval
	e.mu.Lock()
	n := 0
	stalled := false
	for id, s := range e.subs {
		switch {
		case !s.idleSince.IsZero() && now.Sub(s.idleSince) > limit:
			e.dropLocked(id, "idle")
			n++
		case s.state == subPending && now.Sub(s.requestedAt) > limit:
			e.dropLocked(id, "stalled")
			stalled = true
			n++
		}
	}
	e.mu.Unlock()
	if stalled {
		e.schedule()
	}
	return n
}

func (e *Engine) volumeLocked(r domain.RosterEntry) float64 {
	if e.deafened {
		return 0
	}
	return e.cfg.Volumes.VolumeFor(e.path, r.Path)
}

func (e *Engine) applyVolumeLocked(s *subscription, v float64, now time.Time) {
	s.volume = v
	if v == 0 {
		if s.idleSince.IsZero() {
			s.idleSince = now
		}
	} else {
		s.idleSince = time.Time{}
	}
	if s.player != nil {
		s.player.SetVolume(v)
	}
}

func (e *Engine) dropLocked(trackID, reason string) bool {
	s, ok := e.subs[trackID]
	if !ok {
		return false
	}
	delete(e.subs, trackID)
	for stream, id := range e.pending {
		if id == trackID {
			delete(e.pending, stream)
		}
	}
	if s.player != nil {
		s.player.Close()
	}
	metrics.Evictions.WithLabelValues(reason).Inc()
	e.gaugeLocked()
	return true
}

func (e *Engine) gaugeLocked() {
	metrics.Subscriptions.Set(float64(len(e.subs)))
}

func (e *Engine) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.subs {
		e.dropLocked(id, "closed")
	}
}
