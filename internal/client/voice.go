package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dkeye/ProximityVoice/internal/adapters/rtc"
	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/protocol"
	"github.com/dkeye/ProximityVoice/internal/proximity"
)

// API is the full negotiation surface used by a voice session.
type API interface {
	Gateway
	CreateSession(ctx context.Context, offerSDP string) (protocol.NewSessionResponse, error)
	PublishTrack(ctx context.Context, sessionID, offerSDP, mid, trackName string) (protocol.PublishResponse, error)
	BaseURL() string
}

type VoiceConfig struct {
	RTC           rtc.Config
	Volumes       proximity.VolumeTable
	AudibleOnly   bool
	SweepInterval time.Duration
	Name          string
	// Source feeds the microphone track; nil publishes silence.
	Source rtc.Source
	// NewSink returns where a remote stream is played; nil discards audio.
	NewSink func(streamID string) rtc.Sink
}

// Voice owns one client session: the peer connection, the published track,
// the registry connection and the reconciliation engine.
type Voice struct {
	cfg   VoiceConfig
	api   API
	shell *Shell

	peer   *rtc.WebRTCConnection
	local  *rtc.LocalAudio
	engine *Engine
	roster *RosterClient

	sessionID string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runErr error
	closed bool
}

func NewVoice(cfg VoiceConfig, api API, shell *Shell) *Voice {
	return &Voice{cfg: cfg, api: api, shell: shell}
}

// Start negotiates the session and publishes the local track. Failing to set
// up local media is fatal; other failures are returned as classified errors.
func (v *Voice) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			v.shell.Error(err.Error())
			if v.peer != nil {
				_ = v.peer.Close()
			}
		}
	}()

	v.peer, err = rtc.NewWebRTCConnection(v.cfg.RTC)
	if err != nil {
		return err
	}
	v.local, err = v.peer.AddLocalAudio(uuid.NewString())
	if err != nil {
		return err
	}

	offer, err := v.peer.CreateOffer(ctx)
	if err != nil {
		return err
	}
	sess, err := v.api.CreateSession(ctx, offer)
	if err != nil {
		return err
	}
	if err := v.peer.ApplyAnswer(sess.SessionDescription.SDP); err != nil {
		return err
	}
	if err := v.peer.WaitConnected(ctx); err != nil {
		return err
	}
	v.sessionID = sess.SessionID
	log.Info().Str("module", "client.voice").Str("session", v.sessionID).Msg("relay session connected")

	offer, err = v.peer.CreateOffer(ctx)
	if err != nil {
		return err
	}
	pub, err := v.api.PublishTrack(ctx, v.sessionID, offer, v.local.Mid(), v.local.TrackName())
	if err != nil {
		return err
	}
	if err := v.peer.ApplyAnswer(pub.SessionDescription.SDP); err != nil {
		return err
	}

	v.engine = NewEngine(EngineConfig{
		SessionID:     v.sessionID,
		Volumes:       v.cfg.Volumes,
		AudibleOnly:   v.cfg.AudibleOnly,
		SweepInterval: v.cfg.SweepInterval,
	}, v.api, v.peer)
	v.roster, err = NewRosterClient(v.api.BaseURL(), v.sessionID, v.local.TrackName(), v.engine)
	if err != nil {
		return core.Fatal("voice.roster", err)
	}
	v.wire()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v.cancel = cancel
	v.peer.OnClosed(func() {
		v.shell.Error("media connection lost")
		cancel()
	})
	v.run(runCtx, func(ctx context.Context) error { v.engine.Run(ctx); return nil })
	v.run(runCtx, func(ctx context.Context) error { v.roster.Run(ctx); return nil })
	v.run(runCtx, func(ctx context.Context) error { return v.local.Run(ctx, v.cfg.Source) })

	if v.cfg.Name != "" {
		v.SetName(v.cfg.Name)
	}
	v.shell.Info("voice connected")
	v.shell.Send(protocol.Bare{Command: protocol.ShellRequestPath})
	return nil
}

// wire connects the engine, roster and peer callbacks to the shell.
func (v *Voice) wire() {
	v.engine.OnChange(func() { v.shell.Send(v.engine.Snapshot()) })
	v.roster.OnReset(func() {
		v.engine.Reset()
		v.shell.Send(protocol.Bare{Command: protocol.ShellResetActiveSessions})
	})
	if v.peer != nil {
		v.peer.OnTrack(func(streamID string, audio *rtc.RemoteAudio) {
			if v.cfg.NewSink != nil {
				audio.SetSink(v.cfg.NewSink(streamID))
			}
			v.engine.OnTrack(streamID, audio)
		})
	}
}

func (v *Voice) run(ctx context.Context, fn func(context.Context) error) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("module", "client.voice").Msg("worker stopped")
			v.mu.Lock()
			v.runErr = multierr.Append(v.runErr, err)
			v.mu.Unlock()
		}
	}()
}

// Wait blocks until every worker has stopped.
func (v *Voice) Wait() { v.wg.Wait() }

// Close stops every worker and releases the peer connection.
func (v *Voice) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()

	v.mu.Lock()
	err := v.runErr
	v.mu.Unlock()
	if v.peer != nil {
		err = multierr.Combine(err, v.peer.Close())
	}
	return err
}

func (v *Voice) SessionID() string { return v.sessionID }

// SetPath follows the editor focus. A changed remote moves the session to
// another registry scope; a nil remote leaves every scope.
func (v *Voice) SetPath(path *string, pretty string, remote *string) {
	r := ""
	if remote != nil {
		r = *remote
	}
	v.roster.SetRemote(r)
	v.engine.SetPath(path)
	if err := v.roster.SetPath(path, pretty); err != nil && !errors.Is(err, errNoConn) {
		log.Warn().Err(err).Str("module", "client.voice").Msg("send path")
	}
}

func (v *Voice) SetName(name string) {
	if err := v.roster.SetName(name); err != nil && !errors.Is(err, errNoConn) {
		log.Warn().Err(err).Str("module", "client.voice").Msg("send name")
	}
}

func (v *Voice) ToggleMute() {
	muted := !v.engine.Muted()
	v.engine.SetMuted(muted)
	if v.local != nil {
		v.local.SetMuted(muted)
	}
	v.shell.Send(protocol.MuteStatus{Command: protocol.ShellMuteStatus, Muted: muted})
}

func (v *Voice) ToggleDeafen() {
	deafened := !v.engine.Deafened()
	v.engine.SetDeafened(deafened)
	v.shell.Send(protocol.DeafenStatus{Command: protocol.ShellDeafenStatus, Deafened: deafened})
}
