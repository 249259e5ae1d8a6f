package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/core"
)

const DefaultSTUN = "stun:stun.cloudflare.com:3478"

var ErrConnectTimeout = errors.New("ice connect timeout")

type Config struct {
	ICEServers     []string
	ConnectTimeout time.Duration
	LoggerFactory  logging.LoggerFactory
}

func DefaultWebRTCConfig(servers []string) webrtc.Configuration {
	if len(servers) == 0 {
		servers = []string{DefaultSTUN}
	}
	return webrtc.Configuration{
		ICEServers:   []webrtc.ICEServer{{URLs: servers}},
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	}
}

// WebRTCConnection is the client's single peer connection to the media relay.
// SDP operations are serialized; remote audio tracks are handed to OnTrack.
type WebRTCConnection struct {
	pc  *webrtc.PeerConnection
	cfg Config

	sdpMu sync.Mutex

	mu        sync.Mutex
	onTrack   func(streamID string, audio *RemoteAudio)
	onClosed  func()
	connected chan struct{}
	closed    bool
	cancel    context.CancelFunc
	ctx       context.Context
}

func NewWebRTCConnection(cfg Config) (*WebRTCConnection, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, core.Fatal("rtc.codecs", err)
	}
	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	var wcfg webrtc.Configuration
	if cfg.ICEServers != nil && len(cfg.ICEServers) == 0 {
		// explicitly empty: host candidates only
		wcfg = webrtc.Configuration{BundlePolicy: webrtc.BundlePolicyMaxBundle}
	} else {
		wcfg = DefaultWebRTCConfig(cfg.ICEServers)
	}
	pc, err := api.NewPeerConnection(wcfg)
	if err != nil {
		return nil, core.Fatal("rtc.peer", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:        pc,
		cfg:       cfg,
		connected: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.bind()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	var once sync.Once
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateConnected || s == webrtc.ICEConnectionStateCompleted {
			once.Do(func() { close(c.connected) })
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.mu.Lock()
			fn := c.onClosed
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		audio := newRemoteAudio(c.ctx, track.StreamID(), func() (rtpPacket, error) {
			p, _, err := track.ReadRTP()
			return p, err
		})
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn == nil {
			audio.Close()
			return
		}
		fn(track.StreamID(), audio)
	})
}

// OnTrack sets the callback for remote audio tracks.
func (c *WebRTCConnection) OnTrack(fn func(streamID string, audio *RemoteAudio)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

// OnClosed sets the callback fired when the peer fails or closes.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// AddLocalAudio adds the send-only microphone track.
func (c *WebRTCConnection) AddLocalAudio(trackName string) (*LocalAudio, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		trackName, "proximity-voice",
	)
	if err != nil {
		return nil, core.Fatal("rtc.local_track", err)
	}
	tr, err := c.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
	if err != nil {
		return nil, core.Fatal("rtc.local_track", err)
	}
	return newLocalAudio(track, tr), nil
}

// CreateOffer sets and returns a local offer with all candidates gathered.
func (c *WebRTCConnection) CreateOffer(ctx context.Context) (string, error) {
	c.sdpMu.Lock()
	defer c.sdpMu.Unlock()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", core.Negotiation("rtc.offer", "create offer", err)
	}
	return c.setLocal(ctx, offer)
}

// ApplyAnswer applies the relay's answer to our last offer.
func (c *WebRTCConnection) ApplyAnswer(sdp string) error {
	c.sdpMu.Lock()
	defer c.sdpMu.Unlock()
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return core.Negotiation("rtc.answer", "apply answer", err)
	}
	return nil
}

// AcceptOffer applies a relay offer and returns our answer.
func (c *WebRTCConnection) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	c.sdpMu.Lock()
	defer c.sdpMu.Unlock()

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", core.Negotiation("rtc.accept", "apply offer", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", core.Negotiation("rtc.accept", "create answer", err)
	}
	return c.setLocal(ctx, answer)
}

func (c *WebRTCConnection) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return "", core.Negotiation("rtc.local", "set local description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", core.Transport("rtc.gather", ctx.Err())
	}
	return c.pc.LocalDescription().SDP, nil
}

// WaitConnected blocks until ICE connects or ConnectTimeout elapses.
func (c *WebRTCConnection) WaitConnected(ctx context.Context) error {
	t := time.NewTimer(c.cfg.ConnectTimeout)
	defer t.Stop()
	select {
	case <-c.connected:
		return nil
	case <-t.C:
		return core.Transport("rtc.connect", fmt.Errorf("%w after %s", ErrConnectTimeout, c.cfg.ConnectTimeout))
	case <-ctx.Done():
		return core.Transport("rtc.connect", ctx.Err())
	}
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Msg("closed")
	return nil
}
