// Package gateway brokers WebRTC negotiation between clients and the media
// relay. It holds no state between calls.
package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/adapters/sdp"
	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

// Relay is the upstream media relay API.
type Relay interface {
	NewSession(ctx context.Context, offer protocol.SessionDescription) (protocol.RelayNewSessionResponse, error)
	NewTracks(ctx context.Context, sessionID string, req protocol.RelayTracksRequest) (protocol.RelayTracksResponse, error)
	Renegotiate(ctx context.Context, sessionID string, answer protocol.SessionDescription) error
}

type Service struct {
	relay Relay
}

func New(relay Relay) *Service {
	return &Service{relay: relay}
}

// CreateSession opens a relay session for the client's offer.
func (s *Service) CreateSession(ctx context.Context, offerSDP string) (protocol.NewSessionResponse, error) {
	const op = "create_session"
	if offerSDP == "" {
		return protocol.NewSessionResponse{}, core.Validation(op, "sdp is required")
	}
	res, err := s.relay.NewSession(ctx, protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: offerSDP})
	if err != nil {
		return protocol.NewSessionResponse{}, classify(op, err)
	}
	if res.ErrorCode != "" {
		return protocol.NewSessionResponse{}, core.Negotiation(op, res.ErrorCode+": "+res.ErrorDescription, nil)
	}
	if res.SessionID == "" {
		return protocol.NewSessionResponse{}, core.Negotiation(op, "relay returned no session id", nil)
	}
	log.Debug().Str("module", "app.gateway").Str("session", res.SessionID).Msg("session created")
	return protocol.NewSessionResponse{SessionID: res.SessionID, SessionDescription: res.SessionDescription}, nil
}

// PublishTrack announces the client's local track.
func (s *Service) PublishTrack(ctx context.Context, sessionID, offerSDP string, track protocol.LocalTrack) (protocol.PublishResponse, error) {
	const op = "publish_track"
	switch {
	case sessionID == "":
		return protocol.PublishResponse{}, core.Validation(op, "sessionId is required")
	case offerSDP == "":
		return protocol.PublishResponse{}, core.Validation(op, "sdp is required")
	case track.Mid == "" || track.TrackName == "":
		return protocol.PublishResponse{}, core.Validation(op, "track mid and trackName are required")
	}

	res, err := s.relay.NewTracks(ctx, sessionID, protocol.RelayTracksRequest{
		SessionDescription: &protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: offerSDP},
		Tracks: []protocol.RelayTrack{{
			Location:  protocol.LocationLocal,
			Mid:       track.Mid,
			TrackName: track.TrackName,
		}},
	})
	if err != nil {
		return protocol.PublishResponse{}, classify(op, err)
	}
	if res.ErrorCode != "" {
		return protocol.PublishResponse{}, core.Negotiation(op, res.ErrorCode+": "+res.ErrorDescription, nil)
	}
	if res.SessionDescription == nil {
		return protocol.PublishResponse{}, core.Negotiation(op, "relay returned no answer", nil)
	}
	return protocol.PublishResponse{SessionDescription: *res.SessionDescription}, nil
}

// SubscribeTracks asks the relay to forward remote tracks into sessionID and
// returns the relay's offer along with the stream id of every track it carries.
// Per-track relay errors are returned untouched in the track list.
func (s *Service) SubscribeTracks(ctx context.Context, sessionID string, tracks []protocol.RemoteTrack) (protocol.SubscribeResponse, error) {
	const op = "subscribe_tracks"
	switch {
	case sessionID == "":
		return protocol.SubscribeResponse{}, core.Validation(op, "sessionId is required")
	case len(tracks) == 0:
		return protocol.SubscribeResponse{}, core.Validation(op, "tracks must not be empty")
	case len(tracks) > protocol.MaxSubscribeBatch:
		return protocol.SubscribeResponse{}, core.Validation(op,
			fmt.Sprintf("at most %d tracks per request, got %d", protocol.MaxSubscribeBatch, len(tracks)))
	}

	req := protocol.RelayTracksRequest{Tracks: make([]protocol.RelayTrack, 0, len(tracks))}
	for i, t := range tracks {
		if t.SessionID == "" || t.TrackName == "" {
			return protocol.SubscribeResponse{}, core.Validation(op, fmt.Sprintf("tracks[%d]: sessionId and trackName are required", i))
		}
		req.Tracks = append(req.Tracks, protocol.RelayTrack{
			Location:  protocol.LocationRemote,
			SessionID: t.SessionID,
			TrackName: t.TrackName,
		})
	}

	res, err := s.relay.NewTracks(ctx, sessionID, req)
	if err != nil {
		return protocol.SubscribeResponse{}, classify(op, err)
	}
	if res.ErrorCode != "" {
		return protocol.SubscribeResponse{}, core.Negotiation(op, res.ErrorCode+": "+res.ErrorDescription, nil)
	}

	out := protocol.SubscribeResponse{
		StreamIDToTrackID:              map[string]string{},
		Tracks:                         res.Tracks,
		RequiresImmediateRenegotiation: res.RequiresImmediateRenegotiation,
	}
	if res.SessionDescription == nil {
		return out, nil
	}
	out.SessionDescription = *res.SessionDescription
	out.StreamIDToTrackID, err = Correlate(res.SessionDescription.SDP, res.Tracks)
	if err != nil {
		return protocol.SubscribeResponse{}, core.Negotiation(op, "unparseable relay offer", err)
	}
	return out, nil
}

// Renegotiate delivers the client's answer to a relay offer.
func (s *Service) Renegotiate(ctx context.Context, sessionID, answerSDP string) error {
	const op = "renegotiate"
	if sessionID == "" {
		return core.Validation(op, "sessionId is required")
	}
	if answerSDP == "" {
		return core.Validation(op, "sdp is required")
	}
	if err := s.relay.Renegotiate(ctx, sessionID, protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		return classify(op, err)
	}
	return nil
}

// Correlate pairs the msid stream id of every sendonly audio section in
// offer with the track name the relay assigned to that section's mid.
func Correlate(offer string, tracks []protocol.TrackResult) (map[string]string, error) {
	midToTrack := make(map[string]string, len(tracks))
	for _, t := range tracks {
		if t.Mid != "" && t.ErrorCode == "" {
			midToTrack[t.Mid] = t.TrackName
		}
	}
	out := make(map[string]string, len(midToTrack))
	if len(midToTrack) == 0 {
		return out, nil
	}

	sections, err := sdp.ParseAudioSendOnlySections(offer)
	if err != nil {
		return nil, err
	}
	for _, sec := range sections {
		name, ok := midToTrack[sec.Mid]
		if !ok || sec.Msid == "" {
			continue
		}
		out[sec.Msid] = name
	}
	return out, nil
}

func classify(op string, err error) error {
	if core.KindOf(err) != "" {
		return err
	}
	return core.Transport(op, err)
}
