package protocol

import "github.com/dkeye/ProximityVoice/internal/core"

// MaxSubscribeBatch caps the remote tracks of one /tracks/receive call.
const MaxSubscribeBatch = 64

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"

	LocationLocal  = "local"
	LocationRemote = "remote"
)

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type NewSessionRequest struct {
	SDP string `json:"sdp" binding:"required" validate:"required"`
}

type NewSessionResponse struct {
	SessionID          string             `json:"sessionId"`
	SessionDescription SessionDescription `json:"sessionDescription"`
}

type LocalTrack struct {
	Location  string `json:"location" binding:"required,eq=local" validate:"required,eq=local"`
	Mid       string `json:"mid" binding:"required" validate:"required"`
	TrackName string `json:"trackName" binding:"required" validate:"required"`
}

type PublishRequest struct {
	SessionID string     `json:"sessionId" binding:"required" validate:"required"`
	SDP       string     `json:"sdp" binding:"required" validate:"required"`
	Track     LocalTrack `json:"track"`
}

type PublishResponse struct {
	SessionDescription SessionDescription `json:"sessionDescription"`
}

type RemoteTrack struct {
	Location  string `json:"location" binding:"required,eq=remote" validate:"required,eq=remote"`
	SessionID string `json:"sessionId" binding:"required" validate:"required"`
	TrackName string `json:"trackName" binding:"required" validate:"required"`
}

type SubscribeRequest struct {
	SessionID string        `json:"sessionId" binding:"required" validate:"required"`
	Tracks    []RemoteTrack `json:"tracks" binding:"required,min=1,max=64,dive" validate:"required,min=1,max=64,dive"`
}

// TrackResult is the relay's per-track outcome.
type TrackResult struct {
	Location         string `json:"location,omitempty"`
	Mid              string `json:"mid,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	TrackName        string `json:"trackName,omitempty"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

type SubscribeResponse struct {
	SessionDescription             SessionDescription `json:"sessionDescription"`
	StreamIDToTrackID              map[string]string  `json:"streamIdToTrackId"`
	Tracks                         []TrackResult      `json:"tracks,omitempty"`
	RequiresImmediateRenegotiation bool               `json:"requiresImmediateRenegotiation"`
}

type RenegotiateRequest struct {
	SessionID string `json:"sessionId" binding:"required" validate:"required"`
	SDP       string `json:"sdp" binding:"required" validate:"required"`
}

type ErrorResponse struct {
	Error *core.Error `json:"error"`
}
