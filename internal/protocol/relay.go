package protocol

// Relay wire shapes, as spoken by the upstream media relay.

type RelayNewSessionRequest struct {
	SessionDescription SessionDescription `json:"sessionDescription"`
}

type RelayNewSessionResponse struct {
	SessionID          string             `json:"sessionId"`
	SessionDescription SessionDescription `json:"sessionDescription"`
	ErrorCode          string             `json:"errorCode,omitempty"`
	ErrorDescription   string             `json:"errorDescription,omitempty"`
}

type RelayTrack struct {
	Location  string `json:"location"`
	Mid       string `json:"mid,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	TrackName string `json:"trackName"`
}

type RelayTracksRequest struct {
	SessionDescription *SessionDescription `json:"sessionDescription,omitempty"`
	Tracks             []RelayTrack        `json:"tracks"`
}

type RelayTracksResponse struct {
	SessionDescription             *SessionDescription `json:"sessionDescription,omitempty"`
	Tracks                         []TrackResult       `json:"tracks"`
	RequiresImmediateRenegotiation bool                `json:"requiresImmediateRenegotiation"`
	ErrorCode                      string              `json:"errorCode,omitempty"`
	ErrorDescription               string              `json:"errorDescription,omitempty"`
}

type RelayRenegotiateRequest struct {
	SessionDescription SessionDescription `json:"sessionDescription"`
}
