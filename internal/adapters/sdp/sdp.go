// Package sdp extracts the media sections the gateway needs to correlate
// relay tracks with the stream ids a browser-style peer will see.
package sdp

import (
	"fmt"
	"strings"

	pionsdp "github.com/pion/sdp/v3"
)

const (
	DirectionSendRecv = "sendrecv"
	DirectionSendOnly = "sendonly"
	DirectionRecvOnly = "recvonly"
	DirectionInactive = "inactive"
)

// Section is one audio media section sent by the offerer.
type Section struct {
	Mid  string
	Msid string
}

// ParseAudioSendOnlySections returns the audio sections of raw whose
// direction is sendonly, in document order. Sections without a mid are skipped.
func ParseAudioSendOnlySections(raw string) ([]Section, error) {
	var desc pionsdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("sdp: parse: %w", err)
	}

	sessionDir := direction(desc.Attributes, DirectionSendRecv)
	out := make([]Section, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if direction(md.Attributes, sessionDir) != DirectionSendOnly {
			continue
		}
		mid, ok := md.Attribute("mid")
		if !ok || mid == "" {
			continue
		}
		out = append(out, Section{Mid: mid, Msid: streamID(md)})
	}
	return out, nil
}

func direction(attrs []pionsdp.Attribute, fallback string) string {
	for _, a := range attrs {
		switch a.Key {
		case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
			return a.Key
		}
	}
	return fallback
}

// streamID reads the stream half of a=msid, falling back to the legacy
// a=ssrc:<id> msid:<stream> <track> form.
func streamID(md *pionsdp.MediaDescription) string {
	if v, ok := md.Attribute("msid"); ok {
		if f := strings.Fields(v); len(f) > 0 {
			return f[0]
		}
	}
	for _, a := range md.Attributes {
		if a.Key != "ssrc" {
			continue
		}
		f := strings.Fields(a.Value)
		if len(f) >= 2 && strings.HasPrefix(f[1], "msid:") {
			return strings.TrimPrefix(f[1], "msid:")
		}
	}
	return ""
}
