package protocol

import "github.com/dkeye/ProximityVoice/internal/domain"

// Commands on the registry duplex channel.
const (
	CmdSetPath        = "set_path"
	CmdSetName        = "set_name"
	CmdPing           = "ping"
	CmdPong           = "pong"
	CmdActiveSessions = "active_sessions"
	CmdTrackClosed    = "track_closed"
	CmdError          = "error"
)

type SetPath struct {
	Command    string  `json:"command" validate:"eq=set_path"`
	Path       *string `json:"path" validate:"omitnil,max=4096"`
	PrettyPath string  `json:"prettyPath,omitempty" validate:"max=4096"`
}

type SetName struct {
	Command string `json:"command" validate:"eq=set_name"`
	Name    string `json:"name" validate:"max=64"`
}

type ActiveSessions struct {
	Command  string               `json:"command"`
	Sessions []domain.RosterEntry `json:"sessions"`
}

func NewActiveSessions(sessions []domain.RosterEntry) ActiveSessions {
	if sessions == nil {
		sessions = []domain.RosterEntry{}
	}
	return ActiveSessions{Command: CmdActiveSessions, Sessions: sessions}
}

type TrackClosed struct {
	Command string `json:"command"`
	TrackID string `json:"trackId" validate:"required"`
}

func NewTrackClosed(trackID string) TrackClosed {
	return TrackClosed{Command: CmdTrackClosed, TrackID: trackID}
}

type Pong struct {
	Command string `json:"command"`
}

type ErrorMessage struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

func NewError(msg string) ErrorMessage {
	return ErrorMessage{Command: CmdError, Message: msg}
}
