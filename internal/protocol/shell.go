package protocol

// Commands on the shell IPC stream.
const (
	ShellSetPath             = "set_path"
	ShellSetName             = "set_name"
	ShellMute                = "mute"
	ShellDeafen              = "deafen"
	ShellMuteStatus          = "mute_status"
	ShellDeafenStatus        = "deafen_status"
	ShellInfo                = "info"
	ShellError               = "error"
	ShellDebug               = "debug"
	ShellActiveSessions      = "active_sessions"
	ShellResetActiveSessions = "reset_active_sessions"
	ShellRequestPath         = "request_path"
)

// ShellPath is sent by the editor whenever the focused file changes.
// A nil path means no file is focused.
type ShellPath struct {
	Command    string  `json:"command" validate:"eq=set_path"`
	Path       *string `json:"path"`
	PrettyPath *string `json:"prettyPath"`
	Remote     *string `json:"remote"`
}

type ShellName struct {
	Command string `json:"command" validate:"eq=set_name"`
	Name    string `json:"name" validate:"max=64"`
}

type MuteStatus struct {
	Command string `json:"command"`
	Muted   bool   `json:"muted"`
}

type DeafenStatus struct {
	Command  string `json:"command"`
	Deafened bool   `json:"deafened"`
}

// Text carries info, error and debug lines.
type Text struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

type Participant struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	Distance int    `json:"distance"`
}

type ShellActiveSessionsMsg struct {
	Command   string        `json:"command"`
	SessionID string        `json:"sessionId"`
	Path      string        `json:"path"`
	Sessions  []Participant `json:"sessions"`
}

type Bare struct {
	Command string `json:"command"`
}
