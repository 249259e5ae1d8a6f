package domain

import "time"

// Session is the registry's record of one connected participant.
type Session struct {
	ID          string
	TrackID     string
	Path        *string
	PrettyPath  string
	Name        string
	ConnectedAt time.Time
}

// Active reports whether the session belongs in the roster.
func (s *Session) Active() bool {
	return s.Path != nil && s.TrackID != ""
}

// SetPath replaces the location. A nil path clears both path and pretty path.
func (s *Session) SetPath(path *string, pretty string) error {
	if path == nil {
		s.Path = nil
		s.PrettyPath = ""
		return nil
	}
	if len(*path) > MaxPathLen || len(pretty) > MaxPathLen {
		return ErrPathTooLong
	}
	p := *path
	s.Path = &p
	if pretty == "" {
		pretty = p
	}
	s.PrettyPath = pretty
	return nil
}

func (s *Session) SetName(name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	s.Name = n
	return nil
}

// RosterEntry is the public view of an active session.
type RosterEntry struct {
	ID         string `json:"id"`
	TrackID    string `json:"trackId"`
	Path       string `json:"path"`
	PrettyPath string `json:"prettyPath,omitempty"`
	Name       string `json:"name,omitempty"`
}

func (s *Session) Entry() RosterEntry {
	e := RosterEntry{ID: s.ID, TrackID: s.TrackID, PrettyPath: s.PrettyPath, Name: s.Name}
	if s.Path != nil {
		e.Path = *s.Path
	}
	return e
}
