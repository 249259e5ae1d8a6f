package core

import (
	"context"
	"time"

	"github.com/dkeye/ProximityVoice/internal/domain"
)

// Frame is one encoded message for a duplex connection.
type Frame []byte

// ConnID identifies one live duplex connection. It is independent of the
// client-chosen session id so a reconnect can be told apart from its predecessor.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() ConnID
	TrySend(Frame) error
	Close()
}

// Attachment is the durable per-connection state a registry needs to rebuild
// its table for a connection it did not accept itself.
type Attachment struct {
	ConnID      ConnID
	Scope       domain.Scope
	SessionID   string
	TrackID     string
	Path        *string
	PrettyPath  string
	Name        string
	ConnectedAt time.Time
}

func AttachmentOf(conn ConnID, scope domain.Scope, s *domain.Session) Attachment {
	return Attachment{
		ConnID:      conn,
		Scope:       scope,
		SessionID:   s.ID,
		TrackID:     s.TrackID,
		Path:        s.Path,
		PrettyPath:  s.PrettyPath,
		Name:        s.Name,
		ConnectedAt: s.ConnectedAt,
	}
}

func (a Attachment) Session() *domain.Session {
	s := &domain.Session{
		ID:          a.SessionID,
		TrackID:     a.TrackID,
		PrettyPath:  a.PrettyPath,
		Name:        a.Name,
		ConnectedAt: a.ConnectedAt,
	}
	if a.Path != nil {
		p := *a.Path
		s.Path = &p
	}
	return s
}

// AttachmentStore keeps attachments for open connections.
type AttachmentStore interface {
	Put(ctx context.Context, a Attachment) error
	Get(ctx context.Context, scope domain.Scope, conn ConnID) (Attachment, bool, error)
	Delete(ctx context.Context, scope domain.Scope, conn ConnID) error
	List(ctx context.Context, scope domain.Scope) ([]Attachment, error)
	Purge(ctx context.Context) error
}
