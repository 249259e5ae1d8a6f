package app

import (
	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection that refused a broadcast frame.
type Policy interface {
	OnBackPressure(scope domain.Scope, conn core.ConnID) BackpressureAction
}

// SimplePolicy disconnects slow members. A member that silently misses a
// roster would keep a stale view until the next mutation.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.Scope, core.ConnID) BackpressureAction {
	return KickMember
}

// LenientPolicy keeps slow members and drops the frame.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(domain.Scope, core.ConnID) BackpressureAction {
	return DropFrame
}
