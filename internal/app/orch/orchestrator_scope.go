package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
)

// Connect registers an accepted connection with the registry of scope.
func (o *Orchestrator) Connect(ctx context.Context, scope domain.Scope, conn core.SignalConnection, sessionID, trackID string) error {
	reg, err := o.Scopes.GetOrCreate(ctx, scope)
	if err != nil {
		return err
	}
	o.Scopes.Attach(scope, conn)
	if err := reg.Connect(ctx, conn, sessionID, trackID); err != nil {
		o.Scopes.Detach(scope, conn.ID())
		return err
	}
	return nil
}

// Disconnect removes a closed connection. A suspended registry is rebuilt
// first so the remaining members still learn that the track is gone.
func (o *Orchestrator) Disconnect(ctx context.Context, scope domain.Scope, conn core.ConnID) {
	reg, err := o.Scopes.GetOrCreate(ctx, scope)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("scope", string(scope)).Msg("disconnect: registry unavailable")
	} else {
		reg.Disconnect(ctx, conn)
	}
	o.Scopes.Detach(scope, conn)
}

// Shutdown closes every live connection.
func (o *Orchestrator) Shutdown() {
	n := o.Scopes.CloseAll()
	log.Info().Str("module", "app.orch").Int("conns", n).Msg("closed all connections")
}
