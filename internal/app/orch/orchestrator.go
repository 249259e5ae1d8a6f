package orch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/app"
	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
	"github.com/dkeye/ProximityVoice/internal/metrics"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

// Orchestrator routes duplex connections and their messages to the registry
// of their scope.
type Orchestrator struct {
	Scopes *app.ScopeManager
}

func New(scopes *app.ScopeManager) *Orchestrator {
	return &Orchestrator{Scopes: scopes}
}

// OnFrame dispatches one inbound message. Invalid messages are answered with
// an error message and the connection stays open.
func (o *Orchestrator) OnFrame(ctx context.Context, scope domain.Scope, conn core.SignalConnection, data core.Frame) {
	if err := o.dispatch(ctx, scope, conn, data); err != nil {
		metrics.InvalidMessages.Inc()
		log.Warn().Err(err).Str("module", "app.orch").Str("scope", string(scope)).
			Str("conn", string(conn.ID())).Msg("dropped message")
		reply(conn, protocol.NewError(err.Error()))
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, scope domain.Scope, conn core.SignalConnection, data core.Frame) error {
	cmd, err := protocol.Command(data)
	if err != nil {
		return err
	}

	if cmd == protocol.CmdPing {
		reply(conn, protocol.Pong{Command: protocol.CmdPong})
		return nil
	}

	reg, err := o.Scopes.GetOrCreate(ctx, scope)
	if err != nil {
		return err
	}

	switch cmd {
	case protocol.CmdSetPath:
		var msg protocol.SetPath
		if err := protocol.Decode(cmd, data, &msg); err != nil {
			return err
		}
		return reg.SetPath(ctx, conn.ID(), msg.Path, msg.PrettyPath)
	case protocol.CmdSetName:
		var msg protocol.SetName
		if err := protocol.Decode(cmd, data, &msg); err != nil {
			return err
		}
		return reg.SetName(ctx, conn.ID(), msg.Name)
	default:
		return core.Validation("dispatch", "unknown command "+cmd)
	}
}

func reply(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("reply marshal")
		return
	}
	_ = conn.TrySend(b)
}
