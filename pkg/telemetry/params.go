package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/internal/params"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
)

// paramTimeout bounds each parameter store write.
const paramTimeout = 2 * time.Second

// ParamSink mirrors each robot's state into the parameter store under
// Keys.State(id). New robots start LANDED; removal deletes the key.
type ParamSink struct {
	Base
	store  params.Store
	keys   params.Keys
	logger *slog.Logger
}

func NewParamSink(s params.Store, keys params.Keys) *ParamSink {
	return &ParamSink{store: s, keys: keys, logger: log.Component("telemetry").With("sink", "params")}
}

func (p *ParamSink) set(id uint32, state rigidbody.State) {
	ctx, cancel := context.WithTimeout(context.Background(), paramTimeout)
	defer cancel()
	if err := p.store.Set(ctx, p.keys.State(id), state.String()); err != nil {
		p.logger.Warn("set state", "id", id, "err", err)
	}
}

func (p *ParamSink) StateChanged(t rigidbody.Transition) {
	p.set(t.ID, t.To)
}

func (p *ParamSink) Added(id fleet.RobotID, _ string) {
	p.set(id.NumericID, rigidbody.Landed)
}

func (p *ParamSink) Removed(id fleet.RobotID) {
	ctx, cancel := context.WithTimeout(context.Background(), paramTimeout)
	defer cancel()
	if err := p.store.Delete(ctx, p.keys.State(id.NumericID)); err != nil {
		p.logger.Warn("delete state", "id", id.NumericID, "err", err)
	}
}
