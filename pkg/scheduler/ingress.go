package scheduler

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/teslashibe/go-mdp/internal/codec"
	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/internal/messaging"
	"github.com/teslashibe/go-mdp/pkg/command"
)

// KindEmergencyAll on the command topic stops every robot. The target id
// is ignored.
const KindEmergencyAll = "EMERGENCY_ALL"

// Router is the part of the Scheduler the command topic drives.
type Router interface {
	Route(c command.Command) error
	EmergencyAll() int
}

// IngressStats counts commands seen on the command topic.
type IngressStats struct {
	Received  uint64 `json:"received"`
	Routed    uint64 `json:"routed"`
	Rejected  uint64 `json:"rejected"`
	Malformed uint64 `json:"malformed"`
}

// Ingress feeds commands published on a bus topic into the fleet. Each
// payload is one command.Wire.
type Ingress struct {
	router Router
	bus    messaging.Bus
	codec  codec.Codec
	topic  string
	logger *slog.Logger

	received  atomic.Uint64
	routed    atomic.Uint64
	rejected  atomic.Uint64
	malformed atomic.Uint64
}

func NewIngress(r Router, bus messaging.Bus, c codec.Codec, topic string) *Ingress {
	if c == nil {
		c = codec.JSON
	}
	return &Ingress{
		router: r,
		bus:    bus,
		codec:  c,
		topic:  topic,
		logger: log.Component("ingress").With("topic", topic),
	}
}

// Start subscribes to the command topic.
func (in *Ingress) Start() error {
	if err := in.bus.Subscribe(in.topic, in.handle); err != nil {
		return err
	}
	in.logger.Info("command topic subscribed", "codec", in.codec.Name())
	return nil
}

func (in *Ingress) handle(payload []byte) {
	in.received.Add(1)

	var w command.Wire
	if err := in.codec.Unmarshal(payload, &w); err != nil {
		in.malformed.Add(1)
		in.logger.Warn("malformed command", "err", err)
		return
	}

	if strings.EqualFold(w.Kind, KindEmergencyAll) {
		in.router.EmergencyAll()
		in.routed.Add(1)
		return
	}

	c, err := command.FromWire(w)
	if err != nil {
		in.malformed.Add(1)
		in.logger.Warn("invalid command", "kind", w.Kind, "err", err)
		return
	}
	if err := in.router.Route(c); err != nil {
		in.rejected.Add(1)
		in.logger.Warn("command not routed", "target", c.Target, "kind", c.Kind, "err", err)
		return
	}
	in.routed.Add(1)
}

func (in *Ingress) Stats() IngressStats {
	return IngressStats{
		Received:  in.received.Load(),
		Routed:    in.routed.Load(),
		Rejected:  in.rejected.Load(),
		Malformed: in.malformed.Load(),
	}
}

var _ Router = (*Scheduler)(nil)
