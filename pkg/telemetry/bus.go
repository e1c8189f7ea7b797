package telemetry

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-mdp/internal/codec"
	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/internal/messaging"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

// BusSink publishes events to a message bus topic. Frames are rate
// limited per robot like HubSink. Not safe for concurrent use.
type BusSink struct {
	Base
	bus    messaging.Bus
	codec  codec.Codec
	topic  string
	lim    *limiter
	logger *slog.Logger
	failed uint64
}

func NewBusSink(bus messaging.Bus, c codec.Codec, topic string, hz float64) *BusSink {
	if c == nil {
		c = codec.JSON
	}
	return &BusSink{
		bus:    bus,
		codec:  c,
		topic:  topic,
		lim:    newLimiter(hz),
		logger: log.Component("telemetry").With("sink", "bus", "topic", topic),
	}
}

func (b *BusSink) publish(kind Kind, at time.Time, data any) {
	payload, err := b.codec.Marshal(Event{Kind: kind, Time: at, Data: data})
	if err != nil {
		b.logger.Warn("encode failed", "kind", kind, "err", err)
		return
	}
	if err := b.bus.Publish(b.topic, payload); err != nil {
		b.failed++
		if b.failed%100 == 1 {
			b.logger.Warn("publish failed", "kind", kind, "failures", b.failed, "err", err)
		}
	}
}

func (b *BusSink) Frame(s rigidbody.Snapshot) {
	if b.lim.allow(s.ID, s.Updated) {
		b.publish(KindFrame, s.Updated, s)
	}
}

func (b *BusSink) StateChanged(t rigidbody.Transition) {
	b.publish(KindTransition, t.Time, t)
}

func (b *BusSink) Summary(s scheduler.Stats) {
	b.publish(KindSummary, s.At, s)
}

func (b *BusSink) Shutdown(r scheduler.Report) {
	b.publish(KindShutdown, r.At, r)
}

func (b *BusSink) Removed(id fleet.RobotID) {
	b.lim.forget(id.NumericID)
}
