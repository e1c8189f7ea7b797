package telemetry

import (
	"time"

	"github.com/teslashibe/go-mdp/internal/codec"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/hub"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

// Broadcaster is the part of the websocket hub a HubSink needs.
type Broadcaster interface {
	Broadcast(msg hub.Message)
}

// HubSink pushes events to dashboard websockets. JSON events go out as
// text frames, CBOR as binary frames. It is not safe for concurrent use;
// wrap it in Async.
type HubSink struct {
	Base
	out   Broadcaster
	codec codec.Codec
	lim   *limiter
}

// NewHubSink sends at most hz frames per robot per second; hz <= 0 sends
// every frame.
func NewHubSink(out Broadcaster, c codec.Codec, hz float64) *HubSink {
	if c == nil {
		c = codec.JSON
	}
	return &HubSink{out: out, codec: c, lim: newLimiter(hz)}
}

func (h *HubSink) publish(kind Kind, at time.Time, data any) {
	payload, err := h.codec.Marshal(Event{Kind: kind, Time: at, Data: data})
	if err != nil {
		return
	}
	h.out.Broadcast(hub.Encoded(h.codec.Name(), payload))
}

func (h *HubSink) Frame(s rigidbody.Snapshot) {
	if h.lim.allow(s.ID, s.Updated) {
		h.publish(KindFrame, s.Updated, s)
	}
}

func (h *HubSink) StateChanged(t rigidbody.Transition) {
	h.publish(KindTransition, t.Time, t)
}

func (h *HubSink) Summary(s scheduler.Stats) {
	h.publish(KindSummary, s.At, s)
}

func (h *HubSink) Shutdown(r scheduler.Report) {
	h.publish(KindShutdown, r.At, r)
}

func (h *HubSink) Added(id fleet.RobotID, typ string) {
	h.publish(KindAdded, time.Now(), map[string]any{"id": id.NumericID, "name": id.Name, "type": typ})
}

func (h *HubSink) Removed(id fleet.RobotID) {
	h.lim.forget(id.NumericID)
	h.publish(KindRemoved, time.Now(), map[string]any{"id": id.NumericID, "name": id.Name})
}
