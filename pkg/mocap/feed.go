package mocap

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mdp/internal/codec"
	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/internal/messaging"
	"github.com/teslashibe/go-mdp/pkg/geom"
)

// Frame is one motion-capture frame as published on the pose topic: every
// body the tracking system saw at one instant.
type Frame struct {
	Stamp  int64      `json:"stamp" cbor:"stamp"` // Unix nanoseconds, 0 = receipt time
	Bodies []BodyPose `json:"bodies" cbor:"bodies"`
}

// BodyPose is one tracked body in a Frame. Yaw is in degrees.
type BodyPose struct {
	Name     string     `json:"name" cbor:"name"`
	Position [3]float64 `json:"position" cbor:"position"`
	Yaw      float64    `json:"yaw" cbor:"yaw"`
}

// Samples converts the frame into per-body samples stamped at.
func (f Frame) Samples(at time.Time) []Sample {
	if f.Stamp != 0 {
		at = time.Unix(0, f.Stamp)
	}
	out := make([]Sample, 0, len(f.Bodies))
	for _, b := range f.Bodies {
		out = append(out, Sample{
			Name:     b.Name,
			Position: geom.FromArray(b.Position),
			Yaw:      b.Yaw,
			Time:     at,
		})
	}
	return out
}

// Dispatcher routes a sample to the robot it names.
type Dispatcher interface {
	Dispatch(s Sample) bool
}

// FeedStats counts what a Feed has seen.
type FeedStats struct {
	Frames    uint64 `json:"frames"`
	Delivered uint64 `json:"delivered"`
	Unmatched uint64 `json:"unmatched"`
	Malformed uint64 `json:"malformed"`
}

// Feed subscribes to the pose topic and hands every sample to a
// Dispatcher. Samples for bodies nobody registered are counted and
// dropped.
type Feed struct {
	bus    messaging.Bus
	codec  codec.Codec
	topic  string
	target Dispatcher
	now    func() time.Time
	logger *slog.Logger

	frames    atomic.Uint64
	delivered atomic.Uint64
	unmatched atomic.Uint64
	malformed atomic.Uint64
}

func NewFeed(bus messaging.Bus, c codec.Codec, topic string, target Dispatcher) *Feed {
	if c == nil {
		c = codec.JSON
	}
	return &Feed{
		bus:    bus,
		codec:  c,
		topic:  topic,
		target: target,
		now:    time.Now,
		logger: log.Component("mocap").With("topic", topic),
	}
}

// Start subscribes to the pose topic.
func (f *Feed) Start() error {
	if err := f.bus.Subscribe(f.topic, f.handle); err != nil {
		return err
	}
	f.logger.Info("pose feed subscribed", "codec", f.codec.Name())
	return nil
}

func (f *Feed) handle(payload []byte) {
	var frame Frame
	if err := f.codec.Unmarshal(payload, &frame); err != nil {
		if f.malformed.Add(1)%100 == 1 {
			f.logger.Warn("malformed pose frame", "err", err)
		}
		return
	}
	f.frames.Add(1)
	for _, s := range frame.Samples(f.now()) {
		if f.target.Dispatch(s) {
			f.delivered.Add(1)
		} else {
			f.unmatched.Add(1)
		}
	}
}

func (f *Feed) Stats() FeedStats {
	return FeedStats{
		Frames:    f.frames.Load(),
		Delivered: f.delivered.Load(),
		Unmatched: f.unmatched.Load(),
		Malformed: f.malformed.Load(),
	}
}
