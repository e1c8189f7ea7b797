// Package httpdrv drives radio quadrotors through an HTTP driver service.
//
// The service owns the radio link. Each robot registers itself on init and
// then receives high level commands (go_to, takeoff, land, emergency) and
// external position updates from motion capture. Requests are handed to a
// per-robot worker so the control loop never waits on the network.
package httpdrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mdp/internal/httpc"
	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
)

const (
	Type   = "http"
	Prefix = "cflie_"
)

// Defaults used when Config fields are zero.
const (
	DefaultTimeout    = 2 * time.Second
	DefaultQueueSize  = 32
	DefaultLinkURI    = "radio://0/80/2M"
	DefaultLandHeight = 0.05

	// addressPrefix is prepended to the per-robot radio address.
	addressPrefix = "0xE7E7E7E7"
)

// Config locates the driver service.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	QueueSize  int
	LinkURI    string
	LandHeight float64
}

func (c *Config) applyDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.LinkURI == "" {
		c.LinkURI = DefaultLinkURI
	}
	if c.LandHeight <= 0 {
		c.LandHeight = DefaultLandHeight
	}
}

// Stats counts requests handled by the worker.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Positions uint64 `json:"positions"`
}

type request struct {
	op     string
	method string
	path   string
	body   any
}

// Driver is the backend for one radio quadrotor.
type Driver struct {
	cfg    Config
	tag    string
	uri    string
	client *http.Client
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	reqs   chan request

	// latest external position, coalesced between worker runs
	position atomic.Pointer[[3]float64]
	posReady chan struct{}

	current       geom.Vector3
	paramsPending atomic.Bool
	paramsOK      atomic.Bool

	sent      atomic.Uint64
	failed    atomic.Uint64
	positions atomic.Uint64

	done chan struct{}
}

var _ backend.Backend = (*Driver)(nil)

// New creates a driver for tag. The radio address is the part of the tag
// after the first underscore.
func New(tag string, cfg Config) *Driver {
	cfg.applyDefaults()
	address := tag
	if i := strings.IndexByte(tag, '_'); i >= 0 {
		address = tag[i+1:]
	}
	return &Driver{
		cfg:      cfg,
		tag:      tag,
		uri:      fmt.Sprintf("%s/%s%s", cfg.LinkURI, addressPrefix, address),
		client:   httpc.NewClient(cfg.Timeout),
		log:      log.With("component", "httpdrv", "robot", tag),
		reqs:     make(chan request, cfg.QueueSize),
		posReady: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Constructor returns a factory constructor using cfg.
func Constructor(cfg Config) backend.Constructor {
	return func(req backend.Request) (backend.Backend, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("httpdrv: no driver service URL for %s", req.Tag)
		}
		return New(req.Tag, cfg), nil
	}
}

// URI is the radio link URI registered with the driver service.
func (d *Driver) URI() string { return d.uri }

func (d *Driver) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Failed: d.failed.Load(), Positions: d.positions.Load()}
}

// Wait blocks until the worker has exited after OnDeinit.
func (d *Driver) Wait() { <-d.done }

func (d *Driver) OnInit(backend.Body) error {
	go d.run()
	return d.enqueue(request{
		op:     "add",
		method: http.MethodPost,
		path:   "/robots",
		body:   map[string]string{"tag": d.tag, "uri": d.uri},
	})
}

// OnDeinit queues the removal and stops the worker once the queue is
// drained. It does not wait for the service to answer.
func (d *Driver) OnDeinit() error {
	err := d.enqueue(request{
		op:     "remove",
		method: http.MethodDelete,
		path:   "/robots/" + url.PathEscape(d.tag),
	})
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.reqs)
	}
	d.mu.Unlock()
	return err
}

// OnMotionCapture forwards the measured position so the onboard estimator
// can fuse it. Only the newest position is kept when the worker lags.
func (d *Driver) OnMotionCapture(s mocap.Sample) error {
	d.current = s.Position
	p := s.Position.Array()
	d.position.Store(&p)
	select {
	case d.posReady <- struct{}{}:
	default:
	}
	return nil
}

// OnUpdate pushes the onboard parameters once. It retries on the next tick
// until the service accepts them.
func (d *Driver) OnUpdate(time.Time) error {
	if d.paramsOK.Load() || d.paramsPending.Load() {
		return nil
	}
	d.paramsPending.Store(true)
	err := d.enqueue(request{
		op:     "params",
		method: http.MethodPost,
		path:   d.robotPath("params"),
		body: map[string]int{
			"commander/enHighLevel":  1,
			"stabilizer/estimator":   2,
			"stabilizer/controller":  2,
			"kalman/resetEstimation": 1,
		},
	})
	if err != nil {
		d.paramsPending.Store(false)
	}
	return err
}

func (d *Driver) OnSetPosition(target geom.Vector3, yaw, duration float64, relative bool) error {
	return d.goTo(target, yaw, duration, relative)
}

// OnSetVelocity has no native counterpart on the service; the velocity is
// turned into the position reached after duration seconds.
func (d *Driver) OnSetVelocity(vel geom.Vector3, yawRate, duration float64, _ bool) error {
	goal := d.current.Add(vel.Scale(duration))
	return d.goTo(goal, yawRate*duration, duration, false)
}

func (d *Driver) OnTakeoff(height, duration float64) error {
	return d.enqueue(request{
		op:     "takeoff",
		method: http.MethodPost,
		path:   d.robotPath("takeoff"),
		body:   map[string]float64{"height": height, "duration": duration},
	})
}

// OnLand descends to LandHeight rather than the floor; the motors cut out
// on touchdown.
func (d *Driver) OnLand(duration float64) error {
	return d.enqueue(request{
		op:     "land",
		method: http.MethodPost,
		path:   d.robotPath("land"),
		body:   map[string]float64{"height": d.cfg.LandHeight, "duration": duration},
	})
}

func (d *Driver) OnEmergency() error {
	return d.enqueue(request{
		op:     "emergency",
		method: http.MethodPost,
		path:   d.robotPath("emergency"),
	})
}

func (d *Driver) Controllable() bool { return true }

type goToBody struct {
	Goal     [3]float64 `json:"goal"`
	Yaw      float64    `json:"yaw"` // radians
	Duration float64    `json:"duration"`
	Relative bool       `json:"relative"`
}

func (d *Driver) goTo(goal geom.Vector3, yaw, duration float64, relative bool) error {
	d.log.Debug("go_to", "goal", goal.String(), "duration", duration, "relative", relative)
	return d.enqueue(request{
		op:     "go_to",
		method: http.MethodPost,
		path:   d.robotPath("go_to"),
		body: goToBody{
			Goal:     goal.Array(),
			Yaw:      geom.Radians(yaw),
			Duration: duration,
			Relative: relative,
		},
	})
}

func (d *Driver) robotPath(op string) string {
	return "/robots/" + url.PathEscape(d.tag) + "/" + op
}

func (d *Driver) enqueue(r request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%s %s: driver closed: %w", d.tag, r.op, backend.ErrUnreachable)
	}
	select {
	case d.reqs <- r:
		return nil
	default:
		return fmt.Errorf("%s %s: request queue full: %w", d.tag, r.op, backend.ErrUnreachable)
	}
}

// run is the worker. It exits when the request queue is closed and empty.
func (d *Driver) run() {
	defer close(d.done)
	for {
		select {
		case r, ok := <-d.reqs:
			if !ok {
				return
			}
			d.send(r)
		case <-d.posReady:
			if p := d.position.Swap(nil); p != nil {
				d.sendPosition(*p)
			}
		}
	}
}

func (d *Driver) send(r request) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := httpc.DoJSON(ctx, d.client, r.method, d.cfg.BaseURL+r.path, r.body, nil)
	if err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			err = fmt.Errorf("%w: %v", backend.ErrRejected, err)
		}
		d.failed.Add(1)
		if r.op == "params" {
			d.paramsPending.Store(false)
		}
		d.log.Error("driver request failed", "op", r.op, "result", backend.Classify(err), "error", err)
		return
	}
	d.sent.Add(1)
	if r.op == "params" {
		d.paramsOK.Store(true)
	}
	d.log.Debug("driver request", "op", r.op, "took", time.Since(start))
}

func (d *Driver) sendPosition(p [3]float64) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	body := map[string]any{"point": p, "stamp": time.Now().UnixMilli()}
	if err := httpc.PostJSON(ctx, d.client, d.cfg.BaseURL+d.robotPath("external_position"), body, nil); err != nil {
		d.failed.Add(1)
		d.log.Debug("external position failed", "error", err)
		return
	}
	d.positions.Add(1)
}
