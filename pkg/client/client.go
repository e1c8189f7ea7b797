// Package client is a Go client for the mdp REST API. It covers every
// user operation: listing robots, motion commands, home handling, state
// queries and fleet timing.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-mdp/internal/httpc"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

// DefaultPollInterval is how often SleepUntilIdle checks the state.
const DefaultPollInterval = 100 * time.Millisecond

// ErrNotFound is returned when the server does not know the robot.
var ErrNotFound = errors.New("robot not found")

// Client talks to one mdp server.
type Client struct {
	base string
	http *http.Client
	poll time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithPollInterval sets the SleepUntilIdle poll period.
func WithPollInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.poll = d
		}
	}
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: httpc.Client,
		poll: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(format string, args ...any) string {
	return c.base + fmt.Sprintf(format, args...)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	err := httpc.DoJSON(ctx, c.http, method, url, body, out)
	var se *httpc.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, se.Body)
	}
	return err
}

// =============================================================================
// Fleet
// =============================================================================

// List returns the id and name of every registered robot.
func (c *Client) List(ctx context.Context) ([]fleet.RobotID, error) {
	var out struct {
		Robots []fleet.RobotID `json:"robots"`
	}
	if err := c.do(ctx, http.MethodGet, c.url("/api/fleet/list"), nil, &out); err != nil {
		return nil, err
	}
	return out.Robots, nil
}

// Robots returns the latest snapshot of every robot.
func (c *Client) Robots(ctx context.Context) ([]rigidbody.Snapshot, error) {
	var out struct {
		Robots []rigidbody.Snapshot `json:"robots"`
	}
	if err := c.do(ctx, http.MethodGet, c.url("/api/robots"), nil, &out); err != nil {
		return nil, err
	}
	return out.Robots, nil
}

// AddRobot registers a robot. An empty typ selects the driver from the
// tag prefix.
func (c *Client) AddRobot(ctx context.Context, tag, typ string, spawn geom.Vector3) (fleet.RobotID, error) {
	var id fleet.RobotID
	body := map[string]any{"tag": tag, "type": typ, "spawn": spawn.Array()}
	err := c.do(ctx, http.MethodPost, c.url("/api/robots"), body, &id)
	return id, err
}

// RemoveRobot unregisters robot id.
func (c *Client) RemoveRobot(ctx context.Context, id uint32) error {
	return c.do(ctx, http.MethodDelete, c.url("/api/robots/%d", id), nil, nil)
}

// Timings returns the operating frequencies of the control loop.
func (c *Client) Timings(ctx context.Context) (scheduler.Stats, error) {
	var st scheduler.Stats
	err := c.do(ctx, http.MethodGet, c.url("/api/fleet/time"), nil, &st)
	return st, err
}

// SetUpdateRate changes the control loop rate. Non-positive rates are
// rejected by the server.
func (c *Client) SetUpdateRate(ctx context.Context, hz float64) error {
	return c.do(ctx, http.MethodPut, c.url("/api/fleet/rate"), map[string]float64{"hz": hz}, nil)
}

// EmergencyAll stops every robot and returns how many were flagged.
func (c *Client) EmergencyAll(ctx context.Context) (int, error) {
	var out struct {
		Robots int `json:"robots"`
	}
	err := c.do(ctx, http.MethodPost, c.url("/api/fleet/emergency"), nil, &out)
	return out.Robots, err
}

// Shutdown asks the server to land the fleet and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.url("/api/fleet/shutdown"), nil, nil)
}

// =============================================================================
// Robot queries
// =============================================================================

// Robot returns the latest snapshot of robot id.
func (c *Client) Robot(ctx context.Context, id uint32) (rigidbody.Snapshot, error) {
	var snap rigidbody.Snapshot
	err := c.do(ctx, http.MethodGet, c.url("/api/robots/%d", id), nil, &snap)
	return snap, err
}

// Position returns the last measured pose of robot id.
func (c *Client) Position(ctx context.Context, id uint32) (geom.Pose, error) {
	snap, err := c.Robot(ctx, id)
	return snap.Pose, err
}

// Velocity returns the estimated velocity of robot id.
func (c *Client) Velocity(ctx context.Context, id uint32) (geom.Velocity, error) {
	snap, err := c.Robot(ctx, id)
	return snap.Velocity, err
}

// State returns the state of robot id.
func (c *Client) State(ctx context.Context, id uint32) (rigidbody.State, error) {
	st, _, err := c.state(ctx, id)
	return st, err
}

func (c *Client) state(ctx context.Context, id uint32) (rigidbody.State, int, error) {
	var out struct {
		State   rigidbody.State `json:"state"`
		Pending int             `json:"pending"`
	}
	err := c.do(ctx, http.MethodGet, c.url("/api/robots/%d/state", id), nil, &out)
	return out.State, out.Pending, err
}

// Home returns the home position of robot id.
func (c *Client) Home(ctx context.Context, id uint32) (geom.Vector3, error) {
	var out struct {
		Home [3]float64 `json:"home"`
	}
	err := c.do(ctx, http.MethodGet, c.url("/api/robots/%d/home", id), nil, &out)
	return geom.FromArray(out.Home), err
}

// SleepUntilIdle blocks until robot id hovers or rests with nothing
// queued. The first check happens one poll interval after the call so a
// command sent just before has been picked up.
func (c *Client) SleepUntilIdle(ctx context.Context, id uint32) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		st, pending, err := c.state(ctx, id)
		if err != nil {
			return err
		}
		if pending == 0 && (st == rigidbody.Idle || st == rigidbody.Landed || st == rigidbody.Emergency) {
			return nil
		}
	}
}

// =============================================================================
// Commands
// =============================================================================

// Send routes a command to its target and returns the command id.
func (c *Client) Send(ctx context.Context, cmd command.Command) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, c.url("/api/robots/%d/command", cmd.Target), cmd.Wire(), &out)
	return out.ID, err
}

func (c *Client) send(ctx context.Context, cmd command.Command) error {
	_, err := c.Send(ctx, cmd)
	return err
}

// SetVelocity commands a velocity in m/s with a yaw rate in deg/s.
func (c *Client) SetVelocity(ctx context.Context, id uint32, vel geom.Vector3, yawRate, duration float64, relXY, relZ bool) error {
	return c.send(ctx, command.Velocity(id, vel, yawRate, duration, relXY, relZ))
}

// SetPosition commands a position target with a yaw in degrees.
func (c *Client) SetPosition(ctx context.Context, id uint32, pos geom.Vector3, yaw, duration float64, relXY, relZ bool) error {
	return c.send(ctx, command.Position(id, pos, yaw, duration, relXY, relZ))
}

// Takeoff climbs to height over duration. Zero values take the defaults
// of 0.5 m and 2 s.
func (c *Client) Takeoff(ctx context.Context, id uint32, height, duration float64) error {
	return c.send(ctx, command.Takeoff(id, height, duration))
}

func (c *Client) Land(ctx context.Context, id uint32, duration float64) error {
	return c.send(ctx, command.Land(id, duration))
}

func (c *Client) Hover(ctx context.Context, id uint32, duration float64) error {
	return c.send(ctx, command.Hover(id, duration))
}

func (c *Client) Emergency(ctx context.Context, id uint32) error {
	return c.send(ctx, command.Emergency(id))
}

// SetHome sets the home position. Only x and y are used.
func (c *Client) SetHome(ctx context.Context, id uint32, pos geom.Vector3, relXY bool) error {
	return c.send(ctx, command.SetHome(id, pos, relXY))
}

// GoToHome flies home. A height of zero or less lands on arrival.
func (c *Client) GoToHome(ctx context.Context, id uint32, duration, height float64) error {
	return c.send(ctx, command.GoToHome(id, duration, height))
}

// ParseID accepts a numeric id. Names are resolved through List.
func (c *Client) ParseID(ctx context.Context, s string) (uint32, error) {
	if id, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(id), nil
	}
	ids, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, rid := range ids {
		if rid.Name == s {
			return rid.NumericID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, s)
}
