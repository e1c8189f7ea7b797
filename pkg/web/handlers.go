package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/hub"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

const defaultListLimit = 100

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, fleet.ErrDuplicateName),
		errors.Is(err, rigidbody.ErrNotControllable):
		return fiber.StatusConflict
	case errors.Is(err, fleet.ErrEmptyTag),
		errors.Is(err, backend.ErrUnknownType),
		errors.Is(err, command.ErrUnknownKind),
		errors.Is(err, scheduler.ErrInvalidRate):
		return fiber.StatusBadRequest
	case errors.Is(err, rigidbody.ErrMailboxFull):
		return fiber.StatusTooManyRequests
	case errors.Is(err, scheduler.ErrShuttingDown),
		errors.Is(err, rigidbody.ErrClosed):
		return fiber.StatusServiceUnavailable
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// handleError renders every error as {"error": "..."}
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) registry() *fleet.Registry {
	return s.opts.Scheduler.Registry()
}

// robotParam parses the :id path parameter
func robotParam(c *fiber.Ctx) (uint32, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid robot id: "+c.Params("id"))
	}
	return uint32(id), nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"running":   s.opts.Scheduler.Running(),
		"accepting": s.opts.Scheduler.Accepting(),
		"robots":    s.registry().Len(),
	})
}

func (s *Server) handleTypes(c *fiber.Ctx) error {
	if s.opts.Factory == nil {
		return c.JSON(fiber.Map{"types": []string{}})
	}
	return c.JSON(fiber.Map{"types": s.opts.Factory.Types()})
}

// handleListRobots returns a snapshot of every robot
func (s *Server) handleListRobots(c *fiber.Ctx) error {
	snaps := s.registry().Snapshots()
	return c.JSON(fiber.Map{
		"robots": snaps,
		"count":  len(snaps),
	})
}

// AddRobotRequest is the body of POST /api/robots
type AddRobotRequest struct {
	Tag   string     `json:"tag"`
	Type  string     `json:"type,omitempty"`
	Spawn [3]float64 `json:"spawn,omitempty"`
}

func (s *Server) handleAddRobot(c *fiber.Ctx) error {
	var req AddRobotRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	id, err := s.opts.Scheduler.AddRobot(backend.Request{
		Tag:   req.Tag,
		Type:  req.Type,
		Spawn: geom.FromArray(req.Spawn),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(id)
}

func (s *Server) handleGetRobot(c *fiber.Ctx) error {
	id, err := robotParam(c)
	if err != nil {
		return err
	}
	rb, err := s.registry().Get(id)
	if err != nil {
		return err
	}
	return c.JSON(rb.Snapshot())
}

func (s *Server) handleRemoveRobot(c *fiber.Ctx) error {
	id, err := robotParam(c)
	if err != nil {
		return err
	}
	if _, err := s.registry().Get(id); err != nil {
		return err
	}
	if err := s.opts.Scheduler.RemoveRobot(id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StateResponse is the body of GET /api/robots/:id/state
type StateResponse struct {
	ID      uint32          `json:"id"`
	Name    string          `json:"name"`
	State   rigidbody.State `json:"state"`
	Pending int             `json:"pending"`
}

func (s *Server) handleGetState(c *fiber.Ctx) error {
	id, err := robotParam(c)
	if err != nil {
		return err
	}
	rb, err := s.registry().Get(id)
	if err != nil {
		return err
	}
	snap := rb.Snapshot()
	return c.JSON(StateResponse{ID: snap.ID, Name: snap.Name, State: snap.State, Pending: snap.Pending})
}

// HomeResponse is the body of GET /api/robots/:id/home
type HomeResponse struct {
	ID   uint32     `json:"id"`
	Home [3]float64 `json:"home"`
}

func (s *Server) handleGetHome(c *fiber.Ctx) error {
	id, err := robotParam(c)
	if err != nil {
		return err
	}
	home, err := s.registry().Home(id)
	if err != nil {
		return err
	}
	return c.JSON(HomeResponse{ID: id, Home: home.Array()})
}

// handleCommand routes one command to the robot in the path. The target
// in the body is ignored.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	id, err := robotParam(c)
	if err != nil {
		return err
	}
	var w command.Wire
	if err := c.BodyParser(&w); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	w.Target = id
	cmd, err := command.FromWire(w)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.opts.Scheduler.Route(cmd); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":   cmd.ID.String(),
		"kind": cmd.Kind.String(),
	})
}

// handleList returns the id:name table
func (s *Server) handleList(c *fiber.Ctx) error {
	reg := s.registry()
	return c.JSON(fiber.Map{
		"robots": reg.List(),
		"list":   reg.ListString(),
	})
}

// handleTime returns the operating frequencies of the control loop
func (s *Server) handleTime(c *fiber.Ctx) error {
	return c.JSON(s.opts.Scheduler.Stats())
}

// RateRequest is the body of PUT /api/fleet/rate
type RateRequest struct {
	Hz float64 `json:"hz"`
}

func (s *Server) handleSetRate(c *fiber.Ctx) error {
	var req RateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.opts.Scheduler.SetRate(req.Hz); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"hz": s.opts.Scheduler.Rate()})
}

func (s *Server) handleEmergency(c *fiber.Ctx) error {
	n := s.opts.Scheduler.EmergencyAll()
	return c.JSON(fiber.Map{"robots": n})
}

func (s *Server) handleShutdown(c *fiber.Ctx) error {
	if s.opts.Shutdown == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "shutdown not available")
	}
	s.logger.Warn("shutdown requested over http", "remote", c.IP())
	go s.opts.Shutdown()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "shutting down"})
}

func (s *Server) flightLog() (FlightLog, error) {
	if s.opts.FlightLog == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "flight log not configured")
	}
	return s.opts.FlightLog, nil
}

func (s *Server) handleRobotTransitions(c *fiber.Ctx) error {
	id, err := robotParam(c)
	if err != nil {
		return err
	}
	fl, err := s.flightLog()
	if err != nil {
		return err
	}
	rows, err := fl.ListRobotTransitions(id, c.QueryInt("limit", defaultListLimit))
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

func (s *Server) handleTransitions(c *fiber.Ctx) error {
	fl, err := s.flightLog()
	if err != nil {
		return err
	}
	rows, err := fl.ListTransitions(c.QueryInt("limit", defaultListLimit))
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

func (s *Server) handleSummaries(c *fiber.Ctx) error {
	fl, err := s.flightLog()
	if err != nil {
		return err
	}
	rows, err := fl.ListSummaries(c.QueryInt("limit", defaultListLimit))
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

func (s *Server) handleShutdowns(c *fiber.Ctx) error {
	fl, err := s.flightLog()
	if err != nil {
		return err
	}
	rows, err := fl.ListShutdowns(c.QueryInt("limit", defaultListLimit))
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

// handleTelemetryWS streams telemetry events until the client leaves
func (s *Server) handleTelemetryWS(c *websocket.Conn) {
	hub.NewClient(s.opts.Telemetry, c).Run()
}
