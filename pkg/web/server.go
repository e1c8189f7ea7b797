// Package web serves the fleet REST API and the live telemetry websocket.
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/internal/store"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/bridge"
	"github.com/teslashibe/go-mdp/pkg/hub"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

// FlightLog is the read side of the flight log. *store.DB implements it.
type FlightLog interface {
	ListTransitions(limit int) ([]*store.Transition, error)
	ListRobotTransitions(robotID uint32, limit int) ([]*store.Transition, error)
	ListSummaries(limit int) ([]*store.Summary, error)
	ListShutdowns(limit int) ([]*store.Shutdown, error)
}

// Options wires the server to the rest of the process. Scheduler is
// required; the others switch their routes off when nil.
type Options struct {
	Addr      string
	Scheduler *scheduler.Scheduler
	Factory   *backend.Factory
	Telemetry *hub.Hub
	Bridge    *bridge.Hub
	FlightLog FlightLog
	// Shutdown is called by POST /api/fleet/shutdown.
	Shutdown func()
}

// Server is the HTTP front of the fleet
type Server struct {
	app    *fiber.App
	opts   Options
	logger *slog.Logger
}

// NewServer builds the routes
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: log.Component("web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "mdp",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	// CORS for dashboards served elsewhere
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/api")
	api.Get("/types", s.handleTypes)

	robots := api.Group("/robots")
	robots.Get("/", s.handleListRobots)
	robots.Post("/", s.handleAddRobot)
	robots.Get("/:id", s.handleGetRobot)
	robots.Delete("/:id", s.handleRemoveRobot)
	robots.Get("/:id/state", s.handleGetState)
	robots.Get("/:id/home", s.handleGetHome)
	robots.Post("/:id/command", s.handleCommand)
	robots.Get("/:id/transitions", s.handleRobotTransitions)

	fleet := api.Group("/fleet")
	fleet.Get("/list", s.handleList)
	fleet.Get("/time", s.handleTime)
	fleet.Put("/rate", s.handleSetRate)
	fleet.Post("/emergency", s.handleEmergency)
	fleet.Post("/shutdown", s.handleShutdown)
	fleet.Get("/transitions", s.handleTransitions)
	fleet.Get("/summaries", s.handleSummaries)
	fleet.Get("/shutdowns", s.handleShutdowns)

	if opts.Bridge != nil {
		opts.Bridge.RegisterRoutes(app)
		opts.Bridge.RegisterAPIRoutes(api)
	}

	if opts.Telemetry != nil {
		app.Use("/ws/telemetry", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/telemetry", websocket.New(s.handleTelemetryWS))
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Start starts the telemetry hub and serves until Shutdown
func (s *Server) Start() error {
	if s.opts.Telemetry != nil && !s.opts.Telemetry.IsRunning() {
		go s.opts.Telemetry.Run()
	}
	s.logger.Info("listening", "addr", s.opts.Addr)
	return s.app.Listen(s.opts.Addr)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "err", err)
		}
	}()
}

// Shutdown gracefully stops the web server and the telemetry hub
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	if s.opts.Telemetry != nil {
		s.opts.Telemetry.Stop()
	}
	return err
}
