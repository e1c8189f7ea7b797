// Package bridge connects robots whose driver runs in a separate process.
// Drivers dial the server over WebSocket, stream measured poses and
// receive actuation requests for the robot they are bound to.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/protocol"
)

// ErrNotConnected is returned when no driver is connected under a name.
var ErrNotConnected = errors.New("driver not connected")

// ErrSendQueueFull is returned when a driver is not draining its messages.
var ErrSendQueueFull = errors.New("driver send queue full")

const (
	// sendQueueSize bounds the messages waiting for one driver.
	sendQueueSize = 64

	// writeWait is how long a single write may take before the driver is
	// dropped.
	writeWait = 5 * time.Second
)

// DriverConnection represents a connected driver process. Writes go
// through a bounded queue drained by writePump, so senders never wait on
// the socket.
type DriverConnection struct {
	Name      string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	send     chan []byte
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu sync.Mutex
}

func newDriverConnection(name string, c *websocket.Conn) *DriverConnection {
	now := time.Now()
	return &DriverConnection{
		Name:      name,
		Conn:      c,
		Connected: now,
		LastSeen:  now,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Send queues a message for the driver. It never blocks: a closed
// connection returns ErrNotConnected and a full queue ErrSendQueueFull.
func (d *DriverConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	select {
	case <-d.done:
		return fmt.Errorf("%w: %s", ErrNotConnected, d.Name)
	default:
	}
	select {
	case d.send <- data:
		return nil
	case <-d.done:
		return fmt.Errorf("%w: %s", ErrNotConnected, d.Name)
	default:
		return fmt.Errorf("%w: %s", ErrSendQueueFull, d.Name)
	}
}

// writePump is the only writer of Conn. A failed or timed out write
// closes the socket, which also ends the read loop.
func (d *DriverConnection) writePump() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			return
		case data := <-d.send:
			_ = d.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := d.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				d.stop()
				_ = d.Conn.Close()
				return
			}
		}
	}
}

func (d *DriverConnection) stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

func (d *DriverConnection) touch() {
	d.mu.Lock()
	d.LastSeen = time.Now()
	d.mu.Unlock()
}

// Hub manages WebSocket connections from drivers and routes their
// messages to the bridge backends bound to the same name.
type Hub struct {
	mu        sync.RWMutex
	drivers   map[string]*DriverConnection
	endpoints map[string]*Backend
	logger    *slog.Logger

	seq atomic.Uint64

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	posesReceived    atomic.Uint64
	failedResults    atomic.Uint64
}

// NewHub creates a new driver hub
func NewHub() *Hub {
	return &Hub{
		drivers:   make(map[string]*DriverConnection),
		endpoints: make(map[string]*Backend),
		logger:    log.Component("bridge"),
	}
}

// RegisterRoutes registers the driver WebSocket route on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/driver", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/driver/:name", websocket.New(h.handleDriver))
}

// handleDriver handles one driver WebSocket connection
func (h *Hub) handleDriver(c *websocket.Conn) {
	name := c.Params("name")
	driver := newDriverConnection(name, c)
	go driver.writePump()

	h.mu.Lock()
	if old, ok := h.drivers[name]; ok {
		// newest connection wins
		old.stop()
		_ = old.Conn.Close()
	}
	h.drivers[name] = driver
	ep := h.endpoints[name]
	count := len(h.drivers)
	h.mu.Unlock()

	h.logger.Info("driver connected", "name", name, "total", count)
	if ep != nil {
		h.hello(driver, ep)
	}

	defer func() {
		// the connection is released when this handler returns
		driver.stop()
		<-driver.stopped

		h.mu.Lock()
		if h.drivers[name] == driver {
			delete(h.drivers, name)
		}
		count := len(h.drivers)
		h.mu.Unlock()
		h.logger.Info("driver disconnected", "name", name, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("driver read error", "name", name, "err", err)
			return
		}
		driver.touch()
		h.messagesReceived.Add(1)
		h.handleMessage(driver, data)
	}
}

// handleMessage processes an incoming message from a driver
func (h *Hub) handleMessage(driver *DriverConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Warn("parse error", "name", driver.Name, "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypePose:
		pose, err := msg.GetPoseData()
		if err != nil {
			h.logger.Warn("bad pose", "name", driver.Name, "err", err)
			return
		}
		h.posesReceived.Add(1)
		if ep := h.endpoint(driver.Name); ep != nil {
			ep.handlePose(pose)
		}

	case protocol.TypeResult:
		res, err := msg.GetResultData()
		if err != nil {
			return
		}
		if !res.OK {
			h.failedResults.Add(1)
			h.logger.Warn("driver reported failure", "name", driver.Name, "seq", res.Seq, "err", res.Error)
		}

	case protocol.TypePing:
		ping, _ := msg.GetPingData()
		id := ""
		pingTS := msg.Timestamp
		if ping != nil {
			id = ping.ID
			if ping.Timestamp != 0 {
				pingTS = ping.Timestamp
			}
		}
		pong, err := protocol.NewPongMessage(id, pingTS, time.Now().UnixMilli())
		if err == nil {
			h.messagesSent.Add(1)
			_ = driver.Send(pong)
		}
	}
}

func (h *Hub) hello(driver *DriverConnection, ep *Backend) {
	id, robot := ep.identity()
	msg, err := protocol.NewHelloMessage(robot, id)
	if err != nil {
		return
	}
	h.messagesSent.Add(1)
	if err := driver.Send(msg); err != nil {
		h.logger.Warn("hello failed", "name", driver.Name, "err", err)
	}
}

// attach binds a backend to a driver name. A driver already connected
// under that name is greeted immediately.
func (h *Hub) attach(name string, ep *Backend) error {
	h.mu.Lock()
	if _, ok := h.endpoints[name]; ok {
		h.mu.Unlock()
		return fmt.Errorf("bridge name %q already bound", name)
	}
	h.endpoints[name] = ep
	driver := h.drivers[name]
	h.mu.Unlock()

	if driver != nil {
		h.hello(driver, ep)
	}
	return nil
}

func (h *Hub) detach(name string, ep *Backend) {
	h.mu.Lock()
	if h.endpoints[name] == ep {
		delete(h.endpoints, name)
	}
	h.mu.Unlock()
}

func (h *Hub) endpoint(name string) *Backend {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.endpoints[name]
}

// Send stamps msg with a fresh sequence number and sends it to the driver
// connected under name.
func (h *Hub) Send(name string, msg *protocol.Message) error {
	h.mu.RLock()
	driver, ok := h.drivers[name]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, name)
	}

	msg.Seq = h.seq.Add(1)
	h.messagesSent.Add(1)
	return driver.Send(msg)
}

// Connected reports whether a driver is connected under name.
func (h *Hub) Connected(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.drivers[name]
	return ok
}

// DriverCount returns the number of connected drivers
func (h *Hub) DriverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.drivers)
}

// Stats contains hub statistics
type Stats struct {
	DriverCount      int    `json:"driver_count"`
	BoundRobots      int    `json:"bound_robots"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	PosesReceived    uint64 `json:"poses_received"`
	FailedResults    uint64 `json:"failed_results"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	drivers, bound := len(h.drivers), len(h.endpoints)
	h.mu.RUnlock()
	return Stats{
		DriverCount:      drivers,
		BoundRobots:      bound,
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		PosesReceived:    h.posesReceived.Load(),
		FailedResults:    h.failedResults.Load(),
	}
}

// DriverInfo contains info about a connected driver
type DriverInfo struct {
	Name      string    `json:"name"`
	Bound     bool      `json:"bound"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetDriverInfos returns info about all connected drivers
func (h *Hub) GetDriverInfos() []DriverInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]DriverInfo, 0, len(h.drivers))
	for name, d := range h.drivers {
		_, bound := h.endpoints[name]
		d.mu.Lock()
		infos = append(infos, DriverInfo{
			Name:      d.Name,
			Bound:     bound,
			Connected: d.Connected,
			LastSeen:  d.LastSeen,
		})
		d.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers read-only bridge routes
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	drivers := api.Group("/drivers")

	drivers.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"drivers": h.GetDriverInfos(),
			"count":   h.DriverCount(),
		})
	})

	drivers.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}
