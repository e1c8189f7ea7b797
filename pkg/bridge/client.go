package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/protocol"
)

// Handler processes one server message. For actuation requests the
// returned error is reported back to the server as the request's result.
type Handler func(msg *protocol.Message) error

// actuation lists the message types that are acknowledged with a result.
var actuation = map[protocol.MessageType]bool{
	protocol.TypeGoTo:      true,
	protocol.TypeVelocity:  true,
	protocol.TypeTakeoff:   true,
	protocol.TypeLand:      true,
	protocol.TypeEmergency: true,
}

// Client is the driver side of the bridge.
type Client struct {
	name   string
	ws     *websocket.Conn
	wsMu   sync.Mutex
	logger *slog.Logger
	closed atomic.Bool
}

// DriverURL returns the WebSocket URL a driver named name dials on the
// server at serverURL. http and https schemes are mapped to ws and wss.
func DriverURL(serverURL, name string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/driver/" + url.PathEscape(name)
	return u.String(), nil
}

// Dial connects a driver named name to the server.
func Dial(ctx context.Context, serverURL, name string) (*Client, error) {
	wsURL, err := DriverURL(serverURL, name)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge: %w", err)
	}

	return &Client{
		name:   name,
		ws:     ws,
		logger: log.Component("bridge-client").With("name", name),
	}, nil
}

// Name returns the driver name.
func (c *Client) Name() string { return c.name }

// Run reads server messages until ctx is cancelled or the connection
// drops. Pings are answered by the server, so h only sees hello, pong and
// actuation messages.
func (c *Client) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("parse error", "err", err)
			continue
		}

		herr := h(msg)
		if !actuation[msg.Type] {
			continue
		}
		if herr != nil {
			c.logger.Warn("request failed", "type", msg.Type, "seq", msg.Seq, "err", herr)
		}
		res, err := protocol.NewResultMessage(msg.Seq, herr)
		if err != nil {
			continue
		}
		if err := c.send(res); err != nil {
			return err
		}
	}
}

// SendPose reports the robot's measured pose. Yaw is in degrees.
func (c *Client) SendPose(position [3]float64, yaw float64) error {
	msg, err := protocol.NewPoseMessage(position, yaw)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Ping asks the server for a pong carrying id.
func (c *Client) Ping(id string) error {
	msg, err := protocol.NewPingMessage(id)
	if err != nil {
		return err
	}
	return c.send(msg)
}

func (c *Client) send(msg *protocol.Message) error {
	if c.closed.Load() {
		return errors.New("bridge client closed")
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.wsMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wsMu.Unlock()
	return c.ws.Close()
}
