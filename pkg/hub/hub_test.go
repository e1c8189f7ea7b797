package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu     sync.Mutex
	writes []Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(typ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch typ {
	case websocket.TextMessage:
		c.writes = append(c.writes, NewJSONMessage(data))
	case websocket.BinaryMessage:
		c.writes = append(c.writes, NewBinaryMessage(data))
	}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.writes...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBroadcastReachesClients(t *testing.T) {
	h := New("test")
	go h.Run()
	defer h.Stop()

	a, b := newFakeConn(), newFakeConn()
	go NewClient(h, a).Run()
	go NewClient(h, b).Run()
	waitFor(t, "clients", func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]int{"tick": 1}); err != nil {
		t.Fatal(err)
	}
	h.BroadcastBinary([]byte{0xa1})

	for _, c := range []*fakeConn{a, b} {
		waitFor(t, "messages", func() bool { return len(c.messages()) == 2 })
		msgs := c.messages()
		if msgs[0].Type != JSONMessage || string(msgs[0].Data) != `{"tick":1}` {
			t.Errorf("first message = %+v", msgs[0])
		}
		if msgs[1].Type != BinaryMessage {
			t.Errorf("second message type = %v, want binary", msgs[1].Type)
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	h := New("test")
	go h.Run()
	defer h.Stop()

	conn := newFakeConn()
	go NewClient(h, conn).Run()
	waitFor(t, "connect", func() bool { return h.ClientCount() == 1 })

	conn.Close()
	waitFor(t, "disconnect", func() bool { return h.ClientCount() == 0 })
}

func TestStop(t *testing.T) {
	h := New("test")
	go h.Run()
	waitFor(t, "running", h.IsRunning)

	conn := newFakeConn()
	go NewClient(h, conn).Run()
	waitFor(t, "connect", func() bool { return h.ClientCount() == 1 })

	h.Stop()
	if h.IsRunning() {
		t.Error("hub should not be running after Stop")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after Stop", h.ClientCount())
	}

	// late clients start closed instead of blocking
	done := make(chan struct{})
	go func() {
		NewClient(h, newFakeConn())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NewClient blocked after Stop")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := New("test")
	// not running: the broadcast channel fills up
	for i := 0; i < cap(h.broadcast)+5; i++ {
		h.BroadcastBinary([]byte{byte(i)})
	}
	if h.Dropped() != 5 {
		t.Errorf("Dropped = %d, want 5", h.Dropped())
	}
}

func TestEncoded(t *testing.T) {
	tests := []struct {
		codec string
		want  MessageType
		frame int
	}{
		{"json", JSONMessage, websocket.TextMessage},
		{"cbor", BinaryMessage, websocket.BinaryMessage},
		{"", JSONMessage, websocket.TextMessage},
	}
	for _, tt := range tests {
		m := Encoded(tt.codec, []byte{1})
		if m.Type != tt.want {
			t.Errorf("Encoded(%q).Type = %v, want %v", tt.codec, m.Type, tt.want)
		}
		if m.frameType() != tt.frame {
			t.Errorf("Encoded(%q).frameType() = %d, want %d", tt.codec, m.frameType(), tt.frame)
		}
	}
}
