package messaging

import "sync"

// Memory is an in-process Bus. Publish delivers synchronously to every
// handler subscribed to the exact topic.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{handlers: make(map[string][]Handler)}
}

func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrNotConnected
	}
	hs := append([]Handler(nil), m.handlers[topic]...)
	m.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
	return nil
}

func (m *Memory) Subscribe(topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	m.handlers[topic] = append(m.handlers[topic], handler)
	return nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.handlers = make(map[string][]Handler)
	m.mu.Unlock()
}

var (
	_ Bus = (*Client)(nil)
	_ Bus = (*Memory)(nil)
)
