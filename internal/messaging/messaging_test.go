package messaging

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-mdp/internal/config"
)

func TestMemoryDelivers(t *testing.T) {
	m := NewMemory()
	var got []string
	if err := m.Subscribe("mdp/mocap", func(p []byte) { got = append(got, string(p)) }); err != nil {
		t.Fatal(err)
	}
	if err := m.Publish("mdp/mocap", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := m.Publish("mdp/other", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("got %v, want [a]", got)
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	m.Close()
	if err := m.Publish("x", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish after Close: got %v", err)
	}
	if err := m.Subscribe("x", func([]byte) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe after Close: got %v", err)
	}
}

func TestClientUnknownBackend(t *testing.T) {
	c := NewClient(config.MessagingConfig{Backend: "amqp"})
	defer c.Close()
	if err := c.Connect(); err == nil {
		t.Error("expected error for unknown backend")
	}
	if c.IsConnected() {
		t.Error("IsConnected true for unknown backend")
	}
}

func TestClientPublishBeforeConnect(t *testing.T) {
	c := NewClient(config.MessagingConfig{Backend: "mqtt"})
	defer c.Close()
	if err := c.Publish("mdp/telemetry", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestKafkaNeedsBrokers(t *testing.T) {
	c := NewClient(config.MessagingConfig{Backend: "kafka"})
	defer c.Close()
	if err := c.Connect(); err == nil {
		t.Error("expected error with no brokers")
	}
}
