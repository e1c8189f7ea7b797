package params

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-mdp/internal/config"
)

func TestKeys(t *testing.T) {
	k := Keys{Prefix: "mdp"}
	if got := k.State(3); got != "mdp/drone_3/state" {
		t.Errorf("State(3) = %q", got)
	}
	if got := k.Shutdown(); got != "mdp/shutdown" {
		t.Errorf("Shutdown() = %q", got)
	}
	if got := (Keys{}).State(0); got != "drone_0/state" {
		t.Errorf("unprefixed State(0) = %q", got)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrNotSet) {
		t.Errorf("Get missing: got %v", err)
	}
	m.Set(ctx, "a", "HOVER")
	if v, err := m.Get(ctx, "a"); err != nil || v != "HOVER" {
		t.Errorf("Get = %q, %v", v, err)
	}
	m.Delete(ctx, "a")
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrNotSet) {
		t.Error("Delete did not remove key")
	}
}

func TestBool(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{" True ", true},
		{"1", true},
		{"false", false},
		{"yes", false},
	}
	for _, tt := range tests {
		m.Set(ctx, "k", tt.value)
		if got := Bool(ctx, m, "k"); got != tt.want {
			t.Errorf("Bool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
	if Bool(ctx, m, "missing") {
		t.Error("missing key read as true")
	}
}

func TestWatchShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m := NewMemory()
	keys := Keys{Prefix: "mdp"}
	fired := make(chan struct{})
	go WatchShutdown(ctx, m, keys, 5*time.Millisecond, func() { close(fired) })

	m.Set(ctx, keys.Shutdown(), "true")
	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("shutdown callback not called")
	}
	if Bool(ctx, m, keys.Shutdown()) {
		t.Error("shutdown flag not cleared")
	}
}

func TestOpenWithoutAddressUsesMemory(t *testing.T) {
	s := Open(context.Background(), config.RedisConfig{})
	defer s.Close()
	if _, ok := s.(*Memory); !ok {
		t.Errorf("got %T, want *Memory", s)
	}
}
