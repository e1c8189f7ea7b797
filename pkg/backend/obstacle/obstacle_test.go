package obstacle

import (
	"errors"
	"testing"

	ilog "github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
)

func TestFactoryPrefix(t *testing.T) {
	f := backend.NewFactory()
	f.Register(Type, Prefix, Constructor)

	typ, err := f.Resolve(backend.Request{Tag: "object_wall"})
	if err != nil || typ != Type {
		t.Fatalf("Resolve = %q, %v", typ, err)
	}
	b, err := f.New(backend.Request{Tag: "object_wall"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Controllable() {
		t.Error("obstacle reported controllable")
	}
}

func TestSupervisorRejectsCommands(t *testing.T) {
	rb := rigidbody.New(0, "object_wall", New(), rigidbody.WithLogger(ilog.Discard()))
	if err := rb.Submit(command.Takeoff(0, 0.5, 2)); !errors.Is(err, rigidbody.ErrNotControllable) {
		t.Errorf("Submit: got %v, want ErrNotControllable", err)
	}
}
