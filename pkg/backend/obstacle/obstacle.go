// Package obstacle is the driver for passive tracked objects: things the
// motion capture system sees but nothing can command.
package obstacle

import (
	"github.com/teslashibe/go-mdp/pkg/backend"
)

const (
	Type   = "obstacle"
	Prefix = "object_"
)

// Backend accepts every callback and does nothing.
type Backend struct {
	backend.Nop
}

func New() *Backend { return &Backend{} }

// Controllable is false: the supervisor rejects commands for obstacles.
func (*Backend) Controllable() bool { return false }

// Constructor builds an obstacle for any request.
func Constructor(backend.Request) (backend.Backend, error) {
	return New(), nil
}
