package backend

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors drivers wrap to classify a failed call.
var (
	// ErrRejected means the robot received the request and refused it.
	ErrRejected = errors.New("rejected by robot")
	// ErrUnreachable means the request never reached the robot.
	ErrUnreachable = errors.New("robot unreachable")
)

// Result classifies the outcome of a backend call.
type Result int

const (
	Accepted Result = iota
	Rejected
	Unreachable
	Failed
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Unreachable:
		return "unreachable"
	default:
		return "failed"
	}
}

// Classify maps an error returned by a backend to a Result. Network and
// deadline errors count as unreachable even when not wrapped.
func Classify(err error) Result {
	if err == nil {
		return Accepted
	}
	if errors.Is(err, ErrRejected) {
		return Rejected
	}
	if errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return Unreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Unreachable
	}
	return Failed
}
