// Package fleet keeps the table of supervised rigid bodies.
//
// A robot's numeric id is its slot index. Removing a robot vacates its
// slot without renumbering the others; the next Add reuses the lowest
// vacant slot before growing the table.
package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
)

var (
	ErrNotFound      = errors.New("rigid body not found")
	ErrDuplicateName = errors.New("rigid body name already registered")
	ErrEmptyTag      = errors.New("empty rigid body tag")
)

// RobotID identifies a registered robot.
type RobotID struct {
	NumericID uint32 `json:"id"`
	Name      string `json:"name"`
}

func (id RobotID) String() string {
	return fmt.Sprintf("%d:%s", id.NumericID, id.Name)
}

// Observer is told about registry changes. Calls happen with the registry
// unlocked, on the goroutine that made the change.
type Observer interface {
	Added(id RobotID, typ string)
	Removed(id RobotID)
}

// Registry maps slot indices to rigid bodies.
type Registry struct {
	mu        sync.RWMutex
	slots     []*rigidbody.RigidBody
	factory   *backend.Factory
	bodyOpts  []rigidbody.Option
	observers []Observer
	log       *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithBodyOptions sets the options every new rigid body is built with.
func WithBodyOptions(opts ...rigidbody.Option) Option {
	return func(r *Registry) { r.bodyOpts = append(r.bodyOpts, opts...) }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry that builds drivers with f.
func NewRegistry(f *backend.Factory, opts ...Option) *Registry {
	r := &Registry{factory: f}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.Component("fleet")
	}
	return r
}

// Observe registers an observer after construction.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Add creates a robot for tag, choosing the driver from the tag prefix.
func (r *Registry) Add(tag string) (RobotID, error) {
	return r.AddRequest(backend.Request{Tag: tag})
}

// AddRequest creates a robot for a full driver request. On failure the
// registry is unchanged and the returned id has an empty name.
func (r *Registry) AddRequest(req backend.Request) (RobotID, error) {
	if strings.TrimSpace(req.Tag) == "" {
		return RobotID{}, ErrEmptyTag
	}
	typ, err := r.factory.Resolve(req)
	if err != nil {
		r.log.Error("cannot add rigid body", "tag", req.Tag, "error", err)
		return RobotID{}, err
	}

	r.mu.Lock()
	if _, ok := r.findLocked(req.Tag); ok {
		r.mu.Unlock()
		r.log.Error("cannot add rigid body", "tag", req.Tag, "error", ErrDuplicateName)
		return RobotID{}, fmt.Errorf("%w: %s", ErrDuplicateName, req.Tag)
	}

	id := r.nextFreeLocked()
	b, err := r.factory.New(req)
	if err != nil {
		r.mu.Unlock()
		r.log.Error("backend construction failed", "tag", req.Tag, "type", typ, "error", err)
		return RobotID{}, err
	}
	rb := rigidbody.New(id, req.Tag, b, r.bodyOpts...)
	if err := rb.Init(); err != nil {
		r.mu.Unlock()
		r.log.Error("backend init failed", "tag", req.Tag, "type", typ, "error", err)
		return RobotID{}, err
	}
	if int(id) == len(r.slots) {
		r.slots = append(r.slots, rb)
	} else {
		r.slots[id] = rb
	}
	observers := r.observers
	r.mu.Unlock()

	rid := RobotID{NumericID: id, Name: req.Tag}
	r.log.Info("rigid body added", "id", id, "tag", req.Tag, "type", typ)
	for _, o := range observers {
		o.Added(rid, typ)
	}
	return rid, nil
}

// Remove deinitializes and unregisters a robot. Removing a vacant or
// unknown id is a no-op.
func (r *Registry) Remove(id uint32) error {
	r.mu.Lock()
	if int(id) >= len(r.slots) || r.slots[id] == nil {
		r.mu.Unlock()
		r.log.Debug("remove of vacant slot ignored", "id", id)
		return nil
	}
	rb := r.slots[id]
	r.slots[id] = nil
	observers := r.observers
	r.mu.Unlock()

	err := rb.Close()
	rid := RobotID{NumericID: id, Name: rb.Name()}
	for _, o := range observers {
		o.Removed(rid)
	}
	return err
}

// RemoveAll removes every robot, returning the first deinit error.
func (r *Registry) RemoveAll() error {
	var first error
	for _, id := range r.List() {
		if err := r.Remove(id.NumericID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Lookup returns the robot in slot id. Out-of-range and vacant ids log a
// warning and return false.
func (r *Registry) Lookup(id uint32) (*rigidbody.RigidBody, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.slots) {
		r.log.Warn("rigid body id out of range", "id", id, "size", len(r.slots))
		return nil, false
	}
	rb := r.slots[id]
	if rb == nil {
		r.log.Warn("rigid body slot is vacant", "id", id)
		return nil, false
	}
	return rb, true
}

// Get is Lookup returning ErrNotFound instead of a flag.
func (r *Registry) Get(id uint32) (*rigidbody.RigidBody, error) {
	rb, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rb, nil
}

// FindByName returns the robot registered under name.
func (r *Registry) FindByName(name string) (*rigidbody.RigidBody, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(name)
}

// Dispatch delivers a motion-capture sample to the robot named in it.
// Samples for unknown names, or refused by a full mailbox, return false.
func (r *Registry) Dispatch(s mocap.Sample) bool {
	rb, ok := r.FindByName(s.Name)
	if !ok {
		return false
	}
	return rb.SubmitPose(s)
}

func (r *Registry) findLocked(name string) (*rigidbody.RigidBody, bool) {
	for _, rb := range r.slots {
		if rb != nil && rb.Name() == name {
			return rb, true
		}
	}
	return nil, false
}

func (r *Registry) nextFreeLocked() uint32 {
	for i, rb := range r.slots {
		if rb == nil {
			return uint32(i)
		}
	}
	return uint32(len(r.slots))
}

// List returns the ids of registered robots in slot order.
func (r *Registry) List() []RobotID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RobotID, 0, len(r.slots))
	for i, rb := range r.slots {
		if rb != nil {
			out = append(out, RobotID{NumericID: uint32(i), Name: rb.Name()})
		}
	}
	return out
}

// ListString formats the registry as "<index>:<name> " per robot.
func (r *Registry) ListString() string {
	var b strings.Builder
	for _, id := range r.List() {
		fmt.Fprintf(&b, "%d:%s ", id.NumericID, id.Name)
	}
	return b.String()
}

// Bodies returns the registered robots in slot order.
func (r *Registry) Bodies() []*rigidbody.RigidBody {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*rigidbody.RigidBody, 0, len(r.slots))
	for _, rb := range r.slots {
		if rb != nil {
			out = append(out, rb)
		}
	}
	return out
}

// Each calls fn for every registered robot in slot order. The set of
// robots is fixed when Each starts.
func (r *Registry) Each(fn func(*rigidbody.RigidBody)) {
	for _, rb := range r.Bodies() {
		fn(rb)
	}
}

// Len returns the number of registered robots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rb := range r.slots {
		if rb != nil {
			n++
		}
	}
	return n
}

// Snapshots returns the last published snapshot of every robot.
func (r *Registry) Snapshots() []rigidbody.Snapshot {
	bodies := r.Bodies()
	out := make([]rigidbody.Snapshot, len(bodies))
	for i, rb := range bodies {
		out[i] = rb.Snapshot()
	}
	return out
}

// Home returns the home position of robot id.
func (r *Registry) Home(id uint32) (geom.Vector3, error) {
	rb, err := r.Get(id)
	if err != nil {
		return geom.Vector3{}, err
	}
	return rb.Snapshot().Home, nil
}
