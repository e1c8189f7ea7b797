// Package backendtest provides a recording backend for tests.
package backendtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
)

// Call is one recorded backend invocation.
type Call struct {
	Method   string
	Target   geom.Vector3
	Yaw      float64
	Height   float64
	Duration float64
	Relative bool
}

// Recorder records every call it receives. Errors can be injected per
// method name, and a method can be made to panic.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	errs    map[string]error
	panics  map[string]bool
	passive bool
	body    backend.Body
	samples int
	updates int
}

// New returns a controllable Recorder.
func New() *Recorder {
	return &Recorder{errs: make(map[string]error), panics: make(map[string]bool)}
}

// NewPassive returns a Recorder that reports itself non-controllable.
func NewPassive() *Recorder {
	r := New()
	r.passive = true
	return r
}

// Fail makes method return err from now on.
func (r *Recorder) Fail(method string, err error) {
	r.mu.Lock()
	r.errs[method] = err
	r.mu.Unlock()
}

// Panic makes method panic from now on.
func (r *Recorder) Panic(method string) {
	r.mu.Lock()
	r.panics[method] = true
	r.mu.Unlock()
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	err := r.errs[c.Method]
	p := r.panics[c.Method]
	r.mu.Unlock()
	if p {
		panic(fmt.Sprintf("backendtest: %s panicked", c.Method))
	}
	return err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Methods returns the recorded method names in order.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Method
	}
	return out
}

// Last returns the most recent call to method.
func (r *Recorder) Last(method string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Method == method {
			return r.calls[i], true
		}
	}
	return Call{}, false
}

// Count returns how many times method was called.
func (r *Recorder) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Body returns the body passed to OnInit.
func (r *Recorder) Body() backend.Body {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Updates returns how many OnUpdate calls were seen.
func (r *Recorder) Updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

// Samples returns how many OnMotionCapture calls were seen.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func (r *Recorder) OnInit(body backend.Body) error {
	r.mu.Lock()
	r.body = body
	r.mu.Unlock()
	return r.record(Call{Method: "OnInit"})
}

func (r *Recorder) OnDeinit() error {
	return r.record(Call{Method: "OnDeinit"})
}

// OnMotionCapture and OnUpdate are counted, not recorded, so they do
// not drown the command calls.
func (r *Recorder) OnMotionCapture(mocap.Sample) error {
	r.mu.Lock()
	r.samples++
	p := r.panics["OnMotionCapture"]
	err := r.errs["OnMotionCapture"]
	r.mu.Unlock()
	if p {
		panic("backendtest: OnMotionCapture panicked")
	}
	return err
}

func (r *Recorder) OnUpdate(time.Time) error {
	r.mu.Lock()
	r.updates++
	p := r.panics["OnUpdate"]
	err := r.errs["OnUpdate"]
	r.mu.Unlock()
	if p {
		panic("backendtest: OnUpdate panicked")
	}
	return err
}

func (r *Recorder) OnSetPosition(target geom.Vector3, yaw, duration float64, relative bool) error {
	return r.record(Call{Method: "OnSetPosition", Target: target, Yaw: yaw, Duration: duration, Relative: relative})
}

func (r *Recorder) OnSetVelocity(vel geom.Vector3, yawRate, duration float64, relative bool) error {
	return r.record(Call{Method: "OnSetVelocity", Target: vel, Yaw: yawRate, Duration: duration, Relative: relative})
}

func (r *Recorder) OnTakeoff(height, duration float64) error {
	return r.record(Call{Method: "OnTakeoff", Height: height, Duration: duration})
}

func (r *Recorder) OnLand(duration float64) error {
	return r.record(Call{Method: "OnLand", Duration: duration})
}

func (r *Recorder) OnEmergency() error {
	return r.record(Call{Method: "OnEmergency"})
}

func (r *Recorder) Controllable() bool { return !r.passive }

var _ backend.Backend = (*Recorder)(nil)
