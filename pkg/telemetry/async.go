package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

// DefaultQueueSize is the Async queue depth used when none is given.
const DefaultQueueSize = 1024

// Async runs a sink on its own goroutine. Calls enqueue and return at
// once; when the queue is full frames are dropped and counted. Every other
// event is rare and important, so those wait for room instead.
type Async struct {
	inner  Sink
	queue  chan func()
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

// NewAsync starts a worker that feeds inner. size <= 0 means
// DefaultQueueSize.
func NewAsync(name string, inner Sink, size int) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		inner:  inner,
		queue:  make(chan func(), size),
		logger: log.Component("telemetry").With("sink", name),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for fn := range a.queue {
		a.call(fn)
	}
}

func (a *Async) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("sink panicked", "panic", r)
		}
	}()
	fn()
}

// enqueue hands fn to the worker. With drop set a full queue discards fn.
func (a *Async) enqueue(fn func(), drop bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	if !drop {
		a.queue <- fn
		return
	}
	select {
	case a.queue <- fn:
	default:
		if a.dropped.Add(1)%1000 == 1 {
			a.logger.Warn("queue full, dropping frames", "dropped", a.dropped.Load())
		}
	}
}

func (a *Async) Frame(s rigidbody.Snapshot) {
	a.enqueue(func() { a.inner.Frame(s) }, true)
}

func (a *Async) StateChanged(t rigidbody.Transition) {
	a.enqueue(func() { a.inner.StateChanged(t) }, false)
}

func (a *Async) Summary(s scheduler.Stats) {
	a.enqueue(func() { a.inner.Summary(s) }, false)
}

func (a *Async) Shutdown(r scheduler.Report) {
	a.enqueue(func() { a.inner.Shutdown(r) }, false)
}

func (a *Async) Added(id fleet.RobotID, typ string) {
	if o, ok := a.inner.(fleet.Observer); ok {
		a.enqueue(func() { o.Added(id, typ) }, false)
	}
}

func (a *Async) Removed(id fleet.RobotID) {
	if o, ok := a.inner.(fleet.Observer); ok {
		a.enqueue(func() { o.Removed(id) }, false)
	}
}

// Dropped returns how many frames were discarded.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events, delivers what is queued and waits for the
// worker to finish.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}

var (
	_ Sink           = (*Async)(nil)
	_ fleet.Observer = (*Async)(nil)
)
