package backend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

// ErrUnknownType is returned when no driver matches a tag or type.
var ErrUnknownType = errors.New("unknown robot type")

// Request describes the robot a driver is being built for.
type Request struct {
	Tag   string
	Type  string
	Spawn geom.Vector3
}

// Constructor builds a driver for a request.
type Constructor func(req Request) (Backend, error)

type registration struct {
	typ    string
	prefix string
	ctor   Constructor
}

// Factory maps robot types and tag prefixes to driver constructors.
type Factory struct {
	mu   sync.RWMutex
	regs map[string]registration
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{regs: make(map[string]registration)}
}

// Register adds a driver type. Tags starting with prefix select it when
// no explicit type is requested. An empty prefix disables prefix matching.
func (f *Factory) Register(typ, prefix string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[typ] = registration{typ: typ, prefix: prefix, ctor: ctor}
}

// Types returns the registered type names, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.regs))
	for typ := range f.regs {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the type name a request maps to.
func (f *Factory) Resolve(req Request) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if req.Type != "" {
		if _, ok := f.regs[req.Type]; ok {
			return req.Type, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}

	// longest prefix wins
	best := ""
	bestLen := -1
	for typ, r := range f.regs {
		if r.prefix == "" || !strings.HasPrefix(req.Tag, r.prefix) {
			continue
		}
		if len(r.prefix) > bestLen {
			best, bestLen = typ, len(r.prefix)
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no driver for tag %q", ErrUnknownType, req.Tag)
	}
	return best, nil
}

// New builds a driver for the request.
func (f *Factory) New(req Request) (Backend, error) {
	typ, err := f.Resolve(req)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	r := f.regs[typ]
	f.mu.RUnlock()

	req.Type = typ
	b, err := r.ctor(req)
	if err != nil {
		return nil, fmt.Errorf("create %s backend for %q: %w", typ, req.Tag, err)
	}
	return b, nil
}
