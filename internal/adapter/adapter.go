// Package adapter defines the process-wide adapter interface and registry
// (§9 "Virtual-dispatch adapter interface" / "Global mutable state"). Every
// protocol implementation -- bridge, mqtt stub, dds stub -- satisfies the
// same three-operation interface so the bus dispatcher can fan out without
// knowing which concrete protocol it is talking to.
package adapter

import (
	"context"

	"github.com/octopus-mq/octopusmq/internal/bus"
)

// Adapter is the tagged interface every protocol implementation exposes to
// the process-wide pool: run, stop, inject_publish. No deeper hierarchy is
// required.
type Adapter interface {
	ID() bus.AdapterID
	Name() string
	Run(ctx context.Context) error
	Stop()
	InjectPublish(bus.Message)
}

// Pool is the process-wide adapter registry, constructed once by the control
// thread (cmd/octopusmq) and passed by reference to every adapter that needs
// to fan out to its peers.
type Pool struct {
	adapters []Adapter
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Add registers a (running) adapter with the pool.
func (p *Pool) Add(a Adapter) {
	p.adapters = append(p.adapters, a)
}

// Adapters returns every registered adapter in its own interface, for
// callers that need Run/Stop rather than just the bus.Fanout subset.
func (p *Pool) Adapters() []Adapter {
	out := make([]Adapter, len(p.adapters))
	copy(out, p.adapters)
	return out
}

// All returns every registered adapter, implementing bus.Fanout.
func (p *Pool) All() []bus.Fanout {
	out := make([]bus.Fanout, 0, len(p.adapters))
	for _, a := range p.adapters {
		out = append(out, a)
	}
	return out
}

// Get looks up an adapter by ID.
func (p *Pool) Get(id bus.AdapterID) (Adapter, bool) {
	for _, a := range p.adapters {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

// StopAll stops every registered adapter.
func (p *Pool) StopAll() {
	for _, a := range p.adapters {
		a.Stop()
	}
}
