// Package mqttstub is a minimal stand-in for the local MQTT broker endpoint:
// full broker semantics (client sessions, retained messages, will messages,
// QoS 2 flows) are out of scope for this repository, but the broker's role
// in the bus contract -- publish in, publish out -- is still real and
// exercised end to end.
package mqttstub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/octopus-mq/octopusmq/internal/bus"
)

// Adapter is a minimal local-publish/local-deliver endpoint satisfying
// adapter.Adapter, standing in for an embedded MQTT broker.
type Adapter struct {
	id     bus.AdapterID
	name   string
	queue  *bus.Queue
	logger zerolog.Logger

	mu        sync.Mutex
	delivered []bus.Message // most recent locally-delivered messages, bounded

	done chan struct{}
}

const deliveredBacklog = 64

// New constructs a stub MQTT adapter named name, publishing locally-produced
// messages onto queue.
func New(name string, queue *bus.Queue, logger zerolog.Logger) *Adapter {
	return &Adapter{
		id:     bus.AdapterID(name),
		name:   name,
		queue:  queue,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (a *Adapter) ID() bus.AdapterID { return a.id }
func (a *Adapter) Name() string      { return a.name }

// Run blocks until ctx is cancelled; the stub has no socket of its own to
// serve, so it exists purely to participate in the adapter pool's lifecycle.
func (a *Adapter) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Stop signals any blocked callers of WaitForDelivery to give up.
func (a *Adapter) Stop() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

// PublishLocal simulates a local MQTT client publishing msg, pushing it onto
// the shared bus for fan-out to every other adapter (including the bridge).
func (a *Adapter) PublishLocal(msg bus.Message) {
	a.queue.Push(bus.Envelope{Origin: a.id, Message: msg})
}

// InjectPublish is called by the bus dispatcher for messages originating
// elsewhere (another adapter, or a bridge peer); the stub records them as if
// delivered to a local subscriber.
func (a *Adapter) InjectPublish(msg bus.Message) {
	a.mu.Lock()
	a.delivered = append(a.delivered, msg)
	if len(a.delivered) > deliveredBacklog {
		a.delivered = a.delivered[len(a.delivered)-deliveredBacklog:]
	}
	a.mu.Unlock()
	a.logger.Debug().Str("adapter", a.name).Str("topic", msg.Topic).Msg("delivered to local mqtt stub")
}

// Delivered returns a snapshot of the most recently delivered messages, for
// tests and diagnostics.
func (a *Adapter) Delivered() []bus.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]bus.Message, len(a.delivered))
	copy(out, a.delivered)
	return out
}
