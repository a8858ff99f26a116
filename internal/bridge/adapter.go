package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/octopus-mq/octopusmq/internal/bus"
	"github.com/octopus-mq/octopusmq/internal/metricsx"
	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

// Adapter wraps a Server in the process-wide adapter.Adapter contract,
// running the reactor on its own goroutine (the "dedicated thread" of §2)
// and bridging received publications into the shared message_queue.
type Adapter struct {
	id      bus.AdapterID
	name    string
	server  *Server
	queue   *bus.Queue
	metrics *metricsx.Bridge
	logger  zerolog.Logger

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewAdapter constructs a bridge adapter named name, publishing received
// messages onto queue and counting events in m.
func NewAdapter(name string, cfg Config, queue *bus.Queue, m *metricsx.Bridge, logger zerolog.Logger) *Adapter {
	a := &Adapter{
		id:      bus.AdapterID(name),
		name:    name,
		queue:   queue,
		metrics: m,
		logger:  logger,
	}
	s := NewServer(cfg, logger)
	s.OnPublish = a.onPublish
	s.OnProtocolError = a.onProtocolError
	s.OnNetworkError = a.onNetworkError
	a.server = s
	return a
}

func (a *Adapter) ID() bus.AdapterID { return a.id }
func (a *Adapter) Name() string      { return a.name }

// Run starts the reactor and blocks until ctx is cancelled or Stop is called.
func (a *Adapter) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	defer a.wg.Done()
	return a.server.Run(runCtx)
}

// Stop cancels the reactor's context and waits for Run to return.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		a.server.Stop()
		if a.cancel != nil {
			a.cancel()
		}
	})
	a.wg.Wait()
}

// InjectPublish forwards a bus message to every bridge peer (§4.6).
func (a *Adapter) InjectPublish(msg bus.Message) {
	a.server.Publish(PublishedMessage{
		QoS:            msg.QoS,
		Topic:          msg.Topic,
		OriginClientID: msg.OriginClientID,
		Payload:        msg.Payload,
	})
}

// onPublish is Server.OnPublish: every application message received from a
// bridge peer is pushed onto the shared queue, tagged with this adapter as
// origin so the bus fan-out skips delivering it back to the bridge.
func (a *Adapter) onPublish(_ phy.Addr, m wire.PublishedMessage) {
	a.queue.Push(bus.Envelope{
		Origin: a.id,
		Message: bus.Message{
			Topic:          m.Topic,
			Payload:        m.Payload,
			QoS:            m.QoS,
			OriginClientID: m.OriginClientID,
		},
	})
}

func (a *Adapter) onProtocolError(err *ProtocolError) {
	if a.metrics != nil {
		a.metrics.ProtocolErrors.Inc()
	}
	a.logger.Error().Str("adapter", a.name).Err(err).Msg("bridge protocol error")
}

func (a *Adapter) onNetworkError(err error) {
	if a.metrics != nil {
		a.metrics.NetworkErrors.Inc()
	}
	a.logger.Error().Str("adapter", a.name).Err(err).Msg("bridge network error")
}

// PeerSnapshot polls Server for its current peer states, updating the
// discovered-peers gauge, and is intended to be called from a periodic
// diagnostics loop in cmd/octopusmq.
func (a *Adapter) PeerSnapshot() {
	if a.metrics == nil {
		return
	}
	states := a.server.PeerStates()
	n := 0
	for _, st := range states {
		if st.String() == "discovered" {
			n++
		}
	}
	a.metrics.SetPeersDiscovered(n)
}

// PollInterval is how often cmd/octopusmq refreshes the peers-discovered
// gauge.
const PollInterval = 5 * time.Second
