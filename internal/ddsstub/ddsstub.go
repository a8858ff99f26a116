// Package ddsstub stands in for a DDS (Data Distribution Service) adapter.
// Real DDS participant/topic/QoS-policy management is out of scope here; this
// stub only proves the bus contract works for a second, independent local
// protocol endpoint alongside the MQTT stub and the bridge.
package ddsstub

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/octopus-mq/octopusmq/internal/bus"
)

// Adapter is a minimal DDS stand-in satisfying adapter.Adapter.
type Adapter struct {
	id     bus.AdapterID
	name   string
	queue  *bus.Queue
	logger zerolog.Logger
	recv   chan bus.Message
}

// New constructs a stub DDS adapter named name.
func New(name string, queue *bus.Queue, logger zerolog.Logger) *Adapter {
	return &Adapter{
		id:     bus.AdapterID(name),
		name:   name,
		queue:  queue,
		logger: logger,
		recv:   make(chan bus.Message, 128),
	}
}

func (a *Adapter) ID() bus.AdapterID { return a.id }
func (a *Adapter) Name() string      { return a.name }

func (a *Adapter) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (a *Adapter) Stop() {}

// Write simulates a local DDS DataWriter publishing a sample on topic.
func (a *Adapter) Write(topic string, payload []byte) {
	a.queue.Push(bus.Envelope{Origin: a.id, Message: bus.Message{Topic: topic, Payload: payload}})
}

// InjectPublish delivers a sample to this participant's local DataReader
// channel, dropping it if the reader isn't keeping up rather than blocking
// the bus dispatcher.
func (a *Adapter) InjectPublish(msg bus.Message) {
	select {
	case a.recv <- msg:
	default:
		a.logger.Warn().Str("adapter", a.name).Str("topic", msg.Topic).Msg("dds stub reader backlog full, dropping sample")
	}
}

// Read returns the channel of samples delivered to this participant.
func (a *Adapter) Read() <-chan bus.Message { return a.recv }
