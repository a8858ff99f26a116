package mqttstub

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/octopus-mq/octopusmq/internal/bus"
)

func TestPublishLocalReachesQueue(t *testing.T) {
	q := bus.NewQueue(0)
	a := New("mqtt", q, zerolog.Nop())

	a.PublishLocal(bus.Message{Topic: "room/1", Payload: []byte("hi")})

	env, ok := q.PopTimed(context.Background())
	if !ok {
		t.Fatal("expected a queued envelope")
	}
	if env.Origin != bus.AdapterID("mqtt") || env.Message.Topic != "room/1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestInjectPublishRecordsAndBounds(t *testing.T) {
	q := bus.NewQueue(0)
	a := New("mqtt", q, zerolog.Nop())

	for i := 0; i < deliveredBacklog+10; i++ {
		a.InjectPublish(bus.Message{Topic: "t"})
	}

	got := a.Delivered()
	if len(got) != deliveredBacklog {
		t.Fatalf("delivered backlog = %d, want %d", len(got), deliveredBacklog)
	}
}

func TestIDAndName(t *testing.T) {
	q := bus.NewQueue(0)
	a := New("mqtt-1", q, zerolog.Nop())
	if a.ID() != bus.AdapterID("mqtt-1") {
		t.Fatalf("ID() = %q", a.ID())
	}
	if a.Name() != "mqtt-1" {
		t.Fatalf("Name() = %q", a.Name())
	}
}
