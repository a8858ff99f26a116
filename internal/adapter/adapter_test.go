package adapter

import (
	"context"
	"testing"

	"github.com/octopus-mq/octopusmq/internal/bus"
)

type fakeAdapter struct {
	id       bus.AdapterID
	injected []bus.Message
	stopped  bool
}

func (f *fakeAdapter) ID() bus.AdapterID         { return f.id }
func (f *fakeAdapter) Name() string              { return string(f.id) }
func (f *fakeAdapter) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeAdapter) Stop()                     { f.stopped = true }
func (f *fakeAdapter) InjectPublish(m bus.Message) { f.injected = append(f.injected, m) }

func TestPoolAddGetAll(t *testing.T) {
	p := NewPool()
	a := &fakeAdapter{id: "a"}
	b := &fakeAdapter{id: "b"}
	p.Add(a)
	p.Add(b)

	if got, ok := p.Get("a"); !ok || got != a {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}
	if _, ok := p.Get("missing"); ok {
		t.Fatal("expected Get(missing) to fail")
	}
	if len(p.All()) != 2 {
		t.Fatalf("All() returned %d entries, want 2", len(p.All()))
	}
	if len(p.Adapters()) != 2 {
		t.Fatalf("Adapters() returned %d entries, want 2", len(p.Adapters()))
	}
}

func TestPoolStopAll(t *testing.T) {
	p := NewPool()
	a := &fakeAdapter{id: "a"}
	b := &fakeAdapter{id: "b"}
	p.Add(a)
	p.Add(b)

	p.StopAll()
	if !a.stopped || !b.stopped {
		t.Fatal("expected both adapters to be stopped")
	}
}
