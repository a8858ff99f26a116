// Package metricsx exposes Prometheus-text counters and gauges for the
// bridge and bus subsystems, built on github.com/VictoriaMetrics/metrics
// (pkg/nspkt/listener.go's WritePrometheus method and
// pkg/atlas/server.go's /metrics HTTP endpoint).
package metricsx

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Bridge holds one adapter's bridge-subsystem counters, each labeled with
// the adapter name so multiple bridge adapters in one process stay
// distinguishable in scraped output.
type Bridge struct {
	set *metrics.Set

	PacketsSent     *metrics.Counter
	PacketsReceived *metrics.Counter
	ProtocolErrors  *metrics.Counter
	NetworkErrors   *metrics.Counter
	Nacks           *metrics.Counter
	Disconnects     *metrics.Counter
	PeersDiscovered *metrics.Gauge

	peersDiscovered int64
}

// NewBridge registers a fresh counter set for adapter name in set.
func NewBridge(set *metrics.Set, name string) *Bridge {
	label := fmt.Sprintf(`adapter=%q`, name)
	b := &Bridge{set: set}
	b.PacketsSent = set.NewCounter(fmt.Sprintf(`octopusmq_bridge_packets_sent_total{%s}`, label))
	b.PacketsReceived = set.NewCounter(fmt.Sprintf(`octopusmq_bridge_packets_received_total{%s}`, label))
	b.ProtocolErrors = set.NewCounter(fmt.Sprintf(`octopusmq_bridge_protocol_errors_total{%s}`, label))
	b.NetworkErrors = set.NewCounter(fmt.Sprintf(`octopusmq_bridge_network_errors_total{%s}`, label))
	b.Nacks = set.NewCounter(fmt.Sprintf(`octopusmq_bridge_nacks_sent_total{%s}`, label))
	b.Disconnects = set.NewCounter(fmt.Sprintf(`octopusmq_bridge_disconnects_total{%s}`, label))
	b.PeersDiscovered = set.NewGauge(fmt.Sprintf(`octopusmq_bridge_peers_discovered{%s}`, label), func() float64 {
		return float64(atomic.LoadInt64(&b.peersDiscovered))
	})
	return b
}

// SetPeersDiscovered updates the peers-discovered gauge.
func (b *Bridge) SetPeersDiscovered(n int) {
	atomic.StoreInt64(&b.peersDiscovered, int64(n))
}

// Bus holds the process-wide message_queue counters.
type Bus struct {
	Pushed  *metrics.Counter
	Dropped *metrics.Counter
	Drained *metrics.Counter
}

// NewBus registers the bus counter set.
func NewBus(set *metrics.Set) *Bus {
	return &Bus{
		Pushed:  set.NewCounter(`octopusmq_bus_messages_pushed_total`),
		Dropped: set.NewCounter(`octopusmq_bus_messages_dropped_total`),
		Drained: set.NewCounter(`octopusmq_bus_messages_drained_total`),
	}
}

// NewSet creates a fresh, independent metrics set (rather than the global
// default set) so tests can instantiate multiple adapters without collisions.
func NewSet() *metrics.Set {
	return metrics.NewSet()
}

// WritePrometheus writes set's metrics in Prometheus text exposition format,
// the same method pkg/nspkt/listener.go exposes on its own /metrics path.
func WritePrometheus(w io.Writer, set *metrics.Set) {
	set.WritePrometheus(w)
}
