// Package config loads and validates the OctopusMQ settings file: a single
// JSON document describing every protocol adapter this process should run.
// Validation is performed by hand, the same way pkg/atlas/config.go and
// pkg/atlas/server.go validate their own JSON-derived configuration
// elsewhere in this codebase's lineage: domain-specific shape checks like
// "this unicast endpoint must lie inside that named interface's network"
// have no generic validator that fits, so this is deliberately hand-written.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/octopus-mq/octopusmq/internal/bridge"
	"github.com/octopus-mq/octopusmq/internal/phy"
)

// File is the top-level settings document.
type File struct {
	Adapters []AdapterFile `json:"adapters"`
	Logging  LoggingFile   `json:"logging"`
}

// AdapterFile is one adapter's as-written JSON configuration.
type AdapterFile struct {
	Name        string           `json:"name,omitempty"`
	Protocol    string           `json:"protocol"`
	Interface   string           `json:"interface"`
	Port        uint16           `json:"port"`
	WireVersion uint8            `json:"wire_version,omitempty"`
	Discovery   *DiscoveryFile   `json:"discovery,omitempty"`
	Timeouts    *TimeoutsFile    `json:"timeouts,omitempty"`
}

// DiscoveryFile is the as-written discovery block, present only for
// protocol == "bridge".
type DiscoveryFile struct {
	Mode      string   `json:"mode"`
	Endpoints []string `json:"endpoints,omitempty"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Group     string   `json:"group,omitempty"`
	Hops      uint8    `json:"hops,omitempty"`
	SendPort  uint16   `json:"send_port,omitempty"`
}

// TimeoutsFile overrides the §3 default timers; zero fields keep the default.
type TimeoutsFile struct {
	DelayMS       uint32 `json:"delay_ms,omitempty"`
	DiscoveryMS   uint32 `json:"discovery_ms,omitempty"`
	AcknowledgeMS uint32 `json:"acknowledge_ms,omitempty"`
	HeartbeatMS   uint32 `json:"heartbeat_ms,omitempty"`
	RescanMS      uint32 `json:"rescan_ms,omitempty"`
}

// LoggingFile configures internal/logging.
type LoggingFile struct {
	Level     string `json:"level,omitempty"`
	File      string `json:"file,omitempty"`
	Timestamp string `json:"timestamp,omitempty"` // "absolute" (default) or "relative"
}

// Resolved is the fully validated, ready-to-run configuration.
type Resolved struct {
	Bridges []bridge.Config
	MQTT    []string
	DDS     []string
	Logging LoggingFile
}

// InterfaceLister is the injected interface-enumeration seam: production
// code passes phy.SystemLister, tests pass a fixed list.
type InterfaceLister = phy.Lister

// Load reads, parses and validates path, resolving interface names via
// lister -- the injected interface-discovery seam declared in SPEC_FULL.md
// §6.1, backed by phy.SystemLister in production and fakeable in tests.
func Load(path string, lister InterfaceLister) (*Resolved, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(f.Adapters) == 0 {
		return nil, fmt.Errorf("config: %s declares no adapters", path)
	}

	ifs, err := lister()
	if err != nil {
		return nil, fmt.Errorf("config: enumerate interfaces: %w", err)
	}

	out := &Resolved{Logging: f.Logging}
	// bindings already claimed, for collision detection; a "*" or loopback
	// bind ("wide") collides with every other bind on the same port.
	var bindings []struct {
		key  string
		port uint16
		wide bool
		name string
	}

	for i, a := range f.Adapters {
		name := a.Name
		iface, err := phy.Find(ifs, a.Interface)
		if a.Interface == "" {
			return nil, fmt.Errorf("config: adapter %d: missing required field \"interface\"", i)
		}
		if err != nil {
			return nil, fmt.Errorf("config: adapter %d (%s): %w", i, nameOr(name, "unnamed"), err)
		}
		if a.Port == 0 {
			return nil, fmt.Errorf("config: adapter %d: missing required field \"port\"", i)
		}
		if name == "" {
			name = fmt.Sprintf("[%s:%d] %s", a.Interface, a.Port, a.Protocol)
		}

		bindKey := fmt.Sprintf("%s:%d", bindIP(iface), a.Port)
		wide := iface.IsAny() || phy.IsLoopback(iface.IP)
		for _, b := range bindings {
			if b.port == a.Port && (b.key == bindKey || b.wide || wide) {
				return nil, fmt.Errorf("config: adapter %q binds %s, colliding with %s claimed by adapter %q", name, bindKey, b.key, b.name)
			}
		}
		bindings = append(bindings, struct {
			key  string
			port uint16
			wide bool
			name string
		}{bindKey, a.Port, wide, name})

		switch a.Protocol {
		case "bridge":
			bc, err := resolveBridge(name, a, iface)
			if err != nil {
				return nil, err
			}
			out.Bridges = append(out.Bridges, bc)
		case "mqtt":
			out.MQTT = append(out.MQTT, name)
		case "dds":
			out.DDS = append(out.DDS, name)
		case "":
			return nil, fmt.Errorf("config: adapter %q: missing required field \"protocol\"", name)
		default:
			return nil, fmt.Errorf("config: adapter %q: unknown protocol %q", name, a.Protocol)
		}
	}
	return out, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func bindIP(iface phy.Interface) string {
	if iface.IsAny() {
		return "*"
	}
	return phy.IPString(iface.IP)
}

func resolveBridge(name string, a AdapterFile, iface phy.Interface) (bridge.Config, error) {
	if a.Discovery == nil {
		return bridge.Config{}, fmt.Errorf("config: bridge adapter %q: missing required \"discovery\" block", name)
	}
	if a.WireVersion != 0 {
		if err := checkWireVersionCompat(a.WireVersion); err != nil {
			return bridge.Config{}, fmt.Errorf("config: bridge adapter %q: %w", name, err)
		}
	}

	dc, err := resolveDiscovery(*a.Discovery, iface)
	if err != nil {
		return bridge.Config{}, fmt.Errorf("config: bridge adapter %q: %w", name, err)
	}

	cfg := bridge.Config{
		Name:      name,
		Interface: iface,
		Port:      a.Port,
		Discovery: dc,
		Timeouts:  resolveTimeouts(a.Timeouts),
	}

	if _, err := cfg.EffectiveSendPort(); err != nil {
		return bridge.Config{}, fmt.Errorf("config: bridge adapter %q: %w", name, err)
	}
	if cfg.Discovery.Mode == bridge.DiscoveryUnicast {
		if _, err := cfg.UnicastEndpoints(); err != nil {
			return bridge.Config{}, fmt.Errorf("config: bridge adapter %q: %w", name, err)
		}
	}
	return cfg, nil
}

func resolveDiscovery(d DiscoveryFile, iface phy.Interface) (bridge.DiscoveryConfig, error) {
	dc := bridge.DiscoveryConfig{SendPort: d.SendPort, Hops: d.Hops}
	switch strings.ToLower(d.Mode) {
	case "unicast":
		dc.Mode = bridge.DiscoveryUnicast
		if len(d.Endpoints) > 0 {
			for _, e := range d.Endpoints {
				ip, err := phy.ParseIP(e)
				if err != nil {
					return dc, fmt.Errorf("discovery.endpoints: %w", err)
				}
				dc.Endpoints = append(dc.Endpoints, ip)
			}
		} else if d.From != "" || d.To != "" {
			from, err := phy.ParseIP(d.From)
			if err != nil {
				return dc, fmt.Errorf("discovery.from: %w", err)
			}
			to, err := phy.ParseIP(d.To)
			if err != nil {
				return dc, fmt.Errorf("discovery.to: %w", err)
			}
			dc.From, dc.To, dc.HasRange = from, to, true
		}
	case "multicast":
		dc.Mode = bridge.DiscoveryMulticast
		if d.Group == "" {
			return dc, fmt.Errorf("discovery.group is required for multicast mode")
		}
		group, err := phy.ParseIP(d.Group)
		if err != nil {
			return dc, fmt.Errorf("discovery.group: %w", err)
		}
		dc.Group = group
	case "broadcast":
		dc.Mode = bridge.DiscoveryBroadcast
		if iface.IsAny() {
			return dc, fmt.Errorf("discovery.mode \"broadcast\" requires a concrete interface, not \"*\"")
		}
	default:
		return dc, fmt.Errorf("discovery.mode: unknown mode %q", d.Mode)
	}
	return dc, nil
}

func resolveTimeouts(t *TimeoutsFile) bridge.Timeouts {
	d := bridge.DefaultTimeouts()
	if t == nil {
		return d
	}
	return bridge.Timeouts{
		Delay:       msOr(t.DelayMS, d.Delay),
		Discovery:   msOr(t.DiscoveryMS, d.Discovery),
		Acknowledge: msOr(t.AcknowledgeMS, d.Acknowledge),
		Heartbeat:   msOr(t.HeartbeatMS, d.Heartbeat),
		Rescan:      msOr(t.RescanMS, d.Rescan),
	}
}

func msOr(ms uint32, fallback time.Duration) time.Duration {
	if ms == 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// checkWireVersionCompat validates a configured wire version against the
// range this build supports, expressed as a semver comparison the way
// golang.org/x/mod/semver compares release tags: "v1.0.0" style strings built
// from the single-byte protocol version field.
func checkWireVersionCompat(configured uint8) error {
	want := fmt.Sprintf("v%d.0.0", configured)
	min := fmt.Sprintf("v%d.0.0", 1)
	max := fmt.Sprintf("v%d.0.0", 1)
	if semver.Compare(want, min) < 0 || semver.Compare(want, max) > 0 {
		return fmt.Errorf("wire_version %d is outside supported range [%d, %d]", configured, 1, 1)
	}
	return nil
}
