package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/octopus-mq/octopusmq/internal/bridge"
	"github.com/octopus-mq/octopusmq/internal/phy"
)

func fakeLister(ifs ...phy.Interface) phy.Lister {
	return func() ([]phy.Interface, error) { return ifs, nil }
}

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBridgeAdapter(t *testing.T) {
	eth0 := phy.Interface{Name: "eth0", IP: 0x0a000001, Netmask: 0xffffff00}
	path := writeTemp(t, `{
		"adapters": [
			{
				"name": "lan-bridge",
				"protocol": "bridge",
				"interface": "eth0",
				"port": 9999,
				"discovery": {"mode": "unicast", "endpoints": ["10.0.0.2"], "send_port": 9999}
			}
		]
	}`)

	resolved, err := Load(path, fakeLister(eth0))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(resolved.Bridges) != 1 {
		t.Fatalf("expected 1 bridge adapter, got %d", len(resolved.Bridges))
	}
	got := resolved.Bridges[0]
	if got.Name != "lan-bridge" || got.Discovery.Mode != bridge.DiscoveryUnicast {
		t.Fatalf("unexpected resolved config: %+v", got)
	}
}

func TestLoadDefaultsName(t *testing.T) {
	eth0 := phy.Interface{Name: "eth0", IP: 0x0a000001, Netmask: 0xffffff00}
	path := writeTemp(t, `{
		"adapters": [
			{"protocol": "mqtt", "interface": "eth0", "port": 1883}
		]
	}`)
	resolved, err := Load(path, fakeLister(eth0))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(resolved.MQTT) != 1 || resolved.MQTT[0] != "[eth0:1883] mqtt" {
		t.Fatalf("unexpected default name: %+v", resolved.MQTT)
	}
}

func TestLoadRejectsBindingCollision(t *testing.T) {
	eth0 := phy.Interface{Name: "eth0", IP: 0x0a000001, Netmask: 0xffffff00}
	path := writeTemp(t, `{
		"adapters": [
			{"name": "a", "protocol": "mqtt", "interface": "eth0", "port": 1883},
			{"name": "b", "protocol": "dds", "interface": "eth0", "port": 1883}
		]
	}`)
	if _, err := Load(path, fakeLister(eth0)); err == nil {
		t.Fatal("expected binding collision error")
	}
}

func TestLoadRejectsLoopbackRecursion(t *testing.T) {
	lo := phy.Interface{Name: "lo0", IP: 0x7f000001, Netmask: 0xff000000}
	path := writeTemp(t, `{
		"adapters": [
			{
				"name": "lo-bridge",
				"protocol": "bridge",
				"interface": "lo0",
				"port": 9999,
				"discovery": {"mode": "unicast", "endpoints": ["127.0.0.1"]}
			}
		]
	}`)
	if _, err := Load(path, fakeLister(lo)); err == nil {
		t.Fatal("expected loopback recursion error")
	}
}

func TestLoadUnknownProtocol(t *testing.T) {
	eth0 := phy.Interface{Name: "eth0", IP: 0x0a000001, Netmask: 0xffffff00}
	path := writeTemp(t, `{"adapters": [{"protocol": "xmpp", "interface": "eth0", "port": 1}]}`)
	if _, err := Load(path, fakeLister(eth0)); err == nil {
		t.Fatal("expected unknown protocol error")
	}
}
