package phy

import "testing"

func TestInterfaceDerived(t *testing.T) {
	ip, err := ParseIP("10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	mask, err := ParseIP("255.255.255.0")
	if err != nil {
		t.Fatal(err)
	}
	i := Interface{Name: "eth0", IP: ip, Netmask: mask}

	net, _ := ParseIP("10.0.0.0")
	bcast, _ := ParseIP("10.0.0.255")
	hmin, _ := ParseIP("10.0.0.1")
	hmax, _ := ParseIP("10.0.0.254")

	if i.Net() != net {
		t.Errorf("net = %s, want %s", IPString(i.Net()), IPString(net))
	}
	if i.Broadcast() != bcast {
		t.Errorf("broadcast = %s, want %s", IPString(i.Broadcast()), IPString(bcast))
	}
	if i.HostMin() != hmin {
		t.Errorf("host_min = %s, want %s", IPString(i.HostMin()), IPString(hmin))
	}
	if i.HostMax() != hmax {
		t.Errorf("host_max = %s, want %s", IPString(i.HostMax()), IPString(hmax))
	}
	if !i.Contains(net) || !i.Contains(bcast) {
		t.Error("Contains should include network and broadcast addresses")
	}
	other, _ := ParseIP("10.0.1.1")
	if i.Contains(other) {
		t.Error("Contains should reject addresses outside the network")
	}
}

func TestAnyInterface(t *testing.T) {
	i := Interface{Name: AnyInterface}
	if !i.IsAny() {
		t.Error("expected IsAny")
	}
	ip, _ := ParseIP("8.8.8.8")
	if !i.Contains(ip) {
		t.Error("any interface should contain every address")
	}
}

func TestAddrRoundTrip(t *testing.T) {
	a := Addr{IP: mustIP(t, "192.168.1.1"), Port: 9000}
	rt := FromNetipAddrPort(a.NetipAddrPort())
	if rt != a {
		t.Errorf("round trip mismatch: got %+v, want %+v", rt, a)
	}
}

func mustIP(t *testing.T, s string) uint32 {
	t.Helper()
	ip, err := ParseIP(s)
	if err != nil {
		t.Fatal(err)
	}
	return ip
}
