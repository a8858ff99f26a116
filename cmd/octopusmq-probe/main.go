// Command octopusmq-probe sends bare bridge probe packets to one or more
// candidate addresses and reports whether each one answers with a
// probe_ack, independent of running a full adapter -- useful for diagnosing
// firewall/routing problems between two hosts. Grounded on
// cmd/r2-a2s-probe/main.go's concurrent ticker-and-waitgroup shape.
package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/octopus-mq/octopusmq/internal/phy"
	"github.com/octopus-mq/octopusmq/internal/wire"
)

var opt struct {
	Listen      string
	Connections int
	Timeout     time.Duration
	Interval    time.Duration
	Silent      bool
	Help        bool
}

func init() {
	pflag.StringVarP(&opt.Listen, "listen", "a", "0.0.0.0:0", "UDP listen address")
	pflag.DurationVarP(&opt.Timeout, "timeout", "t", 3*time.Second, "Amount of time to wait for a probe_ack")
	pflag.DurationVarP(&opt.Interval, "interval", "i", time.Second, "Interval to resend probes at")
	pflag.IntVarP(&opt.Connections, "connections", "c", 1, "Number of concurrent probes in flight")
	pflag.BoolVarP(&opt.Silent, "silent", "s", false, "Don't print a line per target")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() < 1 || opt.Help {
		fmt.Printf("usage: %s [options] ip:port...\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	targets, err := parseTargets(pflag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	laddr, err := net.ResolveUDPAddr("udp4", opt.Listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: invalid listen address: %v\n", err)
		os.Exit(2)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	acks := newAckRouter(conn)
	go acks.serve()

	queue := make(chan int)
	go func() {
		defer close(queue)
		for i := range targets {
			queue <- i
		}
	}()

	type result struct {
		idx int
		err error
	}
	results := make(chan result)

	var wg sync.WaitGroup
	for n := 0; n < opt.Connections; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				results <- result{i, probe(conn, targets[i], acks)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var fail bool
	for r := range results {
		if !opt.Silent {
			if r.err != nil {
				fmt.Fprintf(os.Stderr, "%s: error: %v\n", targets[r.idx], r.err)
			} else {
				fmt.Fprintf(os.Stderr, "%s: ok\n", targets[r.idx])
			}
		}
		if r.err != nil {
			fail = true
		}
	}
	if fail {
		os.Exit(1)
	}
}

// ackRouter demultiplexes incoming probe_ack datagrams by source address to
// whichever probe() call is currently waiting on that address.
type ackRouter struct {
	conn *net.UDPConn

	mu   sync.Mutex
	subs map[string]chan uint32
}

func newAckRouter(conn *net.UDPConn) *ackRouter {
	return &ackRouter{conn: conn, subs: make(map[string]chan uint32)}
}

func (r *ackRouter) serve() {
	buf := make([]byte, 1500)
	for {
		n, raddr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt, err := wire.Parse(append([]byte(nil), buf[:n]...))
		if err != nil || pkt.Header().Type != wire.TypeProbeAck {
			continue
		}
		r.mu.Lock()
		ch, ok := r.subs[raddr.String()]
		r.mu.Unlock()
		if ok {
			select {
			case ch <- pkt.Header().SequenceNumber:
			default:
			}
		}
	}
}

func (r *ackRouter) subscribe(addr *net.UDPAddr) (chan uint32, func()) {
	ch := make(chan uint32, 1)
	key := addr.String()
	r.mu.Lock()
	r.subs[key] = ch
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		delete(r.subs, key)
		r.mu.Unlock()
	}
}

func probe(conn *net.UDPConn, addr *net.UDPAddr, acks *ackRouter) error {
	ctx, cancel := context.WithTimeout(context.Background(), opt.Timeout)
	defer cancel()

	ch, unsubscribe := acks.subscribe(addr)
	defer unsubscribe()

	seq := uint32(1)
	local := conn.LocalAddr().(*net.UDPAddr)
	pkt := wire.NewProbe(seq, phy.IPFromBytes(ip4(local.IP)), uint16(local.Port))

	t := time.NewTicker(opt.Interval)
	defer t.Stop()

	if _, err := conn.WriteToUDP(pkt.Payload(), addr); err != nil {
		return fmt.Errorf("send probe: %w", err)
	}
	for {
		select {
		case got := <-ch:
			if got == seq {
				return nil
			}
		case <-t.C:
			if _, err := conn.WriteToUDP(pkt.Payload(), addr); err != nil {
				return fmt.Errorf("send probe: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func ip4(ip net.IP) [4]byte {
	v4 := ip.To4()
	var b [4]byte
	copy(b[:], v4)
	return b
}

func parseTargets(args []string) ([]*net.UDPAddr, error) {
	out := make([]*net.UDPAddr, len(args))
	for i, a := range args {
		ap, err := netip.ParseAddrPort(a)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", a, err)
		}
		out[i] = net.UDPAddrFromAddrPort(ap)
	}
	return out, nil
}
