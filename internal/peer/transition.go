package peer

// Transitions implementing §4.3. These are thin, named wrappers around State
// assignment so that bridge.Server's dispatch code reads as a state machine
// rather than scattered assignments, and so tests can assert on invariant 4
// ("no state transition produces discovered without a prior probe").

// OnSendProbe transitions undiscovered -> discovery_requested.
func (c *Conn) OnSendProbe() {
	if c.State == Undiscovered {
		c.State = DiscoveryRequested
	}
}

// OnRecvProbe transitions {undiscovered, discovery_requested, disconnected}
// -> discovered (the responder side of both first-contact and the
// simultaneous-open tie-break, where both sides act as responder).
func (c *Conn) OnRecvProbe() {
	c.State = Discovered
}

// OnRecvProbeAck transitions discovery_requested -> discovered.
func (c *Conn) OnRecvProbeAck() {
	if c.State == DiscoveryRequested {
		c.State = Discovered
	}
}

// OnRecvDisconnect transitions discovered -> disconnected (after the caller
// sends disconnect_ack).
func (c *Conn) OnRecvDisconnect() {
	c.State = Disconnected
}

// OnNackBudgetExhausted transitions any state -> disconnected.
func (c *Conn) OnNackBudgetExhausted() {
	c.State = Disconnected
}

// OnHeartbeatTimeout transitions discovered -> disconnected when heartbeats
// have been missing for longer than heartbeat + acknowledge*max_nacks.
func (c *Conn) OnHeartbeatTimeout() {
	if c.State == Discovered {
		c.State = Disconnected
	}
}
